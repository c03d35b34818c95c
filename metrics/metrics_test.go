package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/mohammadanang/scan-receiver/domain"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Observe(t *testing.T) {
	c := New()

	c.Observe(domain.UploadOutcome{Files: []domain.StoredFile{{Name: "a", Size: 10}, {Name: "b", Size: 5}}})
	c.Observe(domain.UploadOutcome{
		Files: []domain.StoredFile{{Name: "c", Size: 1}},
		Err:   domain.NewError(domain.KindWrite, 2, errors.New("disk full")),
	})
	c.Observe(domain.UploadOutcome{Err: domain.NewError(domain.KindValidation, 0, errors.New("bad"))})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.uploads.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.uploads.WithLabelValues("write")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.uploads.WithLabelValues("validation")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.files))
	assert.Equal(t, 16.0, testutil.ToFloat64(c.bytes))
}

func TestCollector_Handler(t *testing.T) {
	c := New()
	c.Observe(domain.UploadOutcome{Files: []domain.StoredFile{{Name: "a", Size: 1}}})

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `scan_uploads_total{result="ok"} 1`)
	assert.Contains(t, string(body), "scan_files_stored_total 1")
}

package domain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsUploadError(t *testing.T) {
	assert.Nil(t, AsUploadError(nil, 1))

	parse := NewError(KindParse, 0, errors.New("bad header"))
	got := AsUploadError(fmt.Errorf("wrapped: %w", parse), 3)
	require.NotNil(t, got)
	assert.Equal(t, KindParse, got.Kind)
	assert.Equal(t, 3, got.Part)
	assert.Zero(t, parse.Part, "original error is not mutated")

	keep := NewError(KindWrite, 2, errors.New("disk full"))
	assert.Same(t, keep, AsUploadError(keep, 5))

	got = AsUploadError(context.Canceled, 1)
	assert.Equal(t, KindCanceled, got.Kind)
	assert.ErrorIs(t, got, context.Canceled)

	got = AsUploadError(io.ErrUnexpectedEOF, 1)
	assert.Equal(t, KindDisconnect, got.Kind)
	assert.ErrorIs(t, got, io.ErrUnexpectedEOF)
}

func TestUploadError_Error(t *testing.T) {
	assert.Equal(t, "write error in part 2: disk full", NewError(KindWrite, 2, errors.New("disk full")).Error())
	assert.Equal(t, "validation error: missing boundary", NewError(KindValidation, 0, errors.New("missing boundary")).Error())
}

func TestErrorKind_ClientFault(t *testing.T) {
	assert.True(t, KindValidation.ClientFault())
	assert.True(t, KindParse.ClientFault())
	assert.True(t, KindDisconnect.ClientFault())
	assert.False(t, KindWrite.ClientFault())
	assert.False(t, KindCanceled.ClientFault())
}

func TestUploadOutcome(t *testing.T) {
	o := UploadOutcome{Files: []StoredFile{{Name: "a.pdf", Size: 3}, {Name: "b.pdf", Size: 4}}}
	assert.Equal(t, 2, o.Count())
	assert.Equal(t, int64(7), o.Bytes())
	assert.Equal(t, []string{"a.pdf", "b.pdf"}, o.Names())
	assert.Empty(t, UploadOutcome{}.Names())
}

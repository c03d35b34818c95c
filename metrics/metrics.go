// Package metrics exposes upload counters in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/mohammadanang/scan-receiver/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "scan"

// Collector tracks upload outcomes on its own registry so tests and
// multiple servers in one process do not clash.
type Collector struct {
	registry *prometheus.Registry
	uploads  *prometheus.CounterVec
	files    prometheus.Counter
	bytes    prometheus.Counter
}

func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Upload requests by result.",
		}, []string{"result"}),
		files: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_stored_total",
			Help:      "Files written completely under the storage root.",
		}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_written_total",
			Help:      "Bytes written to stored files.",
		}),
	}
	c.registry.MustRegister(
		c.uploads, c.files, c.bytes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Observe records one request. Files stored before a failure still count.
func (c *Collector) Observe(outcome domain.UploadOutcome) {
	result := "ok"
	if outcome.Err != nil {
		result = string(outcome.Err.Kind)
	}
	c.uploads.WithLabelValues(result).Inc()
	c.files.Add(float64(outcome.Count()))
	c.bytes.Add(float64(outcome.Bytes()))
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

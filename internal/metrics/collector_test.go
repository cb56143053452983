package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollectorCounters(t *testing.T) {
	c := New()

	c.IncObject("success", "photos")
	c.IncObject("success", "photos")
	c.IncObject("failed", "photos")
	c.AddBytes(1024)
	c.ObserveDuration(50 * time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.objectsTotal.WithLabelValues("success", "photos")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.objectsTotal.WithLabelValues("failed", "photos")))
	assert.Equal(t, 1024.0, testutil.ToFloat64(c.bytesTotal))
}

func TestCollectorWorkerGauge(t *testing.T) {
	c := New()

	c.WorkerStarted()
	c.WorkerStarted()
	assert.Equal(t, 2.0, testutil.ToFloat64(c.inflightWorkers))

	c.WorkerIdle()
	assert.Equal(t, 1.0, testutil.ToFloat64(c.inflightWorkers))
}

func TestCollectorsAreIndependent(t *testing.T) {
	a := New()
	b := New()

	a.IncObject("success", "photos")
	assert.Equal(t, 0.0, testutil.ToFloat64(b.objectsTotal.WithLabelValues("success", "photos")))
}

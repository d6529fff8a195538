package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.ConnectionBuilt()
		c.Subscription("error")
		c.SocketOpened()
		c.Published("new-notification", 3)
	})
}

func TestCollectorCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.ConnectionBuilt()
	c.ConnectionBuilt()
	c.ConnectionReused()
	c.Subscription("succeeded")
	c.SocketOpened()
	c.SocketOpened()
	c.SocketClosed()
	c.Published("new-notification", 4)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.connectionBuilds))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.connectionReuses))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.subscriptions.WithLabelValues("succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.brokerSockets))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.brokerPublished.WithLabelValues("new-notification")))
}

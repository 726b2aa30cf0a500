package core

import (
	"fmt"
	"io"

	"github.com/VictoriaMetrics/metrics"
	"github.com/puzpuzpuz/xsync/v3"
	gometrics "github.com/rcrowley/go-metrics"
)

// payloadSampleSize is the reservoir size of the per unit payload histogram
const payloadSampleSize = 512

// portSets holds the metric set of every listening port, keyed by core id
var portSets = xsync.NewMapOf[string, *metrics.Set]()

// WritePrometheus writes the metrics of all listening ports in Prometheus text format
func WritePrometheus(w io.Writer) {
	portSets.Range(func(_ string, set *metrics.Set) bool {
		set.WritePrometheus(w)
		return true
	})
}

// portMetrics are the Prometheus series of one port
type portMetrics struct {
	set               *metrics.Set
	sent              *metrics.Counter
	received          *metrics.Counter
	undelivered       *metrics.Counter
	handshakeFailures *metrics.Counter
}

func newPortMetrics(port string, units func() float64) *portMetrics {
	set := metrics.NewSet()
	label := fmt.Sprintf(`{port=%q}`, port)
	m := &portMetrics{
		set:               set,
		sent:              set.NewCounter("dport_messages_sent_total" + label),
		received:          set.NewCounter("dport_messages_received_total" + label),
		undelivered:       set.NewCounter("dport_send_undelivered_total" + label),
		handshakeFailures: set.NewCounter("dport_handshake_failures_total" + label),
	}
	set.NewGauge("dport_units"+label, units)
	return m
}

// unitMetrics are kept per connection and reported by Describe
type unitMetrics struct {
	sent     gometrics.Counter
	received gometrics.Counter
	errors   gometrics.Counter
	payload  gometrics.Histogram
}

func newUnitMetrics() *unitMetrics {
	return &unitMetrics{
		sent:     gometrics.NewCounter(),
		received: gometrics.NewCounter(),
		errors:   gometrics.NewCounter(),
		payload:  gometrics.NewHistogram(gometrics.NewUniformSample(payloadSampleSize)),
	}
}

package telemetry

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the sink handed to the partition adapter and the translator.
type Metrics struct {
	Elements     *prometheus.CounterVec
	Partitions   prometheus.Counter
	Broadcasts   prometheus.Counter
	SpilledBytes prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Elements: f.NewCounterVec(prometheus.CounterOpts{
			Name: "weft_elements_processed_total",
			Help: "Elements processed by the partition adapter, per transform.",
		}, []string{"transform"}),
		Partitions: f.NewCounter(prometheus.CounterOpts{
			Name: "weft_partitions_executed_total",
			Help: "Partition passes executed.",
		}),
		Broadcasts: f.NewCounter(prometheus.CounterOpts{
			Name: "weft_broadcast_materializations_total",
			Help: "Side input views materialized for broadcast.",
		}),
		SpilledBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "weft_spilled_bytes_total",
			Help: "Compressed bytes written to spill segments.",
		}),
	}
}

func Expose(port int) {
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		_ = http.ListenAndServe(fmt.Sprintf(":%d", port), nil)
	}()
}

package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var positionOperations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "poster",
	Subsystem: "position",
	Name:      "operations_total",
	Help:      "Poster position lifecycle operations broken down by operation and result.",
}, []string{"operation", "result"})

func recordOperation(op string, err error) {
	result := "ok"
	if err != nil {
		result = KindOf(err).String()
	}
	positionOperations.WithLabelValues(op, result).Inc()
}

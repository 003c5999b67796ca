package chatstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesStored = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chataudit",
		Subsystem: "store",
		Name:      "messages_stored_total",
		Help:      "Messages written to a backend.",
	}, []string{"backend"})

	messagesRetrieved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chataudit",
		Subsystem: "store",
		Name:      "messages_retrieved_total",
		Help:      "Messages read back from a backend.",
	}, []string{"backend"})

	messagesDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chataudit",
		Subsystem: "store",
		Name:      "messages_deleted_total",
		Help:      "Messages removed by cleanup filters.",
	}, []string{"backend"})

	validationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chataudit",
		Subsystem: "store",
		Name:      "validation_failures_total",
		Help:      "Messages rejected by schema validation.",
	})

	fallbackWrites = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chataudit",
		Subsystem: "store",
		Name:      "fallback_writes_total",
		Help:      "Messages buffered in the in-memory fallback store.",
	})
)

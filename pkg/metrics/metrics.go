package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reconcile flows, used as the "flow" label value.
const (
	FlowNewThread    = "new_thread"
	FlowAppend       = "append"
	FlowEdit         = "edit"
	FlowEditFallback = "edit_fallback"
	FlowNoThread     = "no_thread"
	FlowBadRequest   = "bad_request"
)

var (
	ReconcileTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "threadloom_reconcile_total",
		Help: "Reconcile invocations by resolved flow.",
	}, []string{"flow"})

	MessagesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "threadloom_messages_written_total",
		Help: "Messages inserted or overwritten by the mutation procedure.",
	})

	ThreadsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "threadloom_threads_created_total",
		Help: "Threads created by first user turns.",
	})

	LiveThreads = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "threadloom_live_threads",
		Help: "Threads currently in the live streaming state.",
	})

	StreamsReaped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "threadloom_streams_reaped_total",
		Help: "Stale live streams forced back to idle by the reaper.",
	})

	StreamChunks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "threadloom_stream_chunks_total",
		Help: "Chunks published to live streams.",
	})
)

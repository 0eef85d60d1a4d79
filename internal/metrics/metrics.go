package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// DefaultRegistry is exposed on the server's /metrics route
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		IntentResolutions, HealAttempts, HealOutcomes,
		LLMCalls, MemoryOperations, ConversationTurns,
		ActiveSessions, TTSDuration, Links,
	)
}

// IntentResolutions counts how each utterance was classified
var IntentResolutions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "homelink_intent_resolutions_total",
		Help: "Intent resolutions by path",
	},
	[]string{"path"}, // no_match | keyword | tiebreak | tiebreak_none | tiebreak_exhausted
)

// HealAttempts records LLM invocations per healing run
var HealAttempts = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "homelink_heal_attempts",
		Help:    "LLM invocations per healing run",
		Buckets: []float64{1, 2, 3, 4, 5, 8},
	},
)

// HealOutcomes counts how healing runs finished
var HealOutcomes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "homelink_heal_outcomes_total",
		Help: "Healing runs by outcome",
	},
	[]string{"outcome"}, // completed | failed | exhausted | error
)

// LLMCalls counts provider calls after the connectivity policy
var LLMCalls = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "homelink_llm_calls_total",
		Help: "LLM provider calls by status",
	},
	[]string{"status"}, // ok | timeout | error
)

// MemoryOperations counts memory store operations
var MemoryOperations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "homelink_memory_operations_total",
		Help: "Memory store operations by type",
	},
	[]string{"op"}, // store | forget | retrieve | mint
)

// ConversationTurns counts finished conversation turns
var ConversationTurns = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "homelink_conversation_turns_total",
		Help: "Conversation turns by result",
	},
	[]string{"result"}, // reply | memory_reply | fallback
)

// ActiveSessions is the size of the in-memory session table
var ActiveSessions = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "homelink_active_sessions",
		Help: "Sessions held in memory",
	},
)

// Links counts utterances handled by the orchestrator
var Links = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "homelink_links_total",
		Help: "Utterances handled by route",
	},
	[]string{"route"}, // handler | conversation | failed
)

// TTSDuration is the time spent in speech synthesis
var TTSDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "homelink_tts_duration_seconds",
		Help:    "Speech synthesis latency (seconds)",
		Buckets: prometheus.DefBuckets,
	},
)

// WritePrometheus writes the registry in the Prometheus text format
func WritePrometheus(w io.Writer) error {
	metrics, err := DefaultRegistry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range metrics {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}

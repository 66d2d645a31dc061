package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	stepDurationBuckets = []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120}
	contextTokenBuckets = []float64{256, 512, 1024, 2048, 4096, 8192, 16384, 32768}
)

// Metrics holds the Prometheus instruments for the agent. All methods are
// safe to call on a nil receiver.
type Metrics struct {
	ToolCallsTotal           *prometheus.CounterVec
	StepResultsTotal         *prometheus.CounterVec
	StepDuration             prometheus.Histogram
	WorkflowTransitionsTotal *prometheus.CounterVec
	ContextTokens            prometheus.Histogram
	KnowledgeDocuments       prometheus.Gauge
	ModelTokensTotal         *prometheus.CounterVec
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ToolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sceneforge_tool_calls_total",
			Help: "Tool invocations by tool and resulting status.",
		}, []string{"tool", "status"}),
		StepResultsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sceneforge_step_results_total",
			Help: "Plan step attempts by outcome.",
		}, []string{"outcome"}),
		StepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sceneforge_step_duration_seconds",
			Help:    "Wall time of a single step attempt.",
			Buckets: stepDurationBuckets,
		}),
		WorkflowTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sceneforge_workflow_transitions_total",
			Help: "Workflow transitions by destination phase.",
		}, []string{"phase"}),
		ContextTokens: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sceneforge_context_tokens",
			Help:    "Estimated tokens of assembled prompts.",
			Buckets: contextTokenBuckets,
		}),
		KnowledgeDocuments: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sceneforge_knowledge_documents",
			Help: "Documents held by the similarity index.",
		}),
		ModelTokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sceneforge_model_tokens_total",
			Help: "Tokens reported by the chat model, by kind.",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		m.ToolCallsTotal,
		m.StepResultsTotal,
		m.StepDuration,
		m.WorkflowTransitionsTotal,
		m.ContextTokens,
		m.KnowledgeDocuments,
		m.ModelTokensTotal,
	)
	return m
}

func (m *Metrics) RecordToolCall(tool, status string) {
	if m == nil {
		return
	}
	m.ToolCallsTotal.WithLabelValues(tool, status).Inc()
}

func (m *Metrics) RecordStepResult(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.StepResultsTotal.WithLabelValues(outcome).Inc()
	m.StepDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordTransition(phase string) {
	if m == nil {
		return
	}
	m.WorkflowTransitionsTotal.WithLabelValues(phase).Inc()
}

func (m *Metrics) RecordContextTokens(n int) {
	if m == nil {
		return
	}
	m.ContextTokens.Observe(float64(n))
}

func (m *Metrics) SetKnowledgeDocuments(n int) {
	if m == nil {
		return
	}
	m.KnowledgeDocuments.Set(float64(n))
}

func (m *Metrics) RecordModelTokens(prompt, completion int) {
	if m == nil {
		return
	}
	m.ModelTokensTotal.WithLabelValues("prompt").Add(float64(prompt))
	m.ModelTokensTotal.WithLabelValues("completion").Add(float64(completion))
}

package observability

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newBufferLogger(buf *bytes.Buffer, llmPath string) *Logger {
	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "msg",
		EncodeLevel: zapcore.LowercaseLevelEncoder,
		EncodeTime:  zapcore.ISO8601TimeEncoder,
	})
	core := zapcore.NewCore(enc, zapcore.AddSync(buf), zapcore.DebugLevel)
	return FromZap(zap.New(core), llmPath)
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	return out
}

func TestLogger_StampsChatAndRun(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf, "").With("chat-1", "run-9")

	l.LogToolCall("create_entity", map[string]any{"kind": "box"})
	l.LogStep(2, "failed", 2, "boom")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)

	assert.Equal(t, "tool_call", lines[0]["type"])
	assert.Equal(t, "chat-1", lines[0]["chat_id"])
	assert.Equal(t, "run-9", lines[0]["run_id"])
	assert.Equal(t, "info", lines[0]["level"])

	assert.Equal(t, "warn", lines[1]["level"])
	data := lines[1]["data"].(map[string]any)
	assert.Equal(t, "boom", data["error"])
}

func TestLogger_NilIsSafe(t *testing.T) {
	var l *Logger
	assert.NotPanics(t, func() {
		l.LogTransition("idle", "analyzing")
		l.With("a", "b").LogCost(1, 2, "m")
		_ = l.Zap()
		_ = l.Sync()
	})
}

func TestLogger_LLMTranscriptRotates(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "llm.jsonl")
	l := newBufferLogger(&buf, path)
	l.maxSize = 10

	l.LogLLM("prompt one", "response one", nil)
	l.LogLLM("prompt two", "response two", nil)

	current, err := os.ReadFile(path)
	require.NoError(t, err)
	old, err := os.ReadFile(path + ".old")
	require.NoError(t, err)

	assert.Contains(t, string(current), "response two")
	assert.Contains(t, string(old), "response one")
}

func TestNewLogger_Levels(t *testing.T) {
	l, err := NewLogger("debug", "stderr")
	require.NoError(t, err)
	assert.True(t, l.Zap().Core().Enabled(zapcore.DebugLevel))

	l, err = NewLogger("nonsense")
	require.NoError(t, err)
	assert.True(t, l.Zap().Core().Enabled(zapcore.InfoLevel))
	assert.False(t, l.Zap().Core().Enabled(zapcore.DebugLevel))
}

func TestInitMetrics_RecordsValues(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := InitMetrics(reg)

	m.RecordToolCall("create_entity", "success")
	m.RecordToolCall("create_entity", "success")
	m.RecordStepResult("failure", 1500*time.Millisecond)
	m.RecordTransition("executing")
	m.RecordContextTokens(900)
	m.SetKnowledgeDocuments(12)
	m.RecordModelTokens(100, 20)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ToolCallsTotal.WithLabelValues("create_entity", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StepResultsTotal.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WorkflowTransitionsTotal.WithLabelValues("executing")))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.KnowledgeDocuments))
	assert.Equal(t, 20.0, testutil.ToFloat64(m.ModelTokensTotal.WithLabelValues("completion")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"sceneforge_tool_calls_total",
		"sceneforge_step_results_total",
		"sceneforge_step_duration_seconds",
		"sceneforge_workflow_transitions_total",
		"sceneforge_context_tokens",
		"sceneforge_knowledge_documents",
		"sceneforge_model_tokens_total",
	} {
		assert.True(t, names[want], "missing metric %s", want)
	}
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordToolCall("x", "error")
		m.RecordStepResult("success", time.Second)
		m.SetKnowledgeDocuments(3)
	})
}

func TestStatus_RoundTripAndFormat(t *testing.T) {
	SetStatus("executing", 3, "Create the gearbox housing with four bolt holes")
	defer SetStatus("idle", -1, "")

	s := GetStatus()
	assert.Equal(t, "executing", s.Phase)
	assert.Equal(t, 3, s.Step)

	line := FormatStatus(s, 60, 0)
	assert.Contains(t, line, "EXECUTING")
	assert.Contains(t, line, "...")
	assert.Contains(t, line, radarFrames[0])

	idle := FormatStatus(StatusSnapshot{Phase: "idle", Step: -1}, 120, 1)
	assert.Contains(t, idle, "Waiting...")
	assert.False(t, strings.Contains(idle, radarFrames[1]))
}

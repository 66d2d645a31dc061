package observability

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EventType defines the category of the log event.
type EventType string

const (
	EventTypeReasoning   EventType = "reasoning"
	EventTypeToolCall    EventType = "tool_call"
	EventTypeToolResult  EventType = "tool_result"
	EventTypePolicyCheck EventType = "policy_check"
	EventTypeCost        EventType = "cost"
	EventTypePlan        EventType = "plan"
	EventTypeStep        EventType = "step"
	EventTypeTransition  EventType = "transition"
	EventTypeKnowledge   EventType = "knowledge"
	EventTypeLLM         EventType = "llm"
)

// Event represents a structured log entry.
type Event struct {
	Type      EventType `json:"type"`
	ChatID    string    `json:"chat_id,omitempty"`
	RunID     string    `json:"run_id,omitempty"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Logger emits agent events through zap. LLM exchanges are additionally
// appended to a JSONL file that is rotated once it grows past maxSize.
//
// A nil *Logger is valid and discards everything.
type Logger struct {
	zap        *zap.Logger
	chatID     string
	runID      string
	llmLogPath string
	maxSize    int64
	fileMu     *sync.Mutex
}

// NewLogger builds a JSON logger writing to the given output paths
// ("stdout", "stderr" or files). Unknown levels fall back to info.
func NewLogger(level string, outputs ...string) (*Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	zapCfg := zap.Config{
		Level:    zap.NewAtomicLevelAt(lvl),
		Encoding: "json",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.MillisDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}

	z, err := zapCfg.Build()
	if err != nil {
		return nil, err
	}
	return FromZap(z, filepath.Join("logs", "llm.jsonl")), nil
}

// FromZap wraps an existing zap logger. An empty llmLogPath disables the
// LLM transcript file.
func FromZap(z *zap.Logger, llmLogPath string) *Logger {
	if z == nil {
		z = zap.NewNop()
	}
	return &Logger{
		zap:        z,
		llmLogPath: llmLogPath,
		maxSize:    10 * 1024 * 1024, // 10MB
		fileMu:     &sync.Mutex{},
	}
}

func NopLogger() *Logger {
	return FromZap(zap.NewNop(), "")
}

// Zap exposes the underlying zap logger for packages that log directly.
func (l *Logger) Zap() *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l.zap
}

// With returns a logger that stamps every event with the chat and run ids.
func (l *Logger) With(chatID, runID string) *Logger {
	if l == nil {
		return nil
	}
	cp := *l
	if chatID != "" {
		cp.chatID = chatID
	}
	if runID != "" {
		cp.runID = runID
	}
	return &cp
}

func (l *Logger) Sync() error {
	if l == nil {
		return nil
	}
	return l.zap.Sync()
}

// Log emits a structured event.
func (l *Logger) Log(evt Event) {
	l.log(zapcore.InfoLevel, evt)
}

func (l *Logger) log(level zapcore.Level, evt Event) {
	if l == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	if evt.ChatID == "" {
		evt.ChatID = l.chatID
	}
	if evt.RunID == "" {
		evt.RunID = l.runID
	}

	fields := []zap.Field{zap.String("type", string(evt.Type))}
	if evt.ChatID != "" {
		fields = append(fields, zap.String("chat_id", evt.ChatID))
	}
	if evt.RunID != "" {
		fields = append(fields, zap.String("run_id", evt.RunID))
	}
	fields = append(fields, zap.Any("data", evt.Data))

	if ce := l.zap.Check(level, string(evt.Type)); ce != nil {
		ce.Write(fields...)
	}

	if evt.Type == EventTypeLLM && l.llmLogPath != "" {
		data, err := json.Marshal(evt)
		if err != nil {
			l.zap.Warn("failed to marshal llm event", zap.Error(err))
			return
		}
		l.writeToFile(data)
	}
}

func (l *Logger) writeToFile(data []byte) {
	l.fileMu.Lock()
	defer l.fileMu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.llmLogPath), 0755); err != nil {
		l.zap.Warn("failed to create log directory", zap.Error(err))
		return
	}

	info, err := os.Stat(l.llmLogPath)
	if err == nil && info.Size() > l.maxSize {
		l.rotateLogs()
	}

	f, err := os.OpenFile(l.llmLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		l.zap.Warn("failed to open log file", zap.Error(err))
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		l.zap.Warn("failed to write to log file", zap.Error(err))
	}
}

func (l *Logger) rotateLogs() {
	// keep one .old file
	oldPath := l.llmLogPath + ".old"
	_ = os.Remove(oldPath)
	_ = os.Rename(l.llmLogPath, oldPath)
}

// Helper methods for common events

func (l *Logger) LogReasoning(content string) {
	l.log(zapcore.DebugLevel, Event{
		Type: EventTypeReasoning,
		Data: map[string]string{"content": content},
	})
}

func (l *Logger) LogToolCall(tool string, args any) {
	l.Log(Event{
		Type: EventTypeToolCall,
		Data: map[string]any{
			"tool": tool,
			"args": args,
		},
	})
}

func (l *Logger) LogToolResult(tool, status string, output any) {
	level := zapcore.InfoLevel
	if status != "success" {
		level = zapcore.WarnLevel
	}
	l.log(level, Event{
		Type: EventTypeToolResult,
		Data: map[string]any{
			"tool":   tool,
			"status": status,
			"output": output,
		},
	})
}

func (l *Logger) LogPolicyCheck(tool, effect, reason string) {
	l.Log(Event{
		Type: EventTypePolicyCheck,
		Data: map[string]string{
			"tool":   tool,
			"effect": effect,
			"reason": reason,
		},
	})
}

func (l *Logger) LogCost(promptTokens, completionTokens int, model string) {
	l.Log(Event{
		Type: EventTypeCost,
		Data: map[string]any{
			"prompt_tokens":     promptTokens,
			"completion_tokens": completionTokens,
			"total_tokens":      promptTokens + completionTokens,
			"model":             model,
		},
	})
}

func (l *Logger) LogPlan(planID, title string, steps int, estimatedTokens int) {
	l.Log(Event{
		Type: EventTypePlan,
		Data: map[string]any{
			"plan_id":          planID,
			"title":            title,
			"steps":            steps,
			"estimated_tokens": estimatedTokens,
		},
	})
}

func (l *Logger) LogStep(index int, status string, attempt int, errText string) {
	data := map[string]any{
		"index":   index,
		"status":  status,
		"attempt": attempt,
	}
	level := zapcore.InfoLevel
	if errText != "" {
		data["error"] = errText
		level = zapcore.WarnLevel
	}
	l.log(level, Event{Type: EventTypeStep, Data: data})
}

func (l *Logger) LogTransition(from, to string) {
	l.Log(Event{
		Type: EventTypeTransition,
		Data: map[string]string{"from": from, "to": to},
	})
}

func (l *Logger) LogKnowledge(operation string, count int, errText string) {
	data := map[string]any{"operation": operation, "count": count}
	level := zapcore.DebugLevel
	if errText != "" {
		data["error"] = errText
		level = zapcore.WarnLevel
	}
	l.log(level, Event{Type: EventTypeKnowledge, Data: data})
}

func (l *Logger) LogLLM(prompt any, response string, toolCalls any) {
	l.log(zapcore.DebugLevel, Event{
		Type: EventTypeLLM,
		Data: map[string]any{
			"prompt":     prompt,
			"response":   response,
			"tool_calls": toolCalls,
		},
	})
}

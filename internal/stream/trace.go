// Package stream routes a streamed model response into an ordered trace,
// running requested tools inline as they arrive.
package stream

import (
	"strings"
	"sync"
)

// Kind classifies a trace entry.
type Kind string

const (
	KindThinking Kind = "thinking"
	KindMessage  Kind = "message"
	KindToolCall Kind = "tool_call"
)

// Status of a tool_call entry.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Entry is one element of a Trace. Text is used by thinking and message
// entries; the tool fields by tool_call entries.
type Entry struct {
	Kind       Kind
	Text       string
	ToolCallID string
	ToolName   string
	Input      map[string]any
	Output     any
	Status     Status
}

// Trace is an append-only log of entries for one conversation turn.
// Readers may take snapshots at any time while a Router appends.
type Trace struct {
	mu      sync.RWMutex
	entries []Entry
	// open is the index of the accumulating thinking/message entry, or -1.
	open int
}

func NewTrace() *Trace {
	return &Trace{open: -1}
}

// Snapshot returns a copy of the entries so far.
func (t *Trace) Snapshot() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

func (t *Trace) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Text concatenates every message entry.
func (t *Trace) Text() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var b strings.Builder
	for _, e := range t.entries {
		if e.Kind == KindMessage {
			b.WriteString(e.Text)
		}
	}
	return b.String()
}

// appendText extends the open entry of the same kind or opens a new one.
func (t *Trace) appendText(kind Kind, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open >= 0 && t.entries[t.open].Kind == kind {
		t.entries[t.open].Text += text
		return
	}
	t.entries = append(t.entries, Entry{Kind: kind, Text: text})
	t.open = len(t.entries) - 1
}

func (t *Trace) openToolCall(id, name string, input map[string]any) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, Entry{
		Kind:       KindToolCall,
		ToolCallID: id,
		ToolName:   name,
		Input:      input,
		Status:     StatusPending,
	})
	t.open = -1
	return len(t.entries) - 1
}

// settle sets a pending tool_call's outcome. It is a no-op once settled.
func (t *Trace) settle(i int, status Status, output any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.entries[i].Status != StatusPending {
		return
	}
	t.entries[i].Status = status
	t.entries[i].Output = output
}

// closeAccumulator ends the current text run so the next fragment starts
// a fresh entry.
func (t *Trace) closeAccumulator() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.open = -1
}

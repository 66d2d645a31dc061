// Package knowledge builds token-budgeted prompts from the similarity index
// and keeps the index fed with chunked documents and fetched pages.
package knowledge

import (
	"context"
	"fmt"
	"strings"

	"github.com/rahul/sceneforge/internal/llm"
	"github.com/rahul/sceneforge/internal/observability"
	"github.com/rahul/sceneforge/internal/tokens"
	"github.com/rahul/sceneforge/internal/vectorstore"
	"github.com/tmc/langchaingo/llms"
)

const (
	DefaultSystemPrompt = "You are a scene-building assistant. Use the available tools to inspect and modify the scene. " +
		"Prefer small, verifiable changes and report what you changed."

	DefaultBudget           = 8000
	DefaultKnowledgeCeiling = 2000
	DefaultReplyReserve     = 1024
	DefaultTopK             = 8

	// knowledgeShare is the fraction of the post-system budget knowledge may use.
	knowledgeShare = 0.4

	sceneHeader     = "## Current scene\n\n"
	knowledgeHeader = "## Relevant knowledge\n\n"
)

// Request is the input to one assembly.
type Request struct {
	Query        string
	SceneSummary string
	// History is chronological, oldest first.
	History      []llms.MessageContent
	SystemPrompt string
	Filter       *vectorstore.Filter
	// Budget overrides the assembler's default when positive.
	Budget int
}

// Assembly is the ordered prompt plus bookkeeping about what was kept.
type Assembly struct {
	Messages        []llms.MessageContent
	TokensUsed      int
	SystemTokens    int
	SceneTokens     int
	KnowledgeTokens int
	HistoryTokens   int
	KnowledgeIDs    []string
	HistoryKept     int
	// KnowledgeErr records why retrieval was skipped. Assembly never fails
	// because of it.
	KnowledgeErr error
}

// Assembler produces message lists in priority order: system prompt, scene
// summary, retrieved knowledge, then as much recent history as fits.
type Assembler struct {
	Index            vectorstore.Backend
	Embedder         llm.Embedder
	Budget           int
	KnowledgeCeiling int
	ReplyReserve     int
	TopK             int
	Logger           *observability.Logger
	Metrics          *observability.Metrics
}

func NewAssembler(index vectorstore.Backend, embedder llm.Embedder) *Assembler {
	return &Assembler{
		Index:            index,
		Embedder:         embedder,
		Budget:           DefaultBudget,
		KnowledgeCeiling: DefaultKnowledgeCeiling,
		ReplyReserve:     DefaultReplyReserve,
		TopK:             DefaultTopK,
	}
}

func systemMessage(text string) llms.MessageContent {
	return llms.TextParts(llms.ChatMessageTypeSystem, text)
}

func (a *Assembler) Assemble(ctx context.Context, req Request) Assembly {
	budget := a.Budget
	if req.Budget > 0 {
		budget = req.Budget
	}

	var out Assembly

	prompt := req.SystemPrompt
	if prompt == "" {
		prompt = DefaultSystemPrompt
	}
	sys := systemMessage(prompt)
	out.SystemTokens = tokens.MessageTokens(sys)

	var scene *llms.MessageContent
	if strings.TrimSpace(req.SceneSummary) != "" {
		m := systemMessage(sceneHeader + req.SceneSummary)
		scene = &m
		out.SceneTokens = tokens.MessageTokens(m)
	}

	remaining := budget - out.SystemTokens - out.SceneTokens
	knowledgeBudget := min(a.KnowledgeCeiling, int(float64(max(remaining, 0))*knowledgeShare))

	knowledge := a.retrieve(ctx, req, knowledgeBudget, &out)

	query := llms.TextParts(llms.ChatMessageTypeHuman, req.Query)
	reserve := tokens.MessageTokens(query) + a.ReplyReserve
	historyBudget := budget - out.SystemTokens - out.SceneTokens - out.KnowledgeTokens - reserve

	start := len(req.History)
	for i := len(req.History) - 1; i >= 0; i-- {
		cost := tokens.MessageTokens(req.History[i])
		if out.HistoryTokens+cost > historyBudget {
			break
		}
		out.HistoryTokens += cost
		start = i
	}
	out.HistoryKept = len(req.History) - start

	out.Messages = append(out.Messages, sys)
	if scene != nil {
		out.Messages = append(out.Messages, *scene)
	}
	if knowledge != nil {
		out.Messages = append(out.Messages, *knowledge)
	}
	out.Messages = append(out.Messages, req.History[start:]...)
	out.Messages = append(out.Messages, query)

	out.TokensUsed = tokens.MessagesTokens(out.Messages)
	a.Metrics.RecordContextTokens(out.TokensUsed)
	return out
}

// retrieve selects ranked chunks greedily until the next one would not fit.
func (a *Assembler) retrieve(ctx context.Context, req Request, budget int, out *Assembly) *llms.MessageContent {
	if a.Index == nil || a.Embedder == nil || strings.TrimSpace(req.Query) == "" || budget <= 0 {
		return nil
	}

	vec, err := a.Embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		out.KnowledgeErr = fmt.Errorf("embed query: %w", err)
		a.Logger.LogKnowledge("retrieve", 0, out.KnowledgeErr.Error())
		return nil
	}
	results, err := a.Index.Search(vec, a.TopK, req.Filter)
	if err != nil {
		out.KnowledgeErr = fmt.Errorf("search: %w", err)
		a.Logger.LogKnowledge("retrieve", 0, out.KnowledgeErr.Error())
		return nil
	}

	used := tokens.MessageOverhead + tokens.EstimateTokens(knowledgeHeader)
	var b strings.Builder
	b.WriteString(knowledgeHeader)
	for n, r := range results {
		item := formatKnowledge(n+1, r)
		cost := tokens.EstimateTokens(item)
		if used+cost > budget {
			break
		}
		used += cost
		b.WriteString(item)
		out.KnowledgeIDs = append(out.KnowledgeIDs, r.Document.ID)
	}
	if len(out.KnowledgeIDs) == 0 {
		return nil
	}

	m := systemMessage(strings.TrimRight(b.String(), "\n"))
	out.KnowledgeTokens = tokens.MessageTokens(m)
	a.Logger.LogKnowledge("retrieve", len(out.KnowledgeIDs), "")
	return &m
}

func formatKnowledge(n int, r vectorstore.Result) string {
	label := r.Document.Metadata.Source
	if r.Document.Metadata.FilePath != "" {
		label += " " + r.Document.Metadata.FilePath
	}
	if r.Document.Metadata.EntityID != "" {
		label += " entity=" + r.Document.Metadata.EntityID
	}
	return fmt.Sprintf("[%d] (%s)\n%s\n\n", n, strings.TrimSpace(label), r.Document.Content)
}

// Package tokens approximates token counts and splits text into
// budget-sized chunks on paragraph and sentence boundaries.
package tokens

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/tmc/langchaingo/llms"
)

// charsPerToken is the approximate average characters per token for GPT-style tokenizers.
const charsPerToken = 4

// MessageOverhead is the fixed per-message cost (role tag, separators) added by MessageTokens.
const MessageOverhead = 4

// DefaultChunkTokens is used by ChunkText when maxTokens is not positive.
const DefaultChunkTokens = 512

var paragraphBreak = regexp.MustCompile(`\n[ \t]*\n`)

// EstimateTokens approximates the token count of s. The empty string costs nothing.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	n := utf8.RuneCountInString(s)
	return (n + charsPerToken - 1) / charsPerToken
}

// MessageTokens estimates the cost of one chat message including its overhead.
func MessageTokens(msg llms.MessageContent) int {
	total := MessageOverhead
	for _, part := range msg.Parts {
		switch p := part.(type) {
		case llms.TextContent:
			total += EstimateTokens(p.Text)
		case llms.ToolCallResponse:
			total += EstimateTokens(p.Content) + EstimateTokens(p.Name)
		case llms.ToolCall:
			if p.FunctionCall != nil {
				total += EstimateTokens(p.FunctionCall.Name) + EstimateTokens(p.FunctionCall.Arguments)
			}
		}
	}
	return total
}

// MessagesTokens sums MessageTokens over msgs.
func MessagesTokens(msgs []llms.MessageContent) int {
	total := 0
	for _, m := range msgs {
		total += MessageTokens(m)
	}
	return total
}

// Paragraphs splits text on blank lines and returns the trimmed, non-empty paragraphs in order.
func Paragraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	for _, p := range paragraphBreak.Split(text, -1) {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ChunkText packs whole paragraphs into chunks of at most maxTokens,
// joining paragraphs within a chunk with a blank line. A paragraph that
// alone exceeds the limit is split on sentence boundaries, then on words.
// Chunks never overlap, so reading them in order reproduces the paragraphs
// in their original order.
func ChunkText(text string, maxTokens int) []string {
	if maxTokens <= 0 {
		maxTokens = DefaultChunkTokens
	}

	var chunks []string
	var current string
	flush := func() {
		if current != "" {
			chunks = append(chunks, current)
			current = ""
		}
	}

	for _, p := range Paragraphs(text) {
		if EstimateTokens(p) > maxTokens {
			flush()
			chunks = append(chunks, splitParagraph(p, maxTokens)...)
			continue
		}
		if current == "" {
			current = p
			continue
		}
		joined := current + "\n\n" + p
		if EstimateTokens(joined) <= maxTokens {
			current = joined
			continue
		}
		flush()
		current = p
	}
	flush()
	return chunks
}

// splitParagraph breaks an oversized paragraph into pieces of at most
// maxTokens, preferring sentence ends over word gaps.
func splitParagraph(p string, maxTokens int) []string {
	var units []string
	for _, s := range sentences(p) {
		if EstimateTokens(s) <= maxTokens {
			units = append(units, s)
			continue
		}
		for _, w := range strings.Fields(s) {
			units = append(units, splitWord(w, maxTokens)...)
		}
	}
	return pack(units, " ", maxTokens)
}

func pack(units []string, sep string, maxTokens int) []string {
	var out []string
	var current string
	for _, u := range units {
		if current == "" {
			current = u
			continue
		}
		if EstimateTokens(current+sep+u) <= maxTokens {
			current += sep + u
			continue
		}
		out = append(out, current)
		current = u
	}
	if current != "" {
		out = append(out, current)
	}
	return out
}

// sentences splits after '.', '!' or '?' when followed by whitespace.
func sentences(p string) []string {
	var out []string
	runes := []rune(p)
	start := 0
	for i := 0; i < len(runes)-1; i++ {
		switch runes[i] {
		case '.', '!', '?':
			if unicode.IsSpace(runes[i+1]) {
				if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
					out = append(out, s)
				}
				start = i + 1
			}
		}
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

func splitWord(w string, maxTokens int) []string {
	limit := maxTokens * charsPerToken
	runes := []rune(w)
	if len(runes) <= limit {
		return []string{w}
	}
	var out []string
	for len(runes) > limit {
		out = append(out, string(runes[:limit]))
		runes = runes[limit:]
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}

// Package llm provides the text and JSON prompting interface agents use,
// with Anthropic and OpenAI-compatible backends and a fallback chain.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Provider answers a single prompt.
type Provider interface {
	// Name identifies the backend in logs and errors.
	Name() string
	// PromptText returns the model's text answer.
	PromptText(ctx context.Context, system, user string) (string, error)
}

// ErrProviderUnavailable means no configured backend could be reached.
// Missions treat it as fatal rather than as a phase failure.
var ErrProviderUnavailable = errors.New("llm provider unavailable")

// ErrInvalidJSON is returned when a response holds no decodable JSON.
var ErrInvalidJSON = errors.New("llm response is not valid JSON")

const jsonInstruction = "Respond with a single JSON value only. Do not wrap it in prose or code fences."

// PromptJSON prompts p and decodes the answer into T. A response that does
// not decode is retried once with the decode error appended.
func PromptJSON[T any](ctx context.Context, p Provider, system, user string) (T, error) {
	var zero T
	system = strings.TrimSpace(system + "\n\n" + jsonInstruction)

	text, err := p.PromptText(ctx, system, user)
	if err != nil {
		return zero, err
	}
	out, decodeErr := decodeJSON[T](text)
	if decodeErr == nil {
		return out, nil
	}

	retry := fmt.Sprintf("%s\n\nYour previous answer could not be parsed (%v). Return valid JSON only.", user, decodeErr)
	text, err = p.PromptText(ctx, system, retry)
	if err != nil {
		return zero, err
	}
	return decodeJSON[T](text)
}

func decodeJSON[T any](text string) (T, error) {
	var out T
	raw, ok := ExtractJSON(text)
	if !ok {
		return out, fmt.Errorf("%w: no JSON value found", ErrInvalidJSON)
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return out, nil
}

// ExtractJSON pulls the first valid JSON object or array out of a model
// answer, tolerating code fences and surrounding prose that may itself hold
// brackets.
func ExtractJSON(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if i := strings.Index(text, "```"); i >= 0 {
		rest := text[i+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if end := strings.Index(rest, "```"); end >= 0 {
			text = strings.TrimSpace(rest[:end])
		}
	}

	for start := 0; start < len(text); start++ {
		next := strings.IndexAny(text[start:], "{[")
		if next < 0 {
			break
		}
		start += next
		if candidate, ok := balanced(text, start); ok && gjson.Valid(candidate) {
			return candidate, true
		}
	}
	return "", false
}

// balanced returns the bracketed span opening at text[start], skipping
// brackets inside strings.
func balanced(text string, start int) (string, bool) {
	opening, closing := text[start], byte('}')
	if opening == '[' {
		closing = ']'
	}

	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == opening:
			depth++
		case c == closing:
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

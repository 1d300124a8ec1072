// Package llmjson turns free-form model output into a validated value.
// Model payloads are never trusted implicitly: Parse either yields a value
// that passed the caller's check or an error explaining why it did not.
package llmjson

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Result is the tagged outcome of a parse-and-validate step.
type Result[T any] struct {
	Value T
	Err   error
}

func (r Result[T]) OK() bool { return r.Err == nil }

func Fail[T any](err error) Result[T] { return Result[T]{Err: err} }

// Parse decodes content into T and runs check on the decoded value.
func Parse[T any](content string, check func(T) error) Result[T] {
	var v T
	if err := Decode(content, &v); err != nil {
		return Fail[T](fmt.Errorf("decode model output: %w", err))
	}
	if check != nil {
		if err := check(v); err != nil {
			return Fail[T](fmt.Errorf("validate model output: %w", err))
		}
	}
	return Result[T]{Value: v}
}

// Decode tries the raw payload first and then the first JSON object found
// after stripping markdown fences and surrounding chatter.
func Decode(content string, target any) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return errors.New("empty payload")
	}
	directErr := json.Unmarshal([]byte(trimmed), target)
	if directErr == nil {
		return nil
	}
	obj, err := ExtractObject(trimmed)
	if err != nil || obj == trimmed {
		return fmt.Errorf("%w (payload snippet: %s)", directErr, Snippet(trimmed, 160))
	}
	if err := json.Unmarshal([]byte(obj), target); err != nil {
		return fmt.Errorf("%w (sanitized payload snippet: %s)", err, Snippet(obj, 160))
	}
	return nil
}

func ExtractObject(s string) (string, error) {
	t := strings.TrimSpace(s)
	if t == "" {
		return "", errors.New("empty content")
	}

	if strings.HasPrefix(t, "```") {
		if i := strings.Index(t, "\n"); i >= 0 {
			t = t[i+1:]
		}
		if j := strings.LastIndex(t, "```"); j >= 0 {
			t = t[:j]
		}
		t = strings.TrimSpace(t)
	}

	start := strings.Index(t, "{")
	end := strings.LastIndex(t, "}")
	if start >= 0 && end > start {
		return t[start : end+1], nil
	}
	return "", fmt.Errorf("could not locate JSON object in: %q", Snippet(t, 200))
}

// Snippet flattens whitespace and caps s at n runes.
func Snippet(s string, n int) string {
	clean := strings.Join(strings.Fields(s), " ")
	if clean == "" {
		return "<empty>"
	}
	r := []rune(clean)
	if len(r) <= n {
		return clean
	}
	return string(r[:n]) + "..."
}

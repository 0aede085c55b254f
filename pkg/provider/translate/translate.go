// Package translate defines the transcript translation contract and an
// implementation that prompts an [llm.Provider].
package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/parley/pkg/provider/llm"
)

// ErrTranslation wraps every failure returned by a [Translator].
var ErrTranslation = errors.New("translate: translation failed")

// SkipSentinel is the reply the model gives when the text is already in the
// target language.
const SkipSentinel = "NULL"

// Translator turns a transcript fragment into English.
type Translator interface {
	// Translate returns the translation of text. ok is false when no
	// translation should be recorded, for example because text is already
	// English. Errors wrap [ErrTranslation].
	Translate(ctx context.Context, text string) (translation string, ok bool, err error)
}

// Func adapts a plain function to [Translator].
type Func func(ctx context.Context, text string) (string, bool, error)

// Translate calls f.
func (f Func) Translate(ctx context.Context, text string) (string, bool, error) {
	return f(ctx, text)
}

// DefaultPrompt instructs the model to translate into English or answer with
// [SkipSentinel].
const DefaultPrompt = `You translate short spoken transcript fragments into English.
Reply with the English translation only, without quotes or commentary.
If the text is already English, reply with exactly NULL.`

// LLM is a [Translator] backed by a completion model.
type LLM struct {
	provider    llm.Provider
	prompt      string
	temperature float64
	maxTokens   int
}

var _ Translator = (*LLM)(nil)

// Option configures an [LLM] translator.
type Option func(*LLM)

// WithPrompt replaces [DefaultPrompt].
func WithPrompt(p string) Option {
	return func(t *LLM) {
		if p != "" {
			t.prompt = p
		}
	}
}

// WithTemperature sets the sampling temperature. Default 0.2.
func WithTemperature(v float64) Option {
	return func(t *LLM) { t.temperature = v }
}

// WithMaxTokens caps the reply length. Default 512.
func WithMaxTokens(n int) Option {
	return func(t *LLM) {
		if n > 0 {
			t.maxTokens = n
		}
	}
}

// NewLLM returns a translator that prompts p.
func NewLLM(p llm.Provider, opts ...Option) *LLM {
	t := &LLM{
		provider:    p,
		prompt:      DefaultPrompt,
		temperature: 0.2,
		maxTokens:   512,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Translate implements [Translator].
func (t *LLM) Translate(ctx context.Context, text string) (string, bool, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false, nil
	}

	resp, err := t.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: t.prompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: text}},
		Temperature:  t.temperature,
		MaxTokens:    t.maxTokens,
	})
	if err != nil {
		return "", false, fmt.Errorf("%w: %s: %w", ErrTranslation, t.provider.Name(), err)
	}

	out, ok := Normalize(resp.Content, text)
	return out, ok, nil
}

// Normalize cleans a raw model reply. It reports false when the reply is
// empty, the skip sentinel, or identical to the source text.
func Normalize(reply, source string) (string, bool) {
	out := strings.TrimSpace(reply)
	out = strings.Trim(out, "\"“”")
	out = strings.TrimSpace(out)
	switch {
	case out == "":
		return "", false
	case strings.EqualFold(strings.TrimRight(out, "."), SkipSentinel):
		return "", false
	case strings.EqualFold(out, strings.TrimSpace(source)):
		return "", false
	}
	return out, true
}

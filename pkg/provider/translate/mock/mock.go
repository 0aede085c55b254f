// Package mock provides a test double for translate.Translator.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parley/pkg/provider/translate"
)

var _ translate.Translator = (*Translator)(nil)

// Translator returns canned translations and records every input.
//
// Lookup order: Func, Err, Table[text], Default. A missing entry with an empty
// Default yields ok=false.
type Translator struct {
	Func    func(ctx context.Context, text string) (string, bool, error)
	Table   map[string]string
	Default string
	Err     error

	// Block, if non-nil, is received from before replying, or ctx ends first.
	Block chan struct{}

	mu     sync.Mutex
	inputs []string
}

// Translate implements translate.Translator.
func (t *Translator) Translate(ctx context.Context, text string) (string, bool, error) {
	t.mu.Lock()
	t.inputs = append(t.inputs, text)
	t.mu.Unlock()

	if t.Block != nil {
		select {
		case <-t.Block:
		case <-ctx.Done():
			return "", false, ctx.Err()
		}
	}
	if t.Func != nil {
		return t.Func(ctx, text)
	}
	if t.Err != nil {
		return "", false, t.Err
	}
	if out, ok := t.Table[text]; ok {
		got, ok := translate.Normalize(out, text)
		return got, ok, nil
	}
	if t.Default != "" {
		return t.Default, true, nil
	}
	return "", false, nil
}

// Inputs returns a copy of every text passed to Translate.
func (t *Translator) Inputs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.inputs...)
}

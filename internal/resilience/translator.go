package resilience

import (
	"context"
	"fmt"

	"github.com/MrWong99/parley/pkg/provider/translate"
)

// TranslatorFallback is a [translate.Translator] that fails over between
// translators.
type TranslatorFallback struct {
	group *FallbackGroup[translate.Translator]
}

var _ translate.Translator = (*TranslatorFallback)(nil)

// NewTranslatorFallback returns a fallback with primary as first choice.
func NewTranslatorFallback(primary translate.Translator, name string, cfg FallbackConfig) *TranslatorFallback {
	return &TranslatorFallback{group: NewFallbackGroup(primary, name, cfg)}
}

// AddFallback registers another translator.
func (f *TranslatorFallback) AddFallback(name string, t translate.Translator) {
	f.group.AddFallback(name, t)
}

// States reports each translator's breaker state.
func (f *TranslatorFallback) States() map[string]State { return f.group.States() }

type translation struct {
	text string
	ok   bool
}

// Translate implements [translate.Translator]. A skip reply from a member
// counts as success and ends the walk.
func (f *TranslatorFallback) Translate(ctx context.Context, text string) (string, bool, error) {
	res, err := ExecuteWithResult(ctx, f.group, func(t translate.Translator) (translation, error) {
		out, ok, err := t.Translate(ctx, text)
		return translation{out, ok}, err
	})
	if err != nil {
		if isCancellation(err) {
			return "", false, err
		}
		return "", false, fmt.Errorf("%w: %w", translate.ErrTranslation, err)
	}
	return res.text, res.ok, nil
}

// Package openai provides a [stt.Transcriber] backed by the OpenAI audio
// transcription endpoint.
package openai

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/parley/pkg/provider/stt"
)

var _ stt.Transcriber = (*Transcriber)(nil)

// DefaultModel is used when New receives an empty model.
const DefaultModel = string(oai.AudioModelGPT4oMiniTranscribe)

// Option is a functional option for Transcriber.
type Option func(*config)

type config struct {
	baseURL  string
	language string
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithLanguage sets an ISO-639-1 language hint.
func WithLanguage(lang string) Option {
	return func(c *config) { c.language = lang }
}

// Transcriber implements stt.Transcriber using openai-go.
type Transcriber struct {
	client   oai.Client
	model    string
	language string
}

// New creates a Transcriber. SDK retries are disabled.
func New(apiKey, model string, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	return &Transcriber{
		client:   oai.NewClient(reqOpts...),
		model:    model,
		language: cfg.language,
	}, nil
}

// Transcribe implements stt.Transcriber.
func (t *Transcriber) Transcribe(ctx context.Context, audioBase64, mimeType string) (string, error) {
	data, filename, err := stt.DecodePayload(audioBase64, mimeType)
	if err != nil {
		return "", err
	}

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(data), filename, mimeType),
		Model: oai.AudioModel(t.model),
	}
	if t.language != "" {
		params.Language = param.NewOpt(t.language)
	}

	resp, err := t.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("%w: openai: %w", stt.ErrTranscription, err)
	}
	return strings.TrimSpace(resp.Text), nil
}

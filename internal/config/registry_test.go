package config_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/pkg/provider/live"
	livemock "github.com/MrWong99/parley/pkg/provider/live/mock"
	"github.com/MrWong99/parley/pkg/provider/llm"
	llmmock "github.com/MrWong99/parley/pkg/provider/llm/mock"
	"github.com/MrWong99/parley/pkg/provider/stt"
	sttmock "github.com/MrWong99/parley/pkg/provider/stt/mock"
)

func TestRegistry_CreateRegistered(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	var gotEntry config.ProviderEntry
	reg.RegisterLive("mock-live", func(e config.ProviderEntry) (live.Provider, error) {
		gotEntry = e
		return &livemock.Provider{}, nil
	})
	reg.RegisterLLM("mock-llm", func(config.ProviderEntry) (llm.Provider, error) { return &llmmock.Provider{}, nil })
	reg.RegisterTranscriber("mock-stt", func(config.ProviderEntry) (stt.Transcriber, error) { return &sttmock.Transcriber{}, nil })

	entry := config.ProviderEntry{Name: "mock-live", APIKey: "k", Model: "m"}
	if _, err := reg.CreateLive(entry); err != nil {
		t.Fatalf("CreateLive: %v", err)
	}
	if gotEntry.APIKey != "k" || gotEntry.Model != "m" {
		t.Errorf("factory entry = %+v, want api key and model passed through", gotEntry)
	}
	if _, err := reg.CreateLLM(config.ProviderEntry{Name: "mock-llm"}); err != nil {
		t.Errorf("CreateLLM: %v", err)
	}
	if _, err := reg.CreateTranscriber(config.ProviderEntry{Name: "mock-stt"}); err != nil {
		t.Errorf("CreateTranscriber: %v", err)
	}
}

func TestRegistry_NotRegistered(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	if _, err := reg.CreateLive(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateLive err = %v, want ErrProviderNotRegistered", err)
	}
	if _, err := reg.CreateLLM(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateLLM err = %v, want ErrProviderNotRegistered", err)
	}
	if _, err := reg.CreateTranscriber(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateTranscriber err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_FactoryErrorAndNames(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	boom := errors.New("boom")
	reg.RegisterLLM("b", func(config.ProviderEntry) (llm.Provider, error) { return nil, boom })
	reg.RegisterLLM("a", func(config.ProviderEntry) (llm.Provider, error) { return &llmmock.Provider{}, nil })

	if _, err := reg.CreateLLM(config.ProviderEntry{Name: "b"}); !errors.Is(err, boom) {
		t.Errorf("CreateLLM err = %v, want factory error", err)
	}
	if got := reg.Names("llm"); !slices.Equal(got, []string{"a", "b"}) {
		t.Errorf("Names(llm) = %v, want [a b]", got)
	}
	if got := reg.Names("unknown"); got != nil {
		t.Errorf("Names(unknown) = %v, want nil", got)
	}
}

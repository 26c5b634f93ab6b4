package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/talentai/llm-gateway/internal/backend"
	"github.com/talentai/llm-gateway/internal/domain"
)

type fakeAdapter struct {
	kind backend.Kind
}

func (f *fakeAdapter) ID() string                                  { return string(f.kind) }
func (f *fakeAdapter) Kind() backend.Kind                          { return f.kind }
func (f *fakeAdapter) Simulated() bool                             { return false }
func (f *fakeAdapter) HealthCheck(ctx context.Context) error       { return nil }
func (f *fakeAdapter) Complete(ctx context.Context, req domain.ChatRequest) (*domain.Completion, error) {
	return nil, nil
}
func (f *fakeAdapter) Stream(ctx context.Context, req domain.ChatRequest) (<-chan domain.TokenEvent, <-chan error) {
	return nil, nil
}

func TestResolveMappedModel(t *testing.T) {
	ollama := &fakeAdapter{kind: backend.KindOllama}
	onnx := &fakeAdapter{kind: backend.KindONNX}

	reg, err := New(
		[]backend.Adapter{ollama, onnx},
		map[string]backend.Kind{"phi-3-mini": backend.KindONNX},
		backend.KindOllama,
	)
	if err != nil {
		t.Fatal(err)
	}

	a, err := reg.Resolve("phi-3-mini")
	if err != nil {
		t.Fatal(err)
	}
	if a.Kind() != backend.KindONNX {
		t.Errorf("Resolve(phi-3-mini) = %v, want onnx", a.Kind())
	}

	// Unmapped models fall through to the default backend.
	a, err = reg.Resolve("mistral:7b")
	if err != nil {
		t.Fatal(err)
	}
	if a.Kind() != backend.KindOllama {
		t.Errorf("Resolve(mistral:7b) = %v, want ollama fallback", a.Kind())
	}
}

func TestResolveWithoutFallbackIsStrict(t *testing.T) {
	reg, err := New(
		[]backend.Adapter{&fakeAdapter{kind: backend.KindOllama}},
		map[string]backend.Kind{"mistral:7b": backend.KindOllama},
		"",
	)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := reg.Resolve("unknown-model"); !errors.Is(err, domain.ErrModelNotConfigured) {
		t.Errorf("Resolve(unknown-model) = %v, want ErrModelNotConfigured", err)
	}
}

func TestNewRejectsBrokenTable(t *testing.T) {
	ollama := &fakeAdapter{kind: backend.KindOllama}

	if _, err := New(nil, nil, ""); err == nil {
		t.Error("New with no adapters succeeded")
	}

	if _, err := New([]backend.Adapter{ollama, &fakeAdapter{kind: backend.KindOllama}}, nil, ""); err == nil {
		t.Error("New with duplicate adapters succeeded")
	}

	if _, err := New([]backend.Adapter{ollama}, nil, backend.KindONNX); err == nil {
		t.Error("New with unconfigured fallback succeeded")
	}

	if _, err := New([]backend.Adapter{ollama}, map[string]backend.Kind{"m": backend.KindBedrock}, ""); err == nil {
		t.Error("New with dangling model mapping succeeded")
	}
}

func TestAdaptersSorted(t *testing.T) {
	reg, err := New([]backend.Adapter{
		&fakeAdapter{kind: backend.KindOllama},
		&fakeAdapter{kind: backend.KindBedrock},
		&fakeAdapter{kind: backend.KindONNX},
	}, nil, backend.KindOllama)
	if err != nil {
		t.Fatal(err)
	}

	got := reg.Adapters()
	if len(got) != 3 {
		t.Fatalf("got %d adapters", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i-1].ID() > got[i].ID() {
			t.Errorf("adapters out of order: %q before %q", got[i-1].ID(), got[i].ID())
		}
	}
}

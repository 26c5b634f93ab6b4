package domain

import (
	"errors"
	"testing"
)

func floatP(v float64) *float64 { return &v }
func intP(v int) *int           { return &v }

func TestValidateAcceptsMinimalRequest(t *testing.T) {
	req := ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "Hi"}},
	}
	if err := req.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidateRejectsEmptyMessages(t *testing.T) {
	req := ChatRequest{Messages: []Message{}}
	err := req.Validate()
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("Validate() = %v, want ErrValidation", err)
	}
}

func TestValidateBounds(t *testing.T) {
	base := []Message{{Role: RoleUser, Content: "Hi"}}

	tests := []struct {
		name    string
		req     ChatRequest
		wantErr bool
	}{
		{"temperature too high", ChatRequest{Messages: base, Temperature: floatP(2.5)}, true},
		{"temperature negative", ChatRequest{Messages: base, Temperature: floatP(-0.1)}, true},
		{"temperature at upper bound", ChatRequest{Messages: base, Temperature: floatP(2.0)}, false},
		{"temperature zero", ChatRequest{Messages: base, Temperature: floatP(0)}, false},
		{"max_tokens zero", ChatRequest{Messages: base, MaxTokens: intP(0)}, true},
		{"max_tokens positive", ChatRequest{Messages: base, MaxTokens: intP(100)}, false},
		{"top_p zero", ChatRequest{Messages: base, TopP: floatP(0)}, true},
		{"top_p above one", ChatRequest{Messages: base, TopP: floatP(1.1)}, true},
		{"top_p at one", ChatRequest{Messages: base, TopP: floatP(1.0)}, false},
		{"top_k zero", ChatRequest{Messages: base, TopK: intP(0)}, true},
		{"top_k positive", ChatRequest{Messages: base, TopK: intP(40)}, false},
		{"unknown role", ChatRequest{Messages: []Message{{Role: "tool", Content: "x"}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr && !errors.Is(err, ErrValidation) {
				t.Errorf("Validate() = %v, want ErrValidation", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
		})
	}
}

func TestTemperatureOrDefault(t *testing.T) {
	req := ChatRequest{Messages: []Message{{Role: RoleUser, Content: "Hi"}}}
	if got := req.TemperatureOrDefault(); got != DefaultTemperature {
		t.Errorf("TemperatureOrDefault() = %v, want %v", got, DefaultTemperature)
	}

	req.Temperature = floatP(0.9)
	if got := req.TemperatureOrDefault(); got != 0.9 {
		t.Errorf("TemperatureOrDefault() = %v, want 0.9", got)
	}
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrValidation, "validation"},
		{ErrModelNotConfigured, "validation"},
		{ErrBackendUnavailable, "backend_unavailable"},
		{ErrBackendProtocol, "backend_protocol"},
		{ErrBackendRejected, "backend_rejected"},
		{ErrRequestTimeout, "timeout"},
		{ErrTooManyRequests, "overloaded"},
		{errors.New("boom"), "internal"},
	}

	for _, tt := range tests {
		if got := ErrorKind(tt.err); got != tt.want {
			t.Errorf("ErrorKind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

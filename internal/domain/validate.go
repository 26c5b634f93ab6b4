package domain

import "fmt"

// Validate checks the request shape before any backend is contacted.
// All failures wrap ErrValidation.
func (r ChatRequest) Validate() error {
	if len(r.Messages) == 0 {
		return fmt.Errorf("%w: messages must not be empty", ErrValidation)
	}
	for i, m := range r.Messages {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return fmt.Errorf("%w: messages[%d] has unknown role %q", ErrValidation, i, m.Role)
		}
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return fmt.Errorf("%w: temperature %v out of range [0, 2]", ErrValidation, *r.Temperature)
	}
	if r.MaxTokens != nil && *r.MaxTokens < 1 {
		return fmt.Errorf("%w: max_tokens must be positive", ErrValidation)
	}
	if r.TopP != nil && (*r.TopP <= 0 || *r.TopP > 1) {
		return fmt.Errorf("%w: top_p %v out of range (0, 1]", ErrValidation, *r.TopP)
	}
	if r.TopK != nil && *r.TopK < 1 {
		return fmt.Errorf("%w: top_k must be positive", ErrValidation)
	}
	return nil
}

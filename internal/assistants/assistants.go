package assistants

import (
	"errors"
	"strings"
)

// Kind identifies which conversation runtime backs an assistant.
type Kind string

const (
	KindOpenAI Kind = "openai"
	KindGemini Kind = "gemini"
)

func (k Kind) Valid() bool {
	return k == KindOpenAI || k == KindGemini
}

var ErrInvalidRef = errors.New("assistants: exactly one assistant reference must be set")

// Ref points at exactly one assistant of either kind.
type Ref struct {
	OpenAIAssistantID string `json:"openai_assistant_id,omitempty"`
	GeminiAssistantID string `json:"gemini_assistant_id,omitempty"`
}

func (r Ref) Validate() error {
	hasOpenAI := strings.TrimSpace(r.OpenAIAssistantID) != ""
	hasGemini := strings.TrimSpace(r.GeminiAssistantID) != ""
	if hasOpenAI == hasGemini {
		return ErrInvalidRef
	}
	return nil
}

// Resolve returns the populated id and its kind. Callers must Validate first.
func (r Ref) Resolve() (string, Kind) {
	if strings.TrimSpace(r.GeminiAssistantID) != "" {
		return r.GeminiAssistantID, KindGemini
	}
	return r.OpenAIAssistantID, KindOpenAI
}

// Assistant is the resolved view dispatch needs.
type Assistant struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenant_id"`
	DisplayName string `json:"display_name"`
	Kind        Kind   `json:"kind"`
}

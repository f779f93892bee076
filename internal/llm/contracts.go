package llm

import (
	"context"

	"github.com/joseph-ayodele/doc-enricher/constants"
)

// AgentSpec is what the provider needs to create a conversational agent.
type AgentSpec struct {
	Name         string
	Model        string
	Instructions string
	Tools        []string
}

// Attachment links an uploaded provider file to a message.
type Attachment struct {
	FileID string
	Tools  []string
}

// ConversationRequest starts one run against an existing agent.
type ConversationRequest struct {
	AgentID     string
	Message     string
	Attachments []Attachment
	Model       string // optional per-run override
}

// JobHandle identifies a submitted conversational run.
type JobHandle struct {
	AgentID  string `json:"agent_id"`
	ThreadID string `json:"thread_id"`
	RunID    string `json:"run_id"`
}

// RunState is one observation of a run.
type RunState struct {
	Status           constants.RunStatus
	LastErrorCode    string
	LastErrorMessage string
}

// FailureReason is the provider's explanation for a non-completed run.
func (s RunState) FailureReason() string {
	switch {
	case s.LastErrorCode != "" && s.LastErrorMessage != "":
		return s.LastErrorCode + ": " + s.LastErrorMessage
	case s.LastErrorCode != "":
		return s.LastErrorCode
	default:
		return s.LastErrorMessage
	}
}

// CompletionParams tunes a single-shot request. A nil Temperature uses the
// client default; a pointer to 0 asks for deterministic sampling.
type CompletionParams struct {
	Model       string
	Temperature *float64
	MaxTokens   int
}

// Completer performs single-request completions.
type Completer interface {
	CompleteOnce(ctx context.Context, prompt string, params CompletionParams) (string, error)
}

// StatusReader reports the current state of a run.
type StatusReader interface {
	RunStatus(ctx context.Context, h JobHandle) (RunState, error)
}

// Conversational drives agent, thread and run lifecycles.
type Conversational interface {
	StatusReader
	CreateAgent(ctx context.Context, spec AgentSpec) (string, error)
	StartConversation(ctx context.Context, req ConversationRequest) (JobHandle, error)
	ReadResult(ctx context.Context, h JobHandle) (string, error)
}

// FileUploader registers document content with the provider.
type FileUploader interface {
	UploadFile(ctx context.Context, name string, content []byte) (string, error)
}

// JobClient is everything the executor needs from a provider.
type JobClient interface {
	Completer
	Conversational
	FileUploader
}

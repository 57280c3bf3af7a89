// Package events defines the event vocabulary of a streaming chat turn.
//
// Every turn produces an ordered sequence of payloads. The sequence starts
// with exactly one metadata payload, carries zero or more agent_updated and
// data payloads in between, and terminates with exactly one done (success)
// or one error (failure). Nothing follows the terminal payload.
package events

// Kind identifies the event type on the wire (the SSE "event:" line).
type Kind string

const (
	KindMetadata     Kind = "metadata"
	KindAgentUpdated Kind = "agent_updated"
	KindData         Kind = "data"
	KindDone         Kind = "done"
	KindError        Kind = "error"
)

// Code is the closed set of error codes carried by error payloads.
type Code string

const (
	CodeStreamError     Code = "STREAM_ERROR"
	CodeAgentError      Code = "AGENT_ERROR"
	CodeTimeout         Code = "TIMEOUT"
	CodeRateLimit       Code = "RATE_LIMIT"
	CodeSessionNotFound Code = "SESSION_NOT_FOUND"
	CodeInternalError   Code = "INTERNAL_ERROR"
	CodeUpstreamError   Code = "UPSTREAM_ERROR"
)

// ContentType discriminates what an agent is currently producing.
type ContentType string

const (
	ContentThoughts    ContentType = "thoughts"
	ContentFinalAnswer ContentType = "final_answer"
)

// Citation references a retrieved document attached to a metadata payload.
type Citation struct {
	Title   string `json:"title"`
	Source  string `json:"source,omitempty"`
	Snippet string `json:"snippet,omitempty"`
	URL     string `json:"url,omitempty"`
	Page    *int   `json:"page,omitempty"`
}

// Payload is implemented by all event payload types.
// The concrete type determines the Kind; consumers type-switch on it the
// same way LLM chunk consumers switch on chunk types.
type Payload interface {
	Kind() Kind
}

// MetadataPayload opens every stream. A later metadata payload may carry
// citations accumulated during retrieval.
type MetadataPayload struct {
	TraceID   string     `json:"trace_id"`
	Citations []Citation `json:"citations"`
	StreamID  string     `json:"stream_id,omitempty"`
}

// AgentUpdatedPayload announces that the active agent changed, or that an
// agent transitioned between thinking and answering.
type AgentUpdatedPayload struct {
	AgentName      string      `json:"agent_name"`
	ContentType    ContentType `json:"content_type"`
	JobDescription string      `json:"job_description,omitempty"`
}

// DataPayload carries one chunk of assistant output. The concatenation of
// all data chunks on a stream equals the persisted assistant reply.
type DataPayload struct {
	Chunk string `json:"chunk"`
}

// DonePayload terminates a successful stream.
type DonePayload struct {
	StreamID string `json:"stream_id,omitempty"`
}

// ErrorPayload terminates a failed stream. Message is human-readable and
// never contains stack traces or secrets.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    Code   `json:"code"`
}

func (MetadataPayload) Kind() Kind     { return KindMetadata }
func (AgentUpdatedPayload) Kind() Kind { return KindAgentUpdated }
func (DataPayload) Kind() Kind         { return KindData }
func (DonePayload) Kind() Kind         { return KindDone }
func (ErrorPayload) Kind() Kind        { return KindError }

// Metadata builds the opening payload for a stream. Citations is never nil
// on the wire — clients iterate it without a null check.
func Metadata(traceID string, citations []Citation) MetadataPayload {
	if citations == nil {
		citations = []Citation{}
	}
	return MetadataPayload{TraceID: traceID, Citations: citations}
}

// AgentUpdated builds an agent transition payload.
func AgentUpdated(agentName string, contentType ContentType, job string) AgentUpdatedPayload {
	return AgentUpdatedPayload{AgentName: agentName, ContentType: contentType, JobDescription: job}
}

// Data builds a content chunk payload.
func Data(chunk string) DataPayload { return DataPayload{Chunk: chunk} }

// Error builds a terminal error payload.
func Error(code Code, message string) ErrorPayload {
	return ErrorPayload{Message: message, Code: code}
}

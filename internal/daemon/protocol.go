// Package daemon serves the indexer over JSON-RPC 2.0 on a Unix socket so
// that CLI commands can queue work and query the index of a running server.
package daemon

import (
	"fmt"
	"time"

	"github.com/Aman-CERP/dirindex/internal/store"
)

// JSON-RPC 2.0 method names.
const (
	MethodPing   = "ping"
	MethodStatus = "status"
	MethodQueue  = "queue"
	MethodDelete = "delete"
	MethodSearch = "search"
	MethodCount  = "count"
)

// Standard JSON-RPC 2.0 error codes.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Custom error codes for indexer errors.
const (
	ErrCodeNotStarted   = -32001
	ErrCodeQueryFailed  = -32002
	ErrCodeShuttingDown = -32003
)

// DefaultSearchLimit is used when a full-text search has no limit.
const DefaultSearchLimit = 10

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      string `json:"id"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
	ID      string `json:"id"`
}

// Error represents a JSON-RPC 2.0 error. Data carries the dirindex error
// code when there is one.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

// Error implements error so clients can return RPC failures directly.
func (e *Error) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Data)
	}
	return e.Message
}

// NewSuccessResponse creates a successful response.
func NewSuccessResponse(id string, result any) Response {
	return Response{JSONRPC: "2.0", Result: result, ID: id}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(id string, code int, message string) Response {
	return Response{JSONRPC: "2.0", Error: &Error{Code: code, Message: message}, ID: id}
}

// QueueParams are the parameters of the queue and delete methods.
type QueueParams struct {
	// Participant is the participant identifier, with or without scheme.
	Participant string `json:"participant"`
	// OwnerID identifies the requester. Required.
	OwnerID string `json:"owner_id"`
	// RequestingHost overrides the host recorded on the work item.
	RequestingHost string `json:"requesting_host,omitempty"`
}

// Validate checks that required fields are present.
func (p *QueueParams) Validate() error {
	if p.Participant == "" {
		return fmt.Errorf("participant is required")
	}
	if p.OwnerID == "" {
		return fmt.Errorf("owner_id is required")
	}
	return nil
}

// QueueResult reports whether a new work item was accepted.
type QueueResult struct {
	Changed     bool   `json:"changed"`
	Participant string `json:"participant"`
	Kind        string `json:"kind"`
}

// SearchParams select documents either by field (Field and Value) or by
// full text (Text and Limit).
type SearchParams struct {
	Field          string `json:"field,omitempty"`
	Value          string `json:"value,omitempty"`
	IncludeDeleted bool   `json:"include_deleted,omitempty"`

	Text  string `json:"text,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// Validate checks that exactly one selection mode is used.
func (p *SearchParams) Validate() error {
	byField := p.Field != "" || p.Value != ""
	byText := p.Text != ""
	switch {
	case byField && byText:
		return fmt.Errorf("use either field/value or text, not both")
	case byField:
		if p.Field == "" || p.Value == "" {
			return fmt.Errorf("field and value are both required")
		}
		if !store.Field(p.Field).Valid() {
			return fmt.Errorf("unknown field %q", p.Field)
		}
	case byText:
		if p.Limit <= 0 {
			p.Limit = DefaultSearchLimit
		}
	default:
		return fmt.Errorf("field/value or text is required")
	}
	return nil
}

// SearchResult holds matching documents.
type SearchResult struct {
	Documents []store.Document `json:"documents"`
}

// CountResult holds index counts.
type CountResult struct {
	Documents        int `json:"documents"`
	DeletedDocuments int `json:"deleted_documents"`
	Participants     int `json:"participants"`
}

// StatusResult contains daemon and indexer state.
type StatusResult struct {
	Running      bool      `json:"running"`
	PID          int       `json:"pid"`
	Uptime       string    `json:"uptime"`
	StartedAt    time.Time `json:"started_at"`
	IndexPath    string    `json:"index_path"`
	PendingKeys  int       `json:"pending_keys"`
	QueueLength  int       `json:"queue_length"`
	RetryRecords int       `json:"retry_records"`
	Processed    int64     `json:"processed"`
}

// PingResult is the response to a ping request.
type PingResult struct {
	Pong bool `json:"pong"`
}

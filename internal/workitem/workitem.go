// Package workitem defines the unit of indexing work and its persisted form.
package workitem

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Aman-CERP/dirindex/internal/participant"
)

// Kind is the type of indexing work requested for a participant.
type Kind string

const (
	// CreateOrUpdate fetches the participant's business card and replaces its documents.
	CreateOrUpdate Kind = "CREATE_OR_UPDATE"

	// Delete soft-deletes the participant's documents.
	Delete Kind = "DELETE"
)

// ParseKind parses a kind name case-insensitively.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToUpper(strings.TrimSpace(s))) {
	case CreateOrUpdate:
		return CreateOrUpdate, nil
	case Delete:
		return Delete, nil
	default:
		return "", fmt.Errorf("unknown work item kind %q", s)
	}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == CreateOrUpdate || k == Delete
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("unknown work item kind %q", string(k))
	}
	return []byte(k), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Key is the deduplication identity of a work item. Two items with equal keys
// describe the same outstanding work regardless of who requested it or when.
type Key struct {
	Participant participant.Key
	Kind        Kind
}

// String returns the key as KIND[scheme::value].
func (k Key) String() string {
	return string(k.Kind) + "[" + k.Participant.URIEncoded() + "]"
}

// WorkItem is an immutable request to index or delete one participant.
type WorkItem struct {
	ID             string          `json:"id"`
	CreatedAt      time.Time       `json:"created_at"`
	Participant    participant.Key `json:"participant"`
	Kind           Kind            `json:"kind"`
	OwnerID        string          `json:"owner_id"`
	RequestingHost string          `json:"requesting_host"`
}

// New creates a work item with a fresh ID.
func New(key participant.Key, kind Kind, ownerID, requestingHost string, now time.Time) WorkItem {
	return WorkItem{
		ID:             uuid.NewString(),
		CreatedAt:      now.UTC(),
		Participant:    key,
		Kind:           kind,
		OwnerID:        ownerID,
		RequestingHost: requestingHost,
	}
}

// Key returns the deduplication key of the item.
func (w WorkItem) Key() Key {
	return Key{Participant: w.Participant, Kind: w.Kind}
}

// LogText renders the item as owner@KIND[scheme::value].
func (w WorkItem) LogText() string {
	return w.OwnerID + "@" + w.Key().String()
}

// Validate checks that the item can be processed.
func (w WorkItem) Validate() error {
	if w.Participant.IsZero() {
		return fmt.Errorf("work item %s has no participant", w.ID)
	}
	if !w.Kind.Valid() {
		return fmt.Errorf("work item %s has unknown kind %q", w.ID, w.Kind)
	}
	return nil
}

// String implements fmt.Stringer.
func (w WorkItem) String() string {
	b, _ := json.Marshal(w)
	return string(b)
}

// Package provider fetches authoritative business cards for participants.
package provider

import (
	"context"

	"github.com/Aman-CERP/dirindex/internal/errors"
	"github.com/Aman-CERP/dirindex/internal/participant"
	"github.com/Aman-CERP/dirindex/internal/store"
)

// ErrNotFound is the confirmed absence of a business card.
// Implementations return it (or an error matching it with errors.Is).
var ErrNotFound = errors.ErrNotFound

// Provider returns the business entities of a participant.
// A participant with a card but no entities returns an empty slice and no error.
type Provider interface {
	Fetch(ctx context.Context, key participant.Key) ([]store.Entity, error)
}

// Func adapts a function to Provider.
type Func func(ctx context.Context, key participant.Key) ([]store.Entity, error)

// Fetch calls f.
func (f Func) Fetch(ctx context.Context, key participant.Key) ([]store.Entity, error) {
	return f(ctx, key)
}

// BusinessCard is the document served by the authority for one participant.
type BusinessCard struct {
	Participant string         `json:"participant,omitempty" yaml:"participant,omitempty"`
	Entities    []store.Entity `json:"entities" yaml:"entities"`
}

// validate checks that the card belongs to key, when it names a participant.
func (c BusinessCard) validate(key participant.Key) error {
	if c.Participant == "" {
		return nil
	}
	got, err := participant.Parse(c.Participant)
	if err != nil {
		return errors.New(errors.ErrCodeInvalidParticipant, "business card names an invalid participant", err).
			WithDetail("participant", c.Participant)
	}
	if got != key {
		return errors.New(errors.ErrCodeInvalidParticipant, "business card belongs to another participant", nil).
			WithDetail("expected", key.URIEncoded()).
			WithDetail("actual", got.URIEncoded())
	}
	return nil
}

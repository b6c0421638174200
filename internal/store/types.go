// Package store provides the searchable document index for participant
// business cards, backed by Bleve.
//
// Every participant owns zero or more documents, one per business entity.
// Writes replace a participant's full document set atomically and deletes are
// soft: documents are flagged, never physically removed.
package store

import (
	"time"

	"github.com/Aman-CERP/dirindex/internal/participant"
)

// Field names the indexed document fields that can be queried.
type Field string

const (
	FieldParticipantID    Field = "participant_id"
	FieldOwnerID          Field = "owner_id"
	FieldCountryCode      Field = "country_code"
	FieldName             Field = "name"
	FieldGeoInfo          Field = "geo_info"
	FieldIdentifierScheme Field = "identifier_scheme"
	FieldIdentifierValue  Field = "identifier_value"
	FieldWebsite          Field = "website"
	FieldFreeText         Field = "free_text"
	FieldRequestingHost   Field = "requesting_host"
)

// fieldDeleted and fieldSource are internal and not queryable through Query.
const (
	fieldDeleted   = "deleted"
	fieldIndexedAt = "indexed_at"
	fieldSource    = "source"
)

// IsText reports whether the field is analyzed full text (as opposed to an exact keyword).
func (f Field) IsText() bool {
	switch f {
	case FieldName, FieldGeoInfo, FieldFreeText:
		return true
	default:
		return false
	}
}

// Valid reports whether f is a known queryable field.
func (f Field) Valid() bool {
	switch f {
	case FieldParticipantID, FieldOwnerID, FieldCountryCode, FieldName, FieldGeoInfo,
		FieldIdentifierScheme, FieldIdentifierValue, FieldWebsite, FieldFreeText, FieldRequestingHost:
		return true
	default:
		return false
	}
}

// Identifier is an additional identifier of a business entity (e.g. a VAT number).
type Identifier struct {
	Scheme string `json:"scheme" yaml:"scheme"`
	Value  string `json:"value" yaml:"value"`
}

// Entity is the business data of one entity belonging to a participant,
// as returned by a provider.
type Entity struct {
	Name             string       `json:"name,omitempty" yaml:"name,omitempty"`
	CountryCode      string       `json:"country_code,omitempty" yaml:"country_code,omitempty"`
	GeoInfo          string       `json:"geo_info,omitempty" yaml:"geo_info,omitempty"`
	Identifiers      []Identifier `json:"identifiers,omitempty" yaml:"identifiers,omitempty"`
	Websites         []string     `json:"websites,omitempty" yaml:"websites,omitempty"`
	FreeText         string       `json:"free_text,omitempty" yaml:"free_text,omitempty"`
	RegistrationDate string       `json:"registration_date,omitempty" yaml:"registration_date,omitempty"`
}

// Metadata describes who caused a document to be written.
type Metadata struct {
	OwnerID        string
	RequestingHost string
}

// Document is one stored row of the index.
type Document struct {
	ID             string          `json:"id"`
	Participant    participant.Key `json:"participant"`
	OwnerID        string          `json:"owner_id"`
	RequestingHost string          `json:"requesting_host,omitempty"`
	IndexedAt      time.Time       `json:"indexed_at"`
	Deleted        bool            `json:"deleted,omitempty"`
	Entity
}

// Stats summarizes index contents.
type Stats struct {
	Documents        int `json:"documents"`
	DeletedDocuments int `json:"deleted_documents"`
	Participants     int `json:"participants"`
}

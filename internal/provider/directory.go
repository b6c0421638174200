package provider

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/dirindex/internal/errors"
	"github.com/Aman-CERP/dirindex/internal/participant"
	"github.com/Aman-CERP/dirindex/internal/store"
)

// cardExtensions are tried in order when looking up a card file.
var cardExtensions = []string{".json", ".yaml", ".yml"}

// DirectoryProvider serves business cards from files named after the
// path-escaped participant key, e.g. "iso6523-actorid-upis::9915:test0.json".
type DirectoryProvider struct {
	dir string
}

// NewDirectoryProvider creates a provider reading from dir.
func NewDirectoryProvider(dir string) *DirectoryProvider {
	return &DirectoryProvider{dir: dir}
}

// Dir returns the card directory.
func (p *DirectoryProvider) Dir() string {
	return p.dir
}

// HasCard reports whether a card file exists for key.
func (p *DirectoryProvider) HasCard(key participant.Key) bool {
	base := filepath.Join(p.dir, key.PathEscaped())
	for _, ext := range cardExtensions {
		if _, err := os.Stat(base + ext); err == nil {
			return true
		}
	}
	return false
}

// Fetch reads and decodes the card file of key.
func (p *DirectoryProvider) Fetch(ctx context.Context, key participant.Key) ([]store.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.FetchFailure("fetch cancelled", err)
	}

	base := filepath.Join(p.dir, key.PathEscaped())
	for _, ext := range cardExtensions {
		path := base + ext
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, errors.FetchFailure("failed to read business card", err).WithDetail("path", path)
		}

		card, err := decodeCard(path, data)
		if err != nil {
			return nil, errors.FetchFailure("failed to decode business card", err).WithDetail("path", path)
		}
		if err := card.validate(key); err != nil {
			return nil, err
		}
		slog.Debug("business_card_read",
			slog.String("participant", key.URIEncoded()),
			slog.String("path", path),
			slog.Int("entities", len(card.Entities)))
		return card.Entities, nil
	}
	return nil, errors.NotFound(key.URIEncoded())
}

// KeyFromPath returns the participant a card file belongs to.
func KeyFromPath(path string) (participant.Key, bool) {
	name := filepath.Base(path)
	ext := filepath.Ext(name)
	if !slices.Contains(cardExtensions, ext) {
		return participant.Key{}, false
	}
	unescaped, err := url.PathUnescape(strings.TrimSuffix(name, ext))
	if err != nil {
		return participant.Key{}, false
	}
	key, err := participant.Parse(unescaped)
	if err != nil {
		return participant.Key{}, false
	}
	// Only names Fetch and HasCard would look up count as cards.
	if key.PathEscaped()+ext != name {
		return participant.Key{}, false
	}
	return key, true
}

func decodeCard(path string, data []byte) (BusinessCard, error) {
	var card BusinessCard
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err := json.Unmarshal(data, &card)
		return card, err
	}
	err := yaml.Unmarshal(data, &card)
	return card, err
}

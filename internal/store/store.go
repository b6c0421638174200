package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/Aman-CERP/dirindex/internal/errors"
	"github.com/Aman-CERP/dirindex/internal/participant"
)

// pageSize bounds a single bleve search request while paging through results.
const pageSize = 500

// ErrClosed is returned by every operation on a closed store.
var ErrClosed = errors.New(errors.ErrCodeStoreClosed, "document store is closed", nil)

// QueryOption modifies a Query.
type QueryOption func(*queryOptions)

type queryOptions struct {
	includeDeleted bool
}

// IncludeDeleted makes a query also return soft-deleted documents.
func IncludeDeleted() QueryOption {
	return func(o *queryOptions) { o.includeDeleted = true }
}

// DocumentStore is the bleve-backed document index.
// Mutations hold the write lock for their whole read-modify-commit section and
// reads hold the read lock for their whole paged read, so readers never observe
// a partially applied write.
type DocumentStore struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
	now    func() time.Time
}

// Option configures a DocumentStore.
type Option func(*DocumentStore)

// WithClock sets the clock used to stamp IndexedAt.
func WithClock(now func() time.Time) Option {
	return func(s *DocumentStore) { s.now = now }
}

// validateIndexIntegrity checks the index metadata before bleve opens it.
func validateIndexIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing (corrupted index)")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty (corrupted)")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

// Open opens or creates the index at path. An empty path creates an in-memory index.
// A corrupted on-disk index is reported, never cleared.
func Open(path string, opts ...Option) (*DocumentStore, error) {
	indexMapping := createIndexMapping()

	var (
		idx bleve.Index
		err error
	)
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		if mkErr := os.MkdirAll(filepath.Dir(path), 0755); mkErr != nil {
			return nil, errors.New(errors.ErrCodeIndexOpen, "failed to create index directory", mkErr).
				WithDetail("path", path)
		}
		if validErr := validateIndexIntegrity(path); validErr != nil {
			slog.Error("document_index_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))
			return nil, errors.New(errors.ErrCodeIndexOpen, "document index is corrupted", validErr).
				WithDetail("path", path).
				WithSuggestion("Restore the index directory from a backup or move it away and re-queue participants")
		}

		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, errors.New(errors.ErrCodeIndexOpen, "failed to open document index", err).
			WithDetail("path", path)
	}

	s := &DocumentStore{
		index: idx,
		path:  path,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	slog.Debug("document_index_opened", slog.String("path", path))
	return s, nil
}

// createIndexMapping maps keyword fields to exact terms and text fields to the
// standard analyzer. The full document is kept in a stored, unindexed source field.
func createIndexMapping() *mapping.IndexMappingImpl {
	keyword := func() *mapping.FieldMapping {
		fm := bleve.NewKeywordFieldMapping()
		fm.IncludeInAll = false
		return fm
	}
	text := func() *mapping.FieldMapping {
		fm := bleve.NewTextFieldMapping()
		fm.Analyzer = standard.Name
		return fm
	}

	doc := bleve.NewDocumentMapping()
	for _, f := range []Field{FieldParticipantID, FieldOwnerID, FieldCountryCode,
		FieldIdentifierScheme, FieldIdentifierValue, FieldWebsite, FieldRequestingHost} {
		doc.AddFieldMappingsAt(string(f), keyword())
	}
	for _, f := range []Field{FieldName, FieldGeoInfo, FieldFreeText} {
		doc.AddFieldMappingsAt(string(f), text())
	}

	deleted := bleve.NewBooleanFieldMapping()
	deleted.IncludeInAll = false
	doc.AddFieldMappingsAt(fieldDeleted, deleted)

	indexedAt := bleve.NewDateTimeFieldMapping()
	indexedAt.IncludeInAll = false
	doc.AddFieldMappingsAt(fieldIndexedAt, indexedAt)

	source := bleve.NewTextFieldMapping()
	source.Index = false
	source.Store = true
	source.IncludeInAll = false
	source.IncludeTermVectors = false
	source.DocValues = false
	doc.AddFieldMappingsAt(fieldSource, source)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = doc
	indexMapping.DefaultAnalyzer = standard.Name
	return indexMapping
}

// Put replaces every document of key (live or deleted) with one document per entity
// in a single batch. An empty entities slice only removes the stale documents.
// It returns the number of documents written.
func (s *DocumentStore) Put(ctx context.Context, key participant.Key, meta Metadata, entities []Entity) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}

	existing, err := s.collect(ctx, participantQuery(key, true))
	if err != nil {
		return 0, err
	}

	batch := s.index.NewBatch()
	for _, doc := range existing {
		batch.Delete(doc.ID)
	}

	indexedAt := s.now().UTC()
	for i, entity := range entities {
		doc := Document{
			ID:             documentID(key, i),
			Participant:    key,
			OwnerID:        meta.OwnerID,
			RequestingHost: meta.RequestingHost,
			IndexedAt:      indexedAt,
			Entity:         normalizeEntity(entity),
		}
		fields, err := toFields(doc)
		if err != nil {
			return 0, errors.StorageFailure("failed to encode document", err).
				WithDetail("participant", key.URIEncoded())
		}
		if err := batch.Index(doc.ID, fields); err != nil {
			return 0, errors.StorageFailure("failed to add document to batch", err).
				WithDetail("participant", key.URIEncoded())
		}
	}

	if err := s.index.Batch(batch); err != nil {
		return 0, errors.StorageFailure("failed to commit document batch", err).
			WithDetail("participant", key.URIEncoded())
	}

	slog.Info("documents_replaced",
		slog.String("participant", key.URIEncoded()),
		slog.String("owner", meta.OwnerID),
		slog.Int("removed", len(existing)),
		slog.Int("added", len(entities)))
	return len(entities), nil
}

// SoftDelete flags every live document of key as deleted. Documents are never
// physically removed. It returns the number of documents marked.
func (s *DocumentStore) SoftDelete(ctx context.Context, key participant.Key, ownerID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}

	docs, err := s.collect(ctx, participantQuery(key, false))
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		slog.Debug("soft_delete_nothing_live", slog.String("participant", key.URIEncoded()))
		return 0, nil
	}

	batch := s.index.NewBatch()
	for _, doc := range docs {
		doc.Deleted = true
		fields, err := toFields(doc)
		if err != nil {
			return 0, errors.StorageFailure("failed to encode document", err).
				WithDetail("participant", key.URIEncoded())
		}
		if err := batch.Index(doc.ID, fields); err != nil {
			return 0, errors.StorageFailure("failed to add document to batch", err).
				WithDetail("participant", key.URIEncoded())
		}
	}
	if err := s.index.Batch(batch); err != nil {
		return 0, errors.StorageFailure("failed to commit soft delete", err).
			WithDetail("participant", key.URIEncoded())
	}

	slog.Info("documents_marked_deleted",
		slog.String("participant", key.URIEncoded()),
		slog.String("owner", ownerID),
		slog.Int("count", len(docs)))
	return len(docs), nil
}

// Exists reports whether key has at least one live document.
func (s *DocumentStore) Exists(ctx context.Context, key participant.Key) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, ErrClosed
	}
	total, err := s.count(ctx, participantQuery(key, false))
	if err != nil {
		return false, err
	}
	return total > 0, nil
}

// Query returns documents whose field matches value. Keyword fields match
// exactly, text fields are analyzed. Soft-deleted documents are excluded
// unless IncludeDeleted is given.
func (s *DocumentStore) Query(ctx context.Context, field Field, value string, opts ...QueryOption) ([]Document, error) {
	if !field.Valid() {
		return nil, errors.ValidationError(fmt.Sprintf("unknown query field %q", field), nil)
	}
	var o queryOptions
	for _, opt := range opts {
		opt(&o)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	return s.collect(ctx, fieldQuery(field, value, o.includeDeleted))
}

// Search runs a ranked free-text search over name, geo info and free text of
// live documents.
func (s *DocumentStore) Search(ctx context.Context, text string, limit int) ([]Document, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.ValidationError("search text must not be empty", nil)
	}
	if limit <= 0 {
		limit = 10
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	var fields []query.Query
	for _, f := range []Field{FieldName, FieldGeoInfo, FieldFreeText} {
		mq := bleve.NewMatchQuery(text)
		mq.SetField(string(f))
		fields = append(fields, mq)
	}
	q := bleve.NewConjunctionQuery(bleve.NewDisjunctionQuery(fields...), liveQuery())

	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	req.Fields = []string{fieldSource}
	res, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, errors.StorageFailure("search failed", err)
	}
	docs := make([]Document, 0, len(res.Hits))
	for _, hit := range res.Hits {
		doc, err := fromHit(hit.ID, hit.Fields)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// DocumentsOfParticipant returns the live documents of key.
func (s *DocumentStore) DocumentsOfParticipant(ctx context.Context, key participant.Key, opts ...QueryOption) ([]Document, error) {
	return s.Query(ctx, FieldParticipantID, key.URIEncoded(), opts...)
}

// DocumentsOfCountry returns the live documents with the given country code.
func (s *DocumentStore) DocumentsOfCountry(ctx context.Context, countryCode string, opts ...QueryOption) ([]Document, error) {
	return s.Query(ctx, FieldCountryCode, countryCode, opts...)
}

// Count returns the number of live documents.
func (s *DocumentStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrClosed
	}
	return s.count(ctx, liveQuery())
}

// CountDeleted returns the number of soft-deleted documents.
func (s *DocumentStore) CountDeleted(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrClosed
	}
	return s.count(ctx, deletedQuery())
}

// ParticipantCount returns the number of distinct participants with live documents.
func (s *DocumentStore) ParticipantCount(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrClosed
	}
	live, err := s.count(ctx, liveQuery())
	if err != nil {
		return 0, err
	}
	return s.distinctParticipants(ctx, live)
}

// Stats returns the document counters in one consistent read.
func (s *DocumentStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Stats{}, ErrClosed
	}
	var (
		st  Stats
		err error
	)
	if st.Documents, err = s.count(ctx, liveQuery()); err != nil {
		return Stats{}, err
	}
	if st.DeletedDocuments, err = s.count(ctx, deletedQuery()); err != nil {
		return Stats{}, err
	}
	if st.Participants, err = s.distinctParticipants(ctx, st.Documents); err != nil {
		return Stats{}, err
	}
	return st, nil
}

// distinctParticipants counts participant_id terms over the live documents
// with a terms facet. live bounds the number of distinct terms, so a facet of
// that size is never truncated. Callers hold s.mu.
func (s *DocumentStore) distinctParticipants(ctx context.Context, live int) (int, error) {
	if live == 0 {
		return 0, nil
	}
	req := bleve.NewSearchRequestOptions(liveQuery(), 0, 0, false)
	req.AddFacet(string(FieldParticipantID), bleve.NewFacetRequest(string(FieldParticipantID), live))
	res, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return 0, errors.StorageFailure("failed to count participants", err)
	}
	facet, ok := res.Facets[string(FieldParticipantID)]
	if !ok || facet.Terms == nil {
		return 0, nil
	}
	return facet.Terms.Len(), nil
}

// Path returns the on-disk location of the index, or "" for an in-memory index.
func (s *DocumentStore) Path() string {
	return s.path
}

// Close closes the index. It is safe to call more than once.
func (s *DocumentStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.index.Close(); err != nil {
		return errors.StorageFailure("failed to close document index", err)
	}
	return nil
}

// collect pages through every hit of q. Callers hold s.mu.
func (s *DocumentStore) collect(ctx context.Context, q query.Query) ([]Document, error) {
	var docs []Document
	for from := 0; ; from += pageSize {
		req := bleve.NewSearchRequestOptions(q, pageSize, from, false)
		req.Fields = []string{fieldSource}
		req.SortBy([]string{"_id"})

		res, err := s.index.SearchInContext(ctx, req)
		if err != nil {
			return nil, errors.StorageFailure("failed to read documents", err)
		}
		for _, hit := range res.Hits {
			doc, err := fromHit(hit.ID, hit.Fields)
			if err != nil {
				return nil, err
			}
			docs = append(docs, doc)
		}
		if len(res.Hits) < pageSize {
			return docs, nil
		}
	}
}

// count returns the total hits of q. Callers hold s.mu.
func (s *DocumentStore) count(ctx context.Context, q query.Query) (int, error) {
	req := bleve.NewSearchRequestOptions(q, 0, 0, false)
	res, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return 0, errors.StorageFailure("failed to count documents", err)
	}
	return int(res.Total), nil
}

func liveQuery() query.Query {
	q := bleve.NewBoolFieldQuery(false)
	q.SetField(fieldDeleted)
	return q
}

func deletedQuery() query.Query {
	q := bleve.NewBoolFieldQuery(true)
	q.SetField(fieldDeleted)
	return q
}

func participantQuery(key participant.Key, includeDeleted bool) query.Query {
	return fieldQuery(FieldParticipantID, key.URIEncoded(), includeDeleted)
}

func fieldQuery(field Field, value string, includeDeleted bool) query.Query {
	var q query.Query
	if field.IsText() {
		mq := bleve.NewMatchQuery(value)
		mq.SetField(string(field))
		q = mq
	} else {
		if field == FieldCountryCode {
			value = strings.ToUpper(value)
		}
		tq := bleve.NewTermQuery(value)
		tq.SetField(string(field))
		q = tq
	}
	if includeDeleted {
		return q
	}
	return bleve.NewConjunctionQuery(q, liveQuery())
}

func documentID(key participant.Key, n int) string {
	return key.URIEncoded() + "#" + strconv.Itoa(n)
}

func normalizeEntity(e Entity) Entity {
	e.CountryCode = strings.ToUpper(strings.TrimSpace(e.CountryCode))
	return e
}

// toFields flattens a document into the map bleve indexes.
func toFields(doc Document) (map[string]interface{}, error) {
	source, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}

	fields := map[string]interface{}{
		string(FieldParticipantID): doc.Participant.URIEncoded(),
		string(FieldOwnerID):       doc.OwnerID,
		fieldDeleted:               doc.Deleted,
		fieldIndexedAt:             doc.IndexedAt,
		fieldSource:                string(source),
	}
	setIfNotEmpty := func(f Field, v string) {
		if v != "" {
			fields[string(f)] = v
		}
	}
	setIfNotEmpty(FieldRequestingHost, doc.RequestingHost)
	setIfNotEmpty(FieldCountryCode, doc.CountryCode)
	setIfNotEmpty(FieldName, doc.Name)
	setIfNotEmpty(FieldGeoInfo, doc.GeoInfo)
	setIfNotEmpty(FieldFreeText, doc.FreeText)

	if len(doc.Identifiers) > 0 {
		schemes := make([]string, 0, len(doc.Identifiers))
		values := make([]string, 0, len(doc.Identifiers))
		for _, id := range doc.Identifiers {
			schemes = append(schemes, id.Scheme)
			values = append(values, id.Value)
		}
		fields[string(FieldIdentifierScheme)] = schemes
		fields[string(FieldIdentifierValue)] = values
	}
	if len(doc.Websites) > 0 {
		fields[string(FieldWebsite)] = doc.Websites
	}
	return fields, nil
}

func fromHit(id string, fields map[string]interface{}) (Document, error) {
	raw, ok := fields[fieldSource].(string)
	if !ok {
		return Document{}, errors.StorageFailure("document has no stored source", nil).
			WithDetail("id", id)
	}
	var doc Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return Document{}, errors.StorageFailure("failed to decode stored document", err).
			WithDetail("id", id)
	}
	return doc, nil
}

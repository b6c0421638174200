package workitem

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Aman-CERP/dirindex/internal/errors"
)

// PendingVersion is the current pending-work file format version.
const PendingVersion = 1

// DefaultPendingFileName is the pending-work file name inside the data directory.
const DefaultPendingFileName = "pending-work-items.json"

// Retry is the persisted form of an item waiting in the retry ledger.
type Retry struct {
	Item          WorkItem  `json:"item"`
	RetryCount    int       `json:"retry_count"`
	MaxRetryDate  time.Time `json:"max_retry_date"`
	NextRetryDate time.Time `json:"next_retry_date"`
}

// Pending is the work that was outstanding when the indexer shut down.
type Pending struct {
	Version int        `json:"version"`
	Items   []WorkItem `json:"items"`
	Retries []Retry    `json:"retries"`
}

// Empty reports whether there is nothing to persist.
func (p Pending) Empty() bool {
	return len(p.Items) == 0 && len(p.Retries) == 0
}

// PendingFile reads and writes the pending-work file.
type PendingFile struct {
	path string
}

// NewPendingFile returns a handle for the file at path.
func NewPendingFile(path string) *PendingFile {
	return &PendingFile{path: path}
}

// Path returns the file location.
func (f *PendingFile) Path() string {
	return f.path
}

// Exists reports whether the file is present.
func (f *PendingFile) Exists() bool {
	_, err := os.Stat(f.path)
	return err == nil
}

// Load reads the file. A missing file yields an empty Pending and no error.
// An unknown version or unparsable content yields an ERR_206 error.
func (f *PendingFile) Load() (Pending, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return Pending{Version: PendingVersion}, nil
	}
	if err != nil {
		return Pending{}, errors.StorageFailure("failed to read pending work file", err).
			WithDetail("path", f.path)
	}

	var p Pending
	if err := json.Unmarshal(data, &p); err != nil {
		return Pending{}, errors.New(errors.ErrCodeFileCorrupt, "pending work file is corrupt", err).
			WithDetail("path", f.path)
	}
	if p.Version != PendingVersion {
		return Pending{}, errors.New(errors.ErrCodeFileCorrupt,
			fmt.Sprintf("unsupported pending work file version %d", p.Version), nil).
			WithDetail("path", f.path).
			WithSuggestion("Move the file away after inspecting it; it is left untouched")
	}

	valid := p.Items[:0]
	for _, item := range p.Items {
		if err := item.Validate(); err != nil {
			slog.Warn("pending_item_skipped", slog.String("error", err.Error()))
			continue
		}
		valid = append(valid, item)
	}
	p.Items = valid

	retries := p.Retries[:0]
	for _, r := range p.Retries {
		if err := r.Item.Validate(); err != nil {
			slog.Warn("pending_item_skipped", slog.String("error", err.Error()))
			continue
		}
		retries = append(retries, r)
	}
	p.Retries = retries
	return p, nil
}

// Save atomically writes p to the file using a temp file and rename.
func (f *PendingFile) Save(p Pending) error {
	p.Version = PendingVersion
	if p.Items == nil {
		p.Items = []WorkItem{}
	}
	if p.Retries == nil {
		p.Retries = []Retry{}
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return errors.InternalError("failed to encode pending work", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.StorageFailure("failed to create data directory", err).WithDetail("path", dir)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return errors.StorageFailure("failed to create temp file", err).WithDetail("path", dir)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return errors.StorageFailure("failed to write pending work", err).WithDetail("path", tmpPath)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return errors.StorageFailure("failed to sync pending work", err).WithDetail("path", tmpPath)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return errors.StorageFailure("failed to close pending work file", err).WithDetail("path", tmpPath)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		cleanup()
		return errors.StorageFailure("failed to move pending work file into place", err).
			WithDetail("path", f.path)
	}
	return nil
}

// Remove deletes the file. A missing file is not an error.
func (f *PendingFile) Remove() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return errors.StorageFailure("failed to remove pending work file", err).WithDetail("path", f.path)
	}
	return nil
}

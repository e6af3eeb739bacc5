package artifacts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// MaxPackageSize bounds a zipped processor package.
const MaxPackageSize = 10 * 1024 * 1024

// PackageRecord describes one archived processor package. Records are
// stored as JSON blobs beside the archives they describe.
type PackageRecord struct {
	Processor string    `json:"processor"`
	AgentID   string    `json:"agent_id,omitempty"`
	PackageID string    `json:"package_id"`
	Size      int       `json:"size"`
	Files     []string  `json:"files"`
	CreatedAt time.Time `json:"created_at"`
}

// Registry archives processor packages into a Store.
type Registry struct {
	store Store
	now   func() time.Time
}

// NewRegistry creates a Registry over store.
func NewRegistry(store Store) *Registry {
	return &Registry{store: store, now: time.Now}
}

// ArchivePackage zips dir, stores the archive and a record describing it,
// and returns the record id, the record and the archive bytes.
func (r *Registry) ArchivePackage(ctx context.Context, processor, agentID, dir string) (string, *PackageRecord, []byte, error) {
	archive, files, err := ZipDir(dir)
	if err != nil {
		return "", nil, nil, err
	}
	if len(files) == 0 {
		return "", nil, nil, fmt.Errorf("package %s: %s has no files", processor, dir)
	}
	if len(archive) > MaxPackageSize {
		return "", nil, nil, fmt.Errorf("package %s: archive is %d bytes, limit %d", processor, len(archive), MaxPackageSize)
	}

	pkgID, err := r.store.Store(ctx, archive)
	if err != nil {
		return "", nil, nil, fmt.Errorf("store package %s: %w", processor, err)
	}
	rec := &PackageRecord{
		Processor: processor,
		AgentID:   agentID,
		PackageID: pkgID,
		Size:      len(archive),
		Files:     files,
		CreatedAt: r.now().UTC(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", nil, nil, fmt.Errorf("encode package record: %w", err)
	}
	recID, err := r.store.Store(ctx, data)
	if err != nil {
		return "", nil, nil, fmt.Errorf("store package record: %w", err)
	}
	return recID, rec, archive, nil
}

// Record loads a package record.
func (r *Registry) Record(ctx context.Context, id string) (*PackageRecord, error) {
	data, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	var rec PackageRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("corrupt package record %s: %w", id, err)
	}
	if rec.PackageID == "" {
		return nil, fmt.Errorf("%s is not a package record", id)
	}
	return &rec, nil
}

// Package loads the archive a record points to and checks it still matches
// its id.
func (r *Registry) Package(ctx context.Context, rec *PackageRecord) ([]byte, error) {
	data, err := r.store.Get(ctx, rec.PackageID)
	if err != nil {
		return nil, err
	}
	if got := ContentID(data); got != rec.PackageID {
		return nil, fmt.Errorf("package %s is corrupt: content hashes to %s", rec.PackageID, got)
	}
	return data, nil
}

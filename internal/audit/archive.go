package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

// ObjectStore is the subset of object storage the archiver needs.
type ObjectStore interface {
	UploadFile(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	GetPresignedURL(ctx context.Context, key string, expires time.Duration) (string, error)
}

// ArchiveResult describes an uploaded snapshot.
type ArchiveResult struct {
	Key     string    `json:"key"`
	URL     string    `json:"url"`
	Entries int       `json:"entries"`
	At      time.Time `json:"at"`
}

// Archiver writes audit snapshots as newline-delimited JSON to object storage.
type Archiver struct {
	svc       *Service
	store     ObjectStore
	urlExpiry time.Duration
}

func NewArchiver(svc *Service, store ObjectStore) *Archiver {
	return &Archiver{svc: svc, store: store, urlExpiry: 15 * time.Minute}
}

// Archive uploads up to the newest 500 entries at or after since.
func (a *Archiver) Archive(ctx context.Context, since time.Time) (*ArchiveResult, error) {
	if a == nil || a.store == nil {
		return nil, errors.New("audit archive storage not configured")
	}
	entries, err := a.svc.List(ctx, Filter{Since: since, Limit: maxLimit})
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	body, err := encodeNDJSON(entries)
	if err != nil {
		return nil, err
	}
	now := a.svc.now()
	key := fmt.Sprintf("audit/%s/%s.ndjson", now.Format("2006/01/02"), uuid.NewString())
	if err := a.store.UploadFile(ctx, key, bytes.NewReader(body), int64(len(body)), "application/x-ndjson"); err != nil {
		return nil, fmt.Errorf("upload audit archive: %w", err)
	}
	url, err := a.store.GetPresignedURL(ctx, key, a.urlExpiry)
	if err != nil {
		return nil, fmt.Errorf("presign audit archive: %w", err)
	}
	return &ArchiveResult{Key: key, URL: url, Entries: len(entries), At: now}, nil
}

func encodeNDJSON(entries []*Entry) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return nil, fmt.Errorf("encode audit entry %s: %w", e.ID, err)
		}
	}
	return buf.Bytes(), nil
}

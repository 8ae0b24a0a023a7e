// Package auditarchive exports signed audit-log segments as
// content-addressed NDJSON bundles to an object store, for cold long-term
// retention once the live log is rotated or its in-process store is
// recycled. It reads nothing the signature chain hasn't already verified:
// it never re-derives trust, it only packages and ships.
package auditarchive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/Mindburn-Labs/helm/core/pkg/auditlog"
)

// Store is the object-store backend a Bundle is written to. Both the S3
// and GCS backends in this package, and any test double, satisfy it.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// Bundle is the manifest describing one exported NDJSON segment.
type Bundle struct {
	Checksum   string `json:"checksum"` // "sha256:<hex>" over the NDJSON body
	Key        string `json:"key"`      // object store key the body was written to
	EntryCount int    `json:"entry_count"`
	FirstSeq   uint64 `json:"first_sequence"`
	LastSeq    uint64 `json:"last_sequence"`
}

// Archiver exports audit log entries to a Store as content-addressed
// NDJSON bundles.
type Archiver struct {
	store  Store
	prefix string
}

// New builds an Archiver writing under the given key prefix (e.g.
// "audit-bundles/").
func New(store Store, prefix string) *Archiver {
	return &Archiver{store: store, prefix: prefix}
}

// Export serializes entries as newline-delimited JSON, one audit entry per
// line in the order the slice gives them (Export does not sort), and writes
// it to the store under a key
// derived from the content's SHA-256 hash. Writing is idempotent: exporting
// the same entries twice produces the same key and skips the redundant
// upload.
func (a *Archiver) Export(ctx context.Context, entries []auditlog.Entry) (Bundle, error) {
	if len(entries) == 0 {
		return Bundle{}, fmt.Errorf("auditarchive: no entries to export")
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return Bundle{}, fmt.Errorf("auditarchive: encode entry %d: %w", e.Sequence, err)
		}
	}

	sum := sha256.Sum256(buf.Bytes())
	checksum := "sha256:" + hex.EncodeToString(sum[:])
	key := a.prefix + hex.EncodeToString(sum[:]) + ".ndjson"

	exists, err := a.store.Exists(ctx, key)
	if err != nil {
		return Bundle{}, fmt.Errorf("auditarchive: exists check for %s: %w", key, err)
	}
	if !exists {
		if err := a.store.Put(ctx, key, buf.Bytes()); err != nil {
			return Bundle{}, fmt.Errorf("auditarchive: put %s: %w", key, err)
		}
	}

	return Bundle{
		Checksum:   checksum,
		Key:        key,
		EntryCount: len(entries),
		FirstSeq:   entries[0].Sequence,
		LastSeq:    entries[len(entries)-1].Sequence,
	}, nil
}

// Fetch retrieves and decodes a previously exported bundle's entries.
func (a *Archiver) Fetch(ctx context.Context, b Bundle) ([]auditlog.Entry, error) {
	data, err := a.store.Get(ctx, b.Key)
	if err != nil {
		return nil, fmt.Errorf("auditarchive: get %s: %w", b.Key, err)
	}

	sum := sha256.Sum256(data)
	if "sha256:"+hex.EncodeToString(sum[:]) != b.Checksum {
		return nil, fmt.Errorf("auditarchive: checksum mismatch for %s", b.Key)
	}

	var entries []auditlog.Entry
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var e auditlog.Entry
		if err := dec.Decode(&e); err != nil {
			return nil, fmt.Errorf("auditarchive: decode entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

package auditarchive

import (
	"context"
	"testing"
	"time"

	"github.com/Mindburn-Labs/helm/core/pkg/auditlog"
)

func sampleEntries() []auditlog.Entry {
	return []auditlog.Entry{
		{
			ID:            "entry-1",
			Sequence:      1,
			Timestamp:     time.Unix(0, 0).UTC(),
			Actor:         "agent:test",
			ActionType:    "file_read",
			ActionSummary: "read /tmp/x",
			Outcome:       auditlog.OutcomeAllowed,
		},
		{
			ID:            "entry-2",
			Sequence:      2,
			Timestamp:     time.Unix(1, 0).UTC(),
			Actor:         "agent:test",
			ActionType:    "file_write",
			ActionSummary: "write /tmp/y",
			Outcome:       auditlog.OutcomeDenied,
			DenialReason:  "policy denied",
		},
	}
}

func TestArchiver_ExportIsIdempotentAndRoundTrips(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	a := New(store, "bundles/")

	entries := sampleEntries()

	b1, err := a.Export(ctx, entries)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if b1.EntryCount != 2 || b1.FirstSeq != 1 || b1.LastSeq != 2 {
		t.Fatalf("unexpected bundle metadata: %+v", b1)
	}

	b2, err := a.Export(ctx, entries)
	if err != nil {
		t.Fatalf("Export (second): %v", err)
	}
	if b1.Key != b2.Key || b1.Checksum != b2.Checksum {
		t.Fatalf("expected identical bundle on re-export, got %+v vs %+v", b1, b2)
	}

	fetched, err := a.Fetch(ctx, b1)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(fetched) != len(entries) {
		t.Fatalf("expected %d entries, got %d", len(entries), len(fetched))
	}
	if fetched[0].ID != entries[0].ID || fetched[1].ID != entries[1].ID {
		t.Fatalf("entry identity mismatch after round trip: %+v", fetched)
	}
}

func TestArchiver_ExportRejectsEmpty(t *testing.T) {
	a := New(NewMemoryStore(), "bundles/")
	if _, err := a.Export(context.Background(), nil); err == nil {
		t.Fatal("expected error exporting zero entries")
	}
}

func TestArchiver_FetchDetectsTamperedChecksum(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	a := New(store, "bundles/")

	b, err := a.Export(ctx, sampleEntries())
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	if err := store.Put(ctx, b.Key, []byte("tampered")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if _, err := a.Fetch(ctx, b); err == nil {
		t.Fatal("expected checksum mismatch error after tampering")
	}
}

package crypto

import "testing"

func TestRuntimeKeyStore_LoadOrCreatePersists(t *testing.T) {
	dir := t.TempDir()
	ks, err := NewRuntimeKeyStore(dir)
	if err != nil {
		t.Fatalf("NewRuntimeKeyStore: %v", err)
	}

	s1, err := ks.LoadOrCreate("runtime")
	if err != nil {
		t.Fatalf("LoadOrCreate (create): %v", err)
	}

	s2, err := ks.LoadOrCreate("runtime")
	if err != nil {
		t.Fatalf("LoadOrCreate (reload): %v", err)
	}

	if s1.PublicKey() != s2.PublicKey() {
		t.Fatalf("reloaded key differs: %s vs %s", s1.PublicKey(), s2.PublicKey())
	}
}

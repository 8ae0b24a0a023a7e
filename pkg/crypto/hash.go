package crypto

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"lukechampine.com/blake3"
)

// ContentHashSize is the width of a ContentHash in bytes (BLAKE3-256).
const ContentHashSize = 32

// ContentHash is a fixed-width BLAKE3 digest used to content-address audit
// entries and capability tokens. Unlike the plain SHA-256 digests of
// pkg/canonicalize's CanonicalHash, ContentHash values carry an
// explicit domain string so a hash computed for one purpose can never be
// mistaken for a hash computed for another.
type ContentHash [ContentHashSize]byte

// HashWithDomain computes BLAKE3(domain || data). The domain is concatenated
// as raw bytes ahead of the payload, not used as a BLAKE3 key-derivation
// context -- callers that need cross-implementation byte-identical hashes
// depend on this exact construction.
func HashWithDomain(domain string, data []byte) ContentHash {
	h := blake3.New(ContentHashSize, nil)
	h.Write([]byte(domain))
	h.Write(data)
	var out ContentHash
	copy(out[:], h.Sum(nil))
	return out
}

// HashMulti hashes the domain followed by each chunk in order, equivalent to
// HashWithDomain(domain, bytes.Join(chunks, nil)) but without the
// intermediate allocation.
func HashMulti(domain string, chunks ...[]byte) ContentHash {
	h := blake3.New(ContentHashSize, nil)
	h.Write([]byte(domain))
	for _, c := range chunks {
		h.Write(c)
	}
	var out ContentHash
	copy(out[:], h.Sum(nil))
	return out
}

// IsZero reports whether this is the all-zero sentinel hash used as the
// previous-hash of a genesis entry.
func (h ContentHash) IsZero() bool {
	for _, b := range h {
		if b != 0 {
			return false
		}
	}
	return true
}

func (h ContentHash) String() string { return h.Hex() }

// Hex renders the hash as lowercase hex.
func (h ContentHash) Hex() string { return hex.EncodeToString(h[:]) }

// Base64 renders the hash as standard base64. Capability-token hashes
// (capabilities.TokenHash) use Hex, not this encoding.
func (h ContentHash) Base64() string { return base64.StdEncoding.EncodeToString(h[:]) }

// ContentHashFromHex parses a lowercase-hex-encoded hash.
func ContentHashFromHex(s string) (ContentHash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return ContentHash{}, fmt.Errorf("content hash: invalid hex: %w", err)
	}
	if len(b) != ContentHashSize {
		return ContentHash{}, fmt.Errorf("content hash: expected %d bytes, got %d", ContentHashSize, len(b))
	}
	var out ContentHash
	copy(out[:], b)
	return out, nil
}

// ZeroHash is the genesis sentinel: entry[0].previous_hash == ZeroHash.
var ZeroHash = ContentHash{}

package crypto

import "testing"

func TestSigner_Integrity(t *testing.T) {
	signer, err := NewEd25519Signer("key-1")
	if err != nil {
		t.Fatalf("Failed to create signer: %v", err)
	}

	payload := []byte("dec-123:PASS:Looks good")

	sig, err := signer.Sign(payload)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if sig == "" {
		t.Error("Signature empty")
	}

	ok, err := Verify(signer.PublicKey(), sig, payload)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !ok {
		t.Error("valid signature rejected")
	}

	tampered := []byte("dec-123:PASS:I changed this")
	ok, _ = Verify(signer.PublicKey(), sig, tampered)
	if ok {
		t.Error("tampered payload accepted")
	}
}

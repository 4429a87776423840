package authutil

import (
	"testing"
	"time"
)

func TestBcryptHasherRoundTrip(t *testing.T) {
	var h BcryptHasher
	hash, err := h.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !h.Verify("correct horse battery staple", hash) {
		t.Fatal("expected Verify to accept the original password")
	}
	if h.Verify("wrong password", hash) {
		t.Fatal("expected Verify to reject a wrong password")
	}
}

func TestRandomTokenIssuerProducesDistinctTokens(t *testing.T) {
	var issuer RandomTokenIssuer
	now := time.Now().UTC()

	plaintext1, rec1, err := issuer.Issue("user-1", now, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	plaintext2, rec2, err := issuer.Issue("user-1", now, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if plaintext1 == plaintext2 {
		t.Fatal("expected distinct plaintext tokens across issuances")
	}
	if rec1.TokenHash == rec2.TokenHash {
		t.Fatal("expected distinct token hashes across issuances")
	}
	if !rec1.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("expected ExpiresAt = now+ttl, got %v", rec1.ExpiresAt)
	}

	var h BcryptHasher
	if !h.Verify(plaintext1, rec1.TokenHash) {
		t.Fatal("expected the issued plaintext to verify against its own hash")
	}
}

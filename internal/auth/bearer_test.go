package auth

import (
	"errors"
	"testing"
	"time"

	"sentra.org/internal/ids"
)

func TestBearerRoundTrip(t *testing.T) {
	verifier, err := NewBearerVerifier("bearer-secret", "sentra")
	if err != nil {
		t.Fatalf("NewBearerVerifier: %v", err)
	}
	userID := ids.New()

	raw, err := verifier.IssueBearer(userID, time.Hour)
	if err != nil {
		t.Fatalf("IssueBearer: %v", err)
	}
	got, err := verifier.Verify(raw)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got != userID {
		t.Fatalf("subject mismatch: got %s want %s", got, userID)
	}
}

func TestBearerRejections(t *testing.T) {
	verifier, err := NewBearerVerifier("bearer-secret", "sentra")
	if err != nil {
		t.Fatalf("NewBearerVerifier: %v", err)
	}
	other, err := NewBearerVerifier("other-secret", "sentra")
	if err != nil {
		t.Fatalf("NewBearerVerifier: %v", err)
	}
	wrongIssuer, err := NewBearerVerifier("bearer-secret", "someone-else")
	if err != nil {
		t.Fatalf("NewBearerVerifier: %v", err)
	}

	userID := ids.New()
	good, err := verifier.IssueBearer(userID, time.Hour)
	if err != nil {
		t.Fatalf("IssueBearer: %v", err)
	}
	foreign, err := other.IssueBearer(userID, time.Hour)
	if err != nil {
		t.Fatalf("IssueBearer: %v", err)
	}
	badIssuer, err := wrongIssuer.IssueBearer(userID, time.Hour)
	if err != nil {
		t.Fatalf("IssueBearer: %v", err)
	}

	for name, raw := range map[string]string{
		"empty":          "",
		"garbage":        "aaa.bbb.ccc",
		"foreign secret": foreign,
		"wrong issuer":   badIssuer,
	} {
		if _, err := verifier.Verify(raw); !errors.Is(err, ErrInvalidBearer) {
			t.Fatalf("%s: expected ErrInvalidBearer, got %v", name, err)
		}
	}

	if _, err := verifier.Verify(good); err != nil {
		t.Fatalf("control token failed: %v", err)
	}
}

func TestBearerExpiry(t *testing.T) {
	verifier, err := NewBearerVerifier("bearer-secret", "sentra")
	if err != nil {
		t.Fatalf("NewBearerVerifier: %v", err)
	}
	if _, err := verifier.IssueBearer(ids.New(), 0); err == nil {
		t.Fatal("expected error for non-positive ttl")
	}
}

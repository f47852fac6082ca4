package token

import (
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"sentra.org/internal/ids"
)

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	c, err := NewCodec("unit-test-secret")
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return c
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	codec := newTestCodec(t)
	expires := time.Now().Add(2 * time.Hour).Truncate(time.Second).UTC()

	cases := []struct {
		name   string
		claims Claims
	}{
		{"typical", Claims{TenantID: 7, UserID: ids.New(), TenantGen: 3, UserGen: 1, ExpiresAt: expires, LoginEventID: 42}},
		{"never expires", Claims{TenantID: 1, UserID: ids.New(), TenantGen: 1, UserGen: 1}},
		{"untracked login event", Claims{TenantID: 9000, UserID: ids.New(), TenantGen: 12, UserGen: 99, ExpiresAt: expires}},
		{"max generations", Claims{TenantID: 1, UserID: ids.New(), TenantGen: 1<<31 - 1, UserGen: 1<<31 - 1, LoginEventID: 1<<31 - 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			encoded, err := codec.Encode(tc.claims)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			got, err := codec.Decode(encoded)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got.TenantID != tc.claims.TenantID || got.UserID != tc.claims.UserID ||
				got.TenantGen != tc.claims.TenantGen || got.UserGen != tc.claims.UserGen ||
				got.LoginEventID != tc.claims.LoginEventID {
				t.Fatalf("roundtrip mismatch:\n got %+v\nwant %+v", got, tc.claims)
			}
			if got.ExpiresAt.IsZero() != tc.claims.ExpiresAt.IsZero() {
				t.Fatalf("expiry sentinel not preserved: got %v want %v", got.ExpiresAt, tc.claims.ExpiresAt)
			}
			if !tc.claims.ExpiresAt.IsZero() && !got.ExpiresAt.Equal(tc.claims.ExpiresAt) {
				t.Fatalf("expiry mismatch: got %v want %v", got.ExpiresAt, tc.claims.ExpiresAt)
			}
		})
	}
}

func TestDecodeRejectsBitFlips(t *testing.T) {
	codec := newTestCodec(t)
	encoded, err := codec.Encode(Claims{TenantID: 7, UserID: ids.New(), TenantGen: 3, UserGen: 1, LoginEventID: 5})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("decode base64: %v", err)
	}
	for i := range raw {
		for bit := 0; bit < 8; bit++ {
			mutated := make([]byte, len(raw))
			copy(mutated, raw)
			mutated[i] ^= 1 << bit
			if _, err := codec.Decode(base64.RawURLEncoding.EncodeToString(mutated)); !errors.Is(err, ErrDecode) {
				t.Fatalf("byte %d bit %d: expected ErrDecode, got %v", i, bit, err)
			}
		}
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	codec := newTestCodec(t)
	for _, in := range []string{
		"",
		BearerSentinel,
		"not base64 !!!",
		"AAAA",
		base64.RawURLEncoding.EncodeToString(make([]byte, 5)),
		base64.RawURLEncoding.EncodeToString(make([]byte, 120)),
	} {
		if _, err := codec.Decode(in); !errors.Is(err, ErrDecode) {
			t.Fatalf("Decode(%q): expected ErrDecode, got %v", in, err)
		}
	}
}

func TestDecodeRejectsForeignSecret(t *testing.T) {
	codec := newTestCodec(t)
	other, err := NewCodec("a-different-secret")
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	encoded, err := other.Encode(Claims{TenantID: 1, UserID: ids.New(), TenantGen: 1, UserGen: 1})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := codec.Decode(encoded); !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode for foreign secret, got %v", err)
	}
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	codec := newTestCodec(t)
	encoded, err := codec.Encode(Claims{TenantID: 1, UserID: ids.New(), TenantGen: 1, UserGen: 1})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	raw, _ := base64.RawURLEncoding.DecodeString(encoded)
	raw[0] = 0x7f
	if _, err := codec.Decode(base64.RawURLEncoding.EncodeToString(raw)); !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode for unknown version, got %v", err)
	}
}

func TestExpired(t *testing.T) {
	now := time.Now()
	if (Claims{}).Expired(now) {
		t.Fatalf("zero expiry must mean never")
	}
	if !(Claims{ExpiresAt: now.Add(-time.Second)}).Expired(now) {
		t.Fatalf("past expiry not flagged")
	}
	if (Claims{ExpiresAt: now.Add(time.Second)}).Expired(now) {
		t.Fatalf("future expiry flagged")
	}
}

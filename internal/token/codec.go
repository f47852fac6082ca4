// Package token implements the encrypted session token carried as the
// session cookie value. The token is stateless: every field needed to
// re-validate a session is inside the ciphertext, protected by AES-GCM.
package token

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
)

// BearerSentinel is a reserved cookie value meaning "header bearer auth is
// in use for this request". It is not a token and must never reach Decode.
const BearerSentinel = "$bearer$"

// ErrDecode indicates the token failed decoding: malformed encoding,
// integrity check failure, or an unsupported version tag.
var ErrDecode = errors.New("token: decode failed")

const (
	version1 = 0x01

	// version(1) + tenant(4) + user(16) + tenantGen(4) + userGen(4) +
	// expiresAt(8) + loginEvent(4)
	payloadLen = 41

	nonceLen = 12
)

// neverUnix marks "no expiry" on the wire. A zero Claims.ExpiresAt maps
// to this sentinel and back.
const neverUnix = int64(1<<63 - 1)

// Claims are the logical fields bound into a session token.
type Claims struct {
	TenantID     int32
	UserID       ulid.ULID
	TenantGen    int32
	UserGen      int32
	ExpiresAt    time.Time // IsZero means "never"
	LoginEventID int32
}

// Expired reports whether the claims carry an expiry in the past.
func (c Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && c.ExpiresAt.Before(now)
}

// Codec encrypts and authenticates session tokens with a server-held
// secret. Encode and Decode are pure and safe for concurrent use.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec derives a 256-bit AES-GCM key from the configured secret.
// The secret may be any non-empty string; it is stretched via SHA-256.
func NewCodec(secret string) (*Codec, error) {
	if secret == "" {
		return nil, errors.New("token: secret is required")
	}
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Codec{aead: aead}, nil
}

// Encode seals the claims into an opaque cookie-safe string.
func (c *Codec) Encode(claims Claims) (string, error) {
	payload := make([]byte, payloadLen)
	payload[0] = version1
	binary.BigEndian.PutUint32(payload[1:5], uint32(claims.TenantID))
	copy(payload[5:21], claims.UserID[:])
	binary.BigEndian.PutUint32(payload[21:25], uint32(claims.TenantGen))
	binary.BigEndian.PutUint32(payload[25:29], uint32(claims.UserGen))
	exp := neverUnix
	if !claims.ExpiresAt.IsZero() {
		exp = claims.ExpiresAt.Unix()
	}
	binary.BigEndian.PutUint64(payload[29:37], uint64(exp))
	binary.BigEndian.PutUint32(payload[37:41], uint32(claims.LoginEventID))

	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	// The version byte rides in clear ahead of the nonce and is bound as
	// additional data, so a downgraded tag fails authentication.
	sealed := c.aead.Seal(nil, nonce, payload, []byte{version1})
	out := make([]byte, 0, 1+nonceLen+len(sealed))
	out = append(out, version1)
	out = append(out, nonce...)
	out = append(out, sealed...)
	return base64.RawURLEncoding.EncodeToString(out), nil
}

// Decode opens an encoded token and returns its claims. Any tampering,
// truncation or unknown version yields ErrDecode; Decode never panics on
// attacker-controlled input.
func (c *Codec) Decode(encoded string) (Claims, error) {
	if encoded == "" || encoded == BearerSentinel {
		return Claims{}, ErrDecode
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return Claims{}, ErrDecode
	}
	if len(raw) < 1+nonceLen+c.aead.Overhead() {
		return Claims{}, ErrDecode
	}
	if raw[0] != version1 {
		return Claims{}, ErrDecode
	}
	nonce := raw[1 : 1+nonceLen]
	sealed := raw[1+nonceLen:]
	payload, err := c.aead.Open(nil, nonce, sealed, []byte{raw[0]})
	if err != nil {
		return Claims{}, ErrDecode
	}
	if len(payload) != payloadLen || payload[0] != version1 {
		return Claims{}, ErrDecode
	}

	var claims Claims
	claims.TenantID = int32(binary.BigEndian.Uint32(payload[1:5]))
	copy(claims.UserID[:], payload[5:21])
	claims.TenantGen = int32(binary.BigEndian.Uint32(payload[21:25]))
	claims.UserGen = int32(binary.BigEndian.Uint32(payload[25:29]))
	exp := int64(binary.BigEndian.Uint64(payload[29:37]))
	if exp != neverUnix {
		claims.ExpiresAt = time.Unix(exp, 0).UTC()
	}
	claims.LoginEventID = int32(binary.BigEndian.Uint32(payload[37:41]))
	return claims, nil
}

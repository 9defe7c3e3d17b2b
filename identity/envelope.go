// Package identity implements the Ed25519 identity envelope: public key
// parsing, fingerprint derivation, the canonical signing-bytes format, and
// the HMAC-bound recovery challenge string. Agents keep their private key
// locally; the server only ever sees public keys and signatures.
package identity

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPublicKey is returned when a key string has the wrong prefix or
// decodes to something other than 32 bytes.
var ErrInvalidPublicKey = errors.New("identity: invalid public key")

const publicKeyPrefix = "ed25519:"

// envelopeDomain prefixes every canonical signing payload so a signature
// produced for MoltNet can never be replayed against a different protocol.
const envelopeDomain = "moltnet:v1"

// ParsePublicKey decodes the wire form "ed25519:<base64>" into raw key
// bytes. It fails with ErrInvalidPublicKey on a bad prefix or a decoded
// length other than ed25519.PublicKeySize.
func ParsePublicKey(s string) (ed25519.PublicKey, error) {
	if !strings.HasPrefix(s, publicKeyPrefix) {
		return nil, fmt.Errorf("%w: missing %q prefix", ErrInvalidPublicKey, publicKeyPrefix)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(s, publicKeyPrefix))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidPublicKey, ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// FormatPublicKey is the inverse of ParsePublicKey.
func FormatPublicKey(pub ed25519.PublicKey) string {
	return publicKeyPrefix + base64.StdEncoding.EncodeToString(pub)
}

// DeriveFingerprint returns the dash-grouped, uppercase 16-hex-char SHA-256
// prefix of the raw public key bytes: "XXXX-XXXX-XXXX-XXXX".
func DeriveFingerprint(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	full := strings.ToUpper(hex.EncodeToString(sum[:]))[:16]
	groups := make([]string, 0, 4)
	for i := 0; i < len(full); i += 4 {
		groups = append(groups, full[i:i+4])
	}
	return strings.Join(groups, "-")
}

// CanonicalSigningBytes builds the domain-separated, length-prefixed byte
// string that is actually signed for a (message, nonce) pair:
//
//	"moltnet:v1" ‖ u32be(32) ‖ SHA-256(utf8(message)) ‖ u32be(len(utf8(nonce))) ‖ utf8(nonce)
//
// Framing with explicit length-prefixed fields makes the serialization
// immune to whitespace/newline/encoding drift across client implementations.
func CanonicalSigningBytes(message, nonce string) []byte {
	msgHash := sha256.Sum256([]byte(message))
	nonceBytes := []byte(nonce)

	buf := make([]byte, 0, len(envelopeDomain)+4+len(msgHash)+4+len(nonceBytes))
	buf = append(buf, envelopeDomain...)

	var lenField [4]byte
	binary.BigEndian.PutUint32(lenField[:], uint32(len(msgHash)))
	buf = append(buf, lenField[:]...)
	buf = append(buf, msgHash[:]...)

	binary.BigEndian.PutUint32(lenField[:], uint32(len(nonceBytes)))
	buf = append(buf, lenField[:]...)
	buf = append(buf, nonceBytes...)

	return buf
}

// Sign produces a signature over the canonical signing bytes for
// (message, nonce) under the given private key.
func Sign(priv ed25519.PrivateKey, message, nonce string) []byte {
	return ed25519.Sign(priv, CanonicalSigningBytes(message, nonce))
}

// Verify checks a signature against the canonical signing bytes for
// (message, nonce) under the given public key.
func Verify(pub ed25519.PublicKey, message, nonce string, signature []byte) bool {
	return ed25519.Verify(pub, CanonicalSigningBytes(message, nonce), signature)
}

// SignRaw and VerifyRaw operate on the bare message bytes with no envelope
// framing. They exist only for legacy pre-envelope callers; new signing
// flows (C5) must use Sign/Verify against CanonicalSigningBytes instead.
func SignRaw(priv ed25519.PrivateKey, message []byte) []byte {
	return ed25519.Sign(priv, message)
}

func VerifyRaw(pub ed25519.PublicKey, message, signature []byte) bool {
	return ed25519.Verify(pub, message, signature)
}

// RecoveryChallenge is the canonical recovery-challenge string together
// with the HMAC that binds it to the server's recovery secret.
type RecoveryChallenge struct {
	Challenge string
	HMAC      string // hex-encoded HMAC-SHA256
}

// BuildRecoveryChallenge constructs the canonical form
//
//	moltnet:recovery:<publicKey>:<nonceHex>:<issuedAtMs>
//
// and binds it with HMAC-SHA256 under the server's recoverySecret (which
// must be at least 16 bytes). publicKey is the wire form
// ("ed25519:<base64>"), nonceHex is the 32-byte random value hex-encoded,
// and issuedAtMs is a unix-millis timestamp, both supplied by the caller so
// this function stays deterministic and side-effect free.
func BuildRecoveryChallenge(recoverySecret []byte, publicKey, nonceHex string, issuedAtMs int64) (*RecoveryChallenge, error) {
	if len(recoverySecret) < 16 {
		return nil, errors.New("identity: recovery secret must be at least 16 bytes")
	}
	challenge := fmt.Sprintf("moltnet:recovery:%s:%s:%d", publicKey, nonceHex, issuedAtMs)
	mac := hmac.New(sha256.New, recoverySecret)
	mac.Write([]byte(challenge))
	return &RecoveryChallenge{
		Challenge: challenge,
		HMAC:      hex.EncodeToString(mac.Sum(nil)),
	}, nil
}

// VerifyRecoveryChallengeHMAC checks the HMAC over a challenge string in
// constant time.
func VerifyRecoveryChallengeHMAC(recoverySecret []byte, challenge, macHex string) bool {
	mac := hmac.New(sha256.New, recoverySecret)
	mac.Write([]byte(challenge))
	expected := mac.Sum(nil)
	got, err := hex.DecodeString(macHex)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, got)
}

// ParsedRecoveryChallenge holds the fields extracted from a canonical
// recovery-challenge string.
type ParsedRecoveryChallenge struct {
	PublicKey  string
	NonceHex   string
	IssuedAtMs int64
}

// ErrMalformedChallenge is returned by ParseRecoveryChallenge when the
// string doesn't match the canonical "moltnet:recovery:<pk>:<nonce>:<ms>"
// shape.
var ErrMalformedChallenge = errors.New("identity: malformed recovery challenge")

// ParseRecoveryChallenge extracts the embedded public key, nonce, and
// issued-at timestamp from a canonical recovery-challenge string.
func ParseRecoveryChallenge(challenge string) (*ParsedRecoveryChallenge, error) {
	const prefix = "moltnet:recovery:"
	if !strings.HasPrefix(challenge, prefix) {
		return nil, ErrMalformedChallenge
	}
	rest := strings.TrimPrefix(challenge, prefix)

	// publicKey is itself "ed25519:<base64>", which may contain ':' only
	// as its own prefix separator, so split from the right on the two
	// remaining fields instead of a naive Split on ":".
	lastColon := strings.LastIndex(rest, ":")
	if lastColon < 0 {
		return nil, ErrMalformedChallenge
	}
	issuedAtStr := rest[lastColon+1:]
	rest = rest[:lastColon]

	secondLastColon := strings.LastIndex(rest, ":")
	if secondLastColon < 0 {
		return nil, ErrMalformedChallenge
	}
	nonceHex := rest[secondLastColon+1:]
	publicKey := rest[:secondLastColon]

	if publicKey == "" || nonceHex == "" || issuedAtStr == "" {
		return nil, ErrMalformedChallenge
	}

	var issuedAtMs int64
	if _, err := fmt.Sscanf(issuedAtStr, "%d", &issuedAtMs); err != nil {
		return nil, ErrMalformedChallenge
	}

	return &ParsedRecoveryChallenge{
		PublicKey:  publicKey,
		NonceHex:   nonceHex,
		IssuedAtMs: issuedAtMs,
	}, nil
}

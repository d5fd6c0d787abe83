// Package totp derives login codes and confirmation signing keys from
// account secrets and adjusted platform time.
//
// Both derivations are pure: identical inputs always produce identical
// outputs, and nothing here touches the network or the clock.
package totp

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"errors"
)

// Period is the width of one code window in seconds.
const Period = 30

const codeLength = 5

// The code alphabet excludes vowels and the glyphs 0/1/I/L/O/S that are
// easy to misread on a phone screen.
var alphabet = []byte("23456789BCDFGHJKMNPQRTVWXY")

// ErrInvalidSecret is returned when the supplied secret is empty.
var ErrInvalidSecret = errors.New("invalid secret material")

// Tags accepted by confirmation endpoints. The tag is mixed into the
// signing key, so a key minted for listing cannot authorize an action.
const (
	TagList    = "conf"
	TagDetails = "details"
	TagAllow   = "allow"
	TagCancel  = "cancel"
)

// Code derives the 5-character login code for the window containing the
// adjusted time t (seconds since epoch).
func Code(sharedSecret []byte, t int64) (string, error) {
	if len(sharedSecret) == 0 {
		return "", ErrInvalidSecret
	}

	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(t/Period))

	mac := hmac.New(sha1.New, sharedSecret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	full := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	code := make([]byte, codeLength)
	for i := range code {
		code[i] = alphabet[full%uint32(len(alphabet))]
		full /= uint32(len(alphabet))
	}
	return string(code), nil
}

// ConfirmationKey derives the base64 signing parameter carried on
// confirmation calls: HMAC-SHA1 over the 8-byte big-endian adjusted time
// followed by the tag, keyed by the identity secret.
func ConfirmationKey(identitySecret []byte, t int64, tag string) (string, error) {
	if len(identitySecret) == 0 {
		return "", ErrInvalidSecret
	}

	msg := make([]byte, 8, 8+len(tag))
	binary.BigEndian.PutUint64(msg, uint64(t))
	msg = append(msg, tag...)

	mac := hmac.New(sha1.New, identitySecret)
	_, _ = mac.Write(msg)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

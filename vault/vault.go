// Package vault converts plaintext account state to and from encrypted
// at-rest blobs keyed by an operator passphrase.
//
// New blobs use an argon2id-derived key with an HMAC over the ciphertext;
// blobs written by older tooling with a high-iteration PBKDF2 key remain
// decryptable. Decryption failures are deliberately undifferentiated: a
// wrong passphrase and a corrupted blob produce the same error, so the
// format offers no oracle.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

// KDF scheme tags stored alongside each blob. Decryption dispatches on the
// stored tag, never on a global mode flag.
const (
	SchemeArgon2id = "argon2id"
	SchemeLegacy   = "pbkdf2-sha1"
)

// LegacyIterations is the PBKDF2 iteration count used by records written
// before the argon2id format. Retained for decryption only.
const LegacyIterations = 50000

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16

	encKeyLen = 32
	macKeyLen = 32
)

// ErrWrongPassphraseOrCorrupt is returned on any decryption failure,
// structural or cryptographic.
var ErrWrongPassphraseOrCorrupt = errors.New("wrong passphrase or corrupt blob")

// KdfParams records exactly how a blob's key was derived. Salt is always
// present; the remaining fields depend on Scheme.
type KdfParams struct {
	Scheme      string `json:"scheme"`
	Salt        []byte `json:"salt"`
	Memory      uint32 `json:"memory,omitempty"`
	Time        uint32 `json:"time,omitempty"`
	Parallelism uint8  `json:"parallelism,omitempty"`
	Iterations  int    `json:"iterations,omitempty"`
}

// Blob is ciphertext plus everything needed to regenerate its key. MAC is
// present on argon2id blobs and covers IV followed by CipherText.
type Blob struct {
	CipherText []byte    `json:"ciphertext"`
	IV         []byte    `json:"iv"`
	MAC        []byte    `json:"mac,omitempty"`
	Kdf        KdfParams `json:"kdf"`
}

// Config holds the argon2id cost parameters applied to newly written blobs.
type Config struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
}

// DefaultConfig returns moderate argon2id costs suitable for interactive
// unlocking on commodity hardware.
func DefaultConfig() Config {
	return Config{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 4,
		SaltLength:  16,
	}
}

// Codec encrypts and decrypts blobs under a fixed cost configuration.
type Codec struct {
	config Config
}

// New validates the cost configuration and returns a Codec.
func New(cfg Config) (*Codec, error) {
	if cfg.Memory < minMemoryKB {
		return nil, errors.New("argon2 memory below minimum")
	}
	if cfg.Time < minTimeCost {
		return nil, errors.New("argon2 time cost below minimum")
	}
	if cfg.Parallelism < minParallelism {
		return nil, errors.New("argon2 parallelism below minimum")
	}
	if cfg.SaltLength < minSaltLength {
		return nil, errors.New("salt length below minimum")
	}
	return &Codec{config: cfg}, nil
}

// Encrypt seals plaintext under the passphrase with a fresh salt and IV.
// It fails only on system error (entropy exhaustion).
func (c *Codec) Encrypt(plaintext, passphrase []byte) (Blob, error) {
	salt := make([]byte, c.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return Blob{}, err
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return Blob{}, err
	}

	keys := argon2.IDKey(passphrase, salt, c.config.Time, c.config.Memory, c.config.Parallelism, encKeyLen+macKeyLen)
	defer zero(keys)

	block, err := aes.NewCipher(keys[:encKeyLen])
	if err != nil {
		return Blob{}, err
	}

	padded := pad(plaintext)
	defer zero(padded)
	cipherText := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(cipherText, padded)

	mac := hmac.New(sha256.New, keys[encKeyLen:])
	_, _ = mac.Write(iv)
	_, _ = mac.Write(cipherText)

	return Blob{
		CipherText: cipherText,
		IV:         iv,
		MAC:        mac.Sum(nil),
		Kdf: KdfParams{
			Scheme:      SchemeArgon2id,
			Salt:        salt,
			Memory:      c.config.Memory,
			Time:        c.config.Time,
			Parallelism: c.config.Parallelism,
		},
	}, nil
}

// Decrypt opens a blob using the key derived with the blob's own stored
// parameters. Any structural, authentication, or padding failure yields
// ErrWrongPassphraseOrCorrupt.
func (c *Codec) Decrypt(b Blob, passphrase []byte) ([]byte, error) {
	if len(b.IV) != aes.BlockSize || len(b.Kdf.Salt) == 0 {
		return nil, ErrWrongPassphraseOrCorrupt
	}
	if len(b.CipherText) == 0 || len(b.CipherText)%aes.BlockSize != 0 {
		return nil, ErrWrongPassphraseOrCorrupt
	}

	switch b.Kdf.Scheme {
	case SchemeArgon2id:
		keys := argon2.IDKey(passphrase, b.Kdf.Salt, b.Kdf.Time, b.Kdf.Memory, b.Kdf.Parallelism, encKeyLen+macKeyLen)
		defer zero(keys)

		mac := hmac.New(sha256.New, keys[encKeyLen:])
		_, _ = mac.Write(b.IV)
		_, _ = mac.Write(b.CipherText)
		if subtle.ConstantTimeCompare(mac.Sum(nil), b.MAC) != 1 {
			return nil, ErrWrongPassphraseOrCorrupt
		}
		return decryptCBC(keys[:encKeyLen], b.IV, b.CipherText)

	case SchemeLegacy:
		iterations := b.Kdf.Iterations
		if iterations <= 0 {
			iterations = LegacyIterations
		}
		key := pbkdf2.Key(passphrase, b.Kdf.Salt, iterations, encKeyLen, sha1.New)
		defer zero(key)
		return decryptCBC(key, b.IV, b.CipherText)

	default:
		return nil, ErrWrongPassphraseOrCorrupt
	}
}

func decryptCBC(key, iv, cipherText []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ErrWrongPassphraseOrCorrupt
	}
	padded := make([]byte, len(cipherText))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, cipherText)

	plaintext, err := unpad(padded)
	if err != nil {
		zero(padded)
		return nil, ErrWrongPassphraseOrCorrupt
	}
	return plaintext, nil
}

func pad(data []byte) []byte {
	n := aes.BlockSize - len(data)%aes.BlockSize
	padded := make([]byte, len(data)+n)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(n)
	}
	return padded
}

func unpad(data []byte) ([]byte, error) {
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, errors.New("invalid padding")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > aes.BlockSize || n > len(data) {
		return nil, errors.New("invalid padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errors.New("invalid padding")
		}
	}
	return data[:len(data)-n], nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

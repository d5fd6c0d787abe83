package vault

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha1"
	"errors"
	"testing"

	"golang.org/x/crypto/pbkdf2"
)

func testCodec(t *testing.T) *Codec {
	t.Helper()
	// Minimum costs keep the test suite fast; production uses DefaultConfig.
	c, err := New(Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func TestRoundTrip(t *testing.T) {
	codec := testCodec(t)

	cases := []struct {
		name       string
		plaintext  []byte
		passphrase []byte
	}{
		{"basic", []byte(`{"account_name":"example"}`), []byte("hunter2")},
		{"empty passphrase", []byte("state"), nil},
		{"empty plaintext", nil, []byte("hunter2")},
		{"large plaintext", bytes.Repeat([]byte("x"), 1<<20), []byte("hunter2")},
		{"binary plaintext", []byte{0, 1, 2, 0xff, 0xfe, 16, 16, 16}, []byte("pass phrase with spaces")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			blob, err := codec.Encrypt(tc.plaintext, tc.passphrase)
			if err != nil {
				t.Fatalf("Encrypt failed: %v", err)
			}
			got, err := codec.Decrypt(blob, tc.passphrase)
			if err != nil {
				t.Fatalf("Decrypt failed: %v", err)
			}
			if !bytes.Equal(got, tc.plaintext) {
				t.Fatal("round trip did not preserve plaintext")
			}
		})
	}
}

func TestFreshSaltAndIVPerEncryption(t *testing.T) {
	codec := testCodec(t)

	a, err := codec.Encrypt([]byte("same plaintext"), []byte("same pass"))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	b, err := codec.Encrypt([]byte("same plaintext"), []byte("same pass"))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if bytes.Equal(a.IV, b.IV) || bytes.Equal(a.Kdf.Salt, b.Kdf.Salt) {
		t.Fatal("expected fresh IV and salt per encryption")
	}
	if bytes.Equal(a.CipherText, b.CipherText) {
		t.Fatal("expected distinct ciphertexts")
	}
}

func TestWrongPassphrase(t *testing.T) {
	codec := testCodec(t)

	blob, err := codec.Encrypt([]byte("secret state"), []byte("right"))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if _, err := codec.Decrypt(blob, []byte("wrong")); !errors.Is(err, ErrWrongPassphraseOrCorrupt) {
		t.Fatalf("expected ErrWrongPassphraseOrCorrupt, got %v", err)
	}
}

func TestFlippedBitFailsClosed(t *testing.T) {
	codec := testCodec(t)

	plaintext := bytes.Repeat([]byte("account record "), 20)
	blob, err := codec.Encrypt(plaintext, []byte("pass"))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	// Flip one bit in every byte position across the ciphertext: no position
	// may ever decrypt, under the right passphrase or any other.
	for i := 0; i < len(blob.CipherText); i += 7 {
		tampered := blob
		tampered.CipherText = bytes.Clone(blob.CipherText)
		tampered.CipherText[i] ^= 0x01

		if _, err := codec.Decrypt(tampered, []byte("pass")); !errors.Is(err, ErrWrongPassphraseOrCorrupt) {
			t.Fatalf("flip at %d: expected ErrWrongPassphraseOrCorrupt, got %v", i, err)
		}
		if _, err := codec.Decrypt(tampered, []byte("other")); !errors.Is(err, ErrWrongPassphraseOrCorrupt) {
			t.Fatalf("flip at %d under other passphrase: expected ErrWrongPassphraseOrCorrupt, got %v", i, err)
		}
	}
}

func TestStructuralFailures(t *testing.T) {
	codec := testCodec(t)

	blob, err := codec.Encrypt([]byte("state"), []byte("pass"))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Blob)
	}{
		{"truncated iv", func(b *Blob) { b.IV = b.IV[:8] }},
		{"missing salt", func(b *Blob) { b.Kdf.Salt = nil }},
		{"empty ciphertext", func(b *Blob) { b.CipherText = nil }},
		{"ragged ciphertext", func(b *Blob) { b.CipherText = b.CipherText[:len(b.CipherText)-3] }},
		{"missing mac", func(b *Blob) { b.MAC = nil }},
		{"unknown scheme", func(b *Blob) { b.Kdf.Scheme = "rot13" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mutated := blob
			mutated.CipherText = bytes.Clone(blob.CipherText)
			mutated.IV = bytes.Clone(blob.IV)
			mutated.MAC = bytes.Clone(blob.MAC)
			tc.mutate(&mutated)

			if _, err := codec.Decrypt(mutated, []byte("pass")); !errors.Is(err, ErrWrongPassphraseOrCorrupt) {
				t.Fatalf("expected ErrWrongPassphraseOrCorrupt, got %v", err)
			}
		})
	}
}

// legacyEncrypt seals plaintext the way pre-argon2id tooling did: PBKDF2-SHA1
// key, AES-256-CBC, no MAC.
func legacyEncrypt(t *testing.T, plaintext, passphrase, salt, iv []byte, iterations int) Blob {
	t.Helper()
	key := pbkdf2.Key(passphrase, salt, iterations, 32, sha1.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatalf("NewCipher failed: %v", err)
	}
	padded := pad(plaintext)
	cipherText := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(cipherText, padded)
	return Blob{
		CipherText: cipherText,
		IV:         iv,
		Kdf: KdfParams{
			Scheme:     SchemeLegacy,
			Salt:       salt,
			Iterations: iterations,
		},
	}
}

func TestLegacyBlobDecrypts(t *testing.T) {
	codec := testCodec(t)

	salt := bytes.Repeat([]byte{0xAB}, 16)
	iv := bytes.Repeat([]byte{0xCD}, aes.BlockSize)
	plaintext := []byte(`{"account_name":"legacy"}`)

	blob := legacyEncrypt(t, plaintext, []byte("old pass"), salt, iv, 1000)

	got, err := codec.Decrypt(blob, []byte("old pass"))
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatal("legacy round trip did not preserve plaintext")
	}

	if _, err := codec.Decrypt(blob, []byte("new pass")); !errors.Is(err, ErrWrongPassphraseOrCorrupt) {
		t.Fatalf("expected ErrWrongPassphraseOrCorrupt, got %v", err)
	}
}

func TestLegacyBlobDefaultIterations(t *testing.T) {
	codec := testCodec(t)

	salt := bytes.Repeat([]byte{0x01}, 16)
	iv := bytes.Repeat([]byte{0x02}, aes.BlockSize)
	blob := legacyEncrypt(t, []byte("state"), []byte("pass"), salt, iv, LegacyIterations)
	blob.Kdf.Iterations = 0 // older writers omitted the count

	got, err := codec.Decrypt(blob, []byte("pass"))
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if !bytes.Equal(got, []byte("state")) {
		t.Fatal("expected default iteration count to apply")
	}
}

func TestNewRejectsWeakConfig(t *testing.T) {
	cases := []Config{
		{Memory: 1024, Time: 1, Parallelism: 1, SaltLength: 16},
		{Memory: 8 * 1024, Time: 0, Parallelism: 1, SaltLength: 16},
		{Memory: 8 * 1024, Time: 1, Parallelism: 0, SaltLength: 16},
		{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 8},
	}
	for _, cfg := range cases {
		if _, err := New(cfg); err == nil {
			t.Fatalf("expected config %+v to be rejected", cfg)
		}
	}
}

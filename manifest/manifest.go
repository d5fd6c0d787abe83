package manifest

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/feuarus/guardian/vault"
)

// Version is the current manifest schema. Manifests with no version field
// are the legacy desktop-authenticator layout and are migrated on load.
const Version = 1

// ManifestName is the index file's name within the store.
const ManifestName = "manifest.json"

var (
	// ErrUnknownVersion means the manifest declares a schema this build
	// does not understand.
	ErrUnknownVersion = errors.New("unknown manifest version")
	// ErrPassphraseRequired means the store holds encrypted records but no
	// passphrase was supplied.
	ErrPassphraseRequired = errors.New("passphrase required for encrypted records")
)

// EncryptionMeta marks an entry's record file as encrypted and records the
// key-derivation scheme for display; the blob itself carries the full
// parameters.
type EncryptionMeta struct {
	Scheme string `json:"scheme"`
}

// Entry is one account's row in the manifest index.
type Entry struct {
	Filename    string          `json:"filename"`
	SteamID     uint64          `json:"steam_id,omitempty"`
	AccountName string          `json:"account_name"`
	Encryption  *EncryptionMeta `json:"encryption,omitempty"`
}

// Manifest is the versioned index of account records.
type Manifest struct {
	Version int     `json:"version"`
	Entries []Entry `json:"entries"`
}

func (m *Manifest) entryFor(accountName string) (int, bool) {
	for i, e := range m.Entries {
		if e.AccountName == accountName {
			return i, true
		}
	}
	return -1, false
}

// legacyManifest is the desktop-authenticator index layout: no version
// field, per-entry IV/salt for the PBKDF2 record encryption.
type legacyManifest struct {
	Encrypted bool          `json:"encrypted"`
	Entries   []legacyEntry `json:"entries"`
}

type legacyEntry struct {
	Filename string `json:"filename"`
	SteamID  uint64 `json:"steamid"`
	IV       string `json:"encryption_iv"`
	Salt     string `json:"encryption_salt"`
}

// parseManifest dispatches on the version field. A missing version marks a
// legacy manifest, returned separately so the store can run the migration.
func parseManifest(data []byte) (*Manifest, *legacyManifest, error) {
	var probe struct {
		Version *int `json:"version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, nil, fmt.Errorf("malformed manifest: %w", err)
	}

	if probe.Version == nil {
		var legacy legacyManifest
		if err := json.Unmarshal(data, &legacy); err != nil {
			return nil, nil, fmt.Errorf("malformed legacy manifest: %w", err)
		}
		return nil, &legacy, nil
	}

	if *probe.Version != Version {
		return nil, nil, fmt.Errorf("%w: %d", ErrUnknownVersion, *probe.Version)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, nil, fmt.Errorf("malformed manifest: %w", err)
	}
	return &m, nil, nil
}

// legacyBlob reconstructs a decryptable blob from a legacy record file and
// its manifest entry. Legacy files hold base64 ciphertext; the IV and salt
// live in the entry, and the derivation is the fixed-iteration PBKDF2 the
// codec retains for decryption.
func legacyBlob(fileData []byte, e legacyEntry) (vault.Blob, error) {
	cipherText, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(fileData)))
	if err != nil {
		return vault.Blob{}, fmt.Errorf("legacy record %s: %w", e.Filename, err)
	}
	iv, err := base64.StdEncoding.DecodeString(e.IV)
	if err != nil {
		return vault.Blob{}, fmt.Errorf("legacy record %s: bad iv: %w", e.Filename, err)
	}
	salt, err := base64.StdEncoding.DecodeString(e.Salt)
	if err != nil {
		return vault.Blob{}, fmt.Errorf("legacy record %s: bad salt: %w", e.Filename, err)
	}
	return vault.Blob{
		CipherText: cipherText,
		IV:         iv,
		Kdf: vault.KdfParams{
			Scheme:     vault.SchemeLegacy,
			Salt:       salt,
			Iterations: vault.LegacyIterations,
		},
	}, nil
}

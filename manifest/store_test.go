package manifest

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/pbkdf2"

	"github.com/feuarus/guardian/vault"
)

func testCodec(t *testing.T) *vault.Codec {
	t.Helper()
	codec, err := vault.New(vault.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16})
	if err != nil {
		t.Fatalf("vault.New failed: %v", err)
	}
	return codec
}

func testFileStore(t *testing.T) *FileStore {
	t.Helper()
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	return fs
}

func testAccount() *Account {
	return &Account{
		AccountName:    "hydrogen",
		SteamID:        76561199000000001,
		SerialNumber:   "8888222211",
		RevocationCode: "R12345",
		SharedSecret:   bytes.Repeat([]byte{0x00}, 16),
		IdentitySecret: bytes.Repeat([]byte{0x01}, 16),
		Secret1:        bytes.Repeat([]byte{0x02}, 16),
		TokenGID:       "deadbeef0badf00d",
		URI:            "otpauth://totp/Steam:hydrogen?secret=X&issuer=Steam",
		DeviceID:       NewDeviceID(),
	}
}

func TestSaveAndGetPlaintext(t *testing.T) {
	ctx := context.Background()
	fs := testFileStore(t)

	s, err := Open(ctx, fs, testCodec(t), nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	acct := testAccount()
	if err := s.Save(ctx, acct, nil); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := s.Get(ctx, "hydrogen", nil)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.AccountName != "hydrogen" || got.SteamID != acct.SteamID {
		t.Fatalf("got %+v", got)
	}
	if !bytes.Equal(got.SharedSecret, acct.SharedSecret) || !bytes.Equal(got.IdentitySecret, acct.IdentitySecret) {
		t.Fatal("secrets did not round trip")
	}
	if !got.CanGenerateCodes() || !got.CanSignConfirmations() {
		t.Fatal("capability checks failed on a full record")
	}

	// The record file is plain JSON and the manifest indexes it unencrypted.
	raw, err := os.ReadFile(filepath.Join(fs.Dir, "hydrogen.maFile"))
	if err != nil {
		t.Fatalf("record file: %v", err)
	}
	if !bytes.Contains(raw, []byte(`"account_name":"hydrogen"`)) {
		t.Fatal("record file is not plain JSON")
	}
	entries := s.Entries()
	if len(entries) != 1 || entries[0].Encryption != nil {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestSaveAndGetEncrypted(t *testing.T) {
	ctx := context.Background()
	fs := testFileStore(t)
	pass := []byte("correct horse")

	s, err := Open(ctx, fs, testCodec(t), nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	acct := testAccount()
	if err := s.Save(ctx, acct, pass); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	entries := s.Entries()
	if entries[0].Encryption == nil || entries[0].Encryption.Scheme != vault.SchemeArgon2id {
		t.Fatalf("entry encryption = %+v", entries[0].Encryption)
	}
	raw, err := os.ReadFile(filepath.Join(fs.Dir, "hydrogen.maFile"))
	if err != nil {
		t.Fatalf("record file: %v", err)
	}
	if bytes.Contains(raw, []byte("account_name")) {
		t.Fatal("encrypted record leaks plaintext fields")
	}

	got, err := s.Get(ctx, "hydrogen", pass)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(got.SharedSecret, acct.SharedSecret) {
		t.Fatal("secret did not survive the encrypted round trip")
	}

	if _, err := s.Get(ctx, "hydrogen", []byte("wrong")); !errors.Is(err, vault.ErrWrongPassphraseOrCorrupt) {
		t.Fatalf("wrong passphrase: %v", err)
	}
	if _, err := s.Get(ctx, "hydrogen", nil); !errors.Is(err, ErrPassphraseRequired) {
		t.Fatalf("missing passphrase: %v", err)
	}
}

func TestGetUnknownAccount(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, testFileStore(t), testCodec(t), nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := s.Get(ctx, "nobody", nil); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("Get = %v, want ErrAccountNotFound", err)
	}
}

func TestRemoveDeletesRecordAndEntry(t *testing.T) {
	ctx := context.Background()
	fs := testFileStore(t)
	codec := testCodec(t)

	s, err := Open(ctx, fs, codec, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.Save(ctx, testAccount(), nil); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := s.Remove(ctx, "hydrogen"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if s.Has("hydrogen") {
		t.Fatal("entry survived removal")
	}
	if _, err := os.Stat(filepath.Join(fs.Dir, "hydrogen.maFile")); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("record file survived removal")
	}

	// Removal persists across a reopen.
	s2, err := Open(ctx, fs, codec, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if len(s2.Entries()) != 0 {
		t.Fatalf("entries after reopen = %+v", s2.Entries())
	}
	if err := s2.Remove(ctx, "hydrogen"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("second Remove = %v", err)
	}
}

func TestAccountNamesNormalized(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, testFileStore(t), testCodec(t), nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	acct := testAccount()
	acct.AccountName = "Hydrogen"
	if err := s.Save(ctx, acct, nil); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if !s.Has("HYDROGEN") {
		t.Fatal("lookup is not case-insensitive")
	}
	if got := s.Entries()[0].AccountName; got != "hydrogen" {
		t.Fatalf("entry name = %q, want lowercased", got)
	}
	if _, err := s.Get(ctx, "hyDrOgen", nil); err != nil {
		t.Fatalf("Get by mixed case failed: %v", err)
	}
}

const legacyAccountJSON = `{
	"account_name": "Hydrogen",
	"serial_number": "8888222211",
	"revocation_code": "R12345",
	"shared_secret": "AAAAAAAAAAAAAAAAAAAAAA==",
	"identity_secret": "AQEBAQEBAQEBAQEBAQEBAQ==",
	"secret_1": "AgICAgICAgICAgICAgICAg==",
	"token_gid": "deadbeef0badf00d",
	"uri": "otpauth://totp/Steam:Hydrogen?secret=X&issuer=Steam",
	"server_time": 1699990000,
	"Session": {"SteamID": 76561199000000001, "SessionID": "abc"}
}`

func writeLegacyStore(t *testing.T, dir string, encrypted bool, pass []byte) {
	t.Helper()

	entry := map[string]any{
		"filename": "76561199000000001.maFile",
		"steamid":  uint64(76561199000000001),
	}
	record := []byte(legacyAccountJSON)

	if encrypted {
		salt := bytes.Repeat([]byte{0xAB}, 8)
		iv := bytes.Repeat([]byte{0xCD}, aes.BlockSize)
		key := pbkdf2.Key(pass, salt, vault.LegacyIterations, 32, sha1.New)
		block, err := aes.NewCipher(key)
		if err != nil {
			t.Fatalf("NewCipher: %v", err)
		}
		padded := append([]byte{}, record...)
		n := aes.BlockSize - len(padded)%aes.BlockSize
		for i := 0; i < n; i++ {
			padded = append(padded, byte(n))
		}
		cipherText := make([]byte, len(padded))
		cipher.NewCBCEncrypter(block, iv).CryptBlocks(cipherText, padded)

		record = []byte(base64.StdEncoding.EncodeToString(cipherText))
		entry["encryption_iv"] = base64.StdEncoding.EncodeToString(iv)
		entry["encryption_salt"] = base64.StdEncoding.EncodeToString(salt)
	}

	man, _ := json.Marshal(map[string]any{
		"encrypted":           encrypted,
		"first_run":           false,
		"periodic_checking":   false,
		"auto_confirm_trades": false,
		"entries":             []any{entry},
	})
	if err := os.WriteFile(filepath.Join(dir, ManifestName), man, 0o600); err != nil {
		t.Fatalf("writing legacy manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "76561199000000001.maFile"), record, 0o600); err != nil {
		t.Fatalf("writing legacy record: %v", err)
	}
}

func TestLegacyMigrationPlaintext(t *testing.T) {
	ctx := context.Background()
	fs := testFileStore(t)
	writeLegacyStore(t, fs.Dir, false, nil)

	s, err := Open(ctx, fs, testCodec(t), nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if !s.Migrated() {
		t.Fatal("legacy store not reported as migrated")
	}

	// Originals are preserved as .bak copies before anything is rewritten.
	for _, name := range []string{ManifestName + ".bak", "76561199000000001.maFile.bak"} {
		if _, err := os.Stat(filepath.Join(fs.Dir, name)); err != nil {
			t.Fatalf("backup %s missing: %v", name, err)
		}
	}

	got, err := s.Get(ctx, "hydrogen", nil)
	if err != nil {
		t.Fatalf("Get after migration failed: %v", err)
	}
	if got.Version != AccountVersion {
		t.Fatalf("record version = %d", got.Version)
	}
	if got.SteamID != 76561199000000001 {
		t.Fatalf("SteamID = %d", got.SteamID)
	}
	if !bytes.Equal(got.SharedSecret, bytes.Repeat([]byte{0x00}, 16)) {
		t.Fatal("shared secret mangled by migration")
	}
	if got.RevocationCode != "R12345" {
		t.Fatalf("revocation code = %q", got.RevocationCode)
	}
	if !strings.HasPrefix(got.DeviceID, "android:") {
		t.Fatalf("migrated record has no device id: %q", got.DeviceID)
	}
	if e := s.Entries()[0]; e.AccountName != "hydrogen" {
		t.Fatalf("entry name = %q, want lowercased", e.AccountName)
	}

	// The rewritten manifest is the current schema; a reopen does not
	// migrate again.
	s2, err := Open(ctx, fs, testCodec(t), nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if s2.Migrated() {
		t.Fatal("migration ran twice")
	}
}

func TestLegacyMigrationEncrypted(t *testing.T) {
	ctx := context.Background()
	fs := testFileStore(t)
	pass := []byte("old passkey")
	writeLegacyStore(t, fs.Dir, true, pass)

	if _, err := Open(ctx, fs, testCodec(t), nil); !errors.Is(err, ErrPassphraseRequired) {
		t.Fatalf("Open without passphrase = %v, want ErrPassphraseRequired", err)
	}

	s, err := Open(ctx, fs, testCodec(t), pass)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	got, err := s.Get(ctx, "hydrogen", pass)
	if err != nil {
		t.Fatalf("Get after migration failed: %v", err)
	}
	if !bytes.Equal(got.IdentitySecret, bytes.Repeat([]byte{0x01}, 16)) {
		t.Fatal("identity secret mangled by encrypted migration")
	}

	// Migration re-encrypts under the current scheme.
	if e := s.Entries()[0]; e.Encryption == nil || e.Encryption.Scheme != vault.SchemeArgon2id {
		t.Fatalf("migrated entry encryption = %+v", s.Entries()[0].Encryption)
	}
}

func TestRedisStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rs := NewRedisStore(client, "guardian-test")

	s, err := Open(ctx, rs, testCodec(t), nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	pass := []byte("fleet secret")
	if err := s.Save(ctx, testAccount(), pass); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	s2, err := Open(ctx, rs, testCodec(t), nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	got, err := s2.Get(ctx, "hydrogen", pass)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.SteamID != 76561199000000001 {
		t.Fatalf("SteamID = %d", got.SteamID)
	}

	if err := s2.Remove(ctx, "hydrogen"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := rs.Load(ctx, "hydrogen.maFile"); !errors.Is(err, ErrRecordMissing) {
		t.Fatalf("record survived removal: %v", err)
	}
}

func TestFileStoreMissingRecord(t *testing.T) {
	fs := testFileStore(t)
	if _, err := fs.Load(context.Background(), "nope.maFile"); !errors.Is(err, ErrRecordMissing) {
		t.Fatalf("Load = %v, want ErrRecordMissing", err)
	}
	if err := fs.Delete(context.Background(), "nope.maFile"); err != nil {
		t.Fatalf("Delete of a missing record = %v, want nil", err)
	}
}

func TestNewDeviceID(t *testing.T) {
	id := NewDeviceID()
	if !strings.HasPrefix(id, "android:") {
		t.Fatalf("device id = %q", id)
	}
	if _, err := uuid.Parse(strings.TrimPrefix(id, "android:")); err != nil {
		t.Fatalf("device id suffix is not a uuid: %v", err)
	}
	if NewDeviceID() == id {
		t.Fatal("device ids repeat")
	}
}

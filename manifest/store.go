package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/feuarus/guardian/vault"
)

var (
	// ErrAccountNotFound is returned when no manifest entry matches the
	// requested account name.
	ErrAccountNotFound = errors.New("account not found")
	// ErrRecordMissing is a backend miss: the manifest names a record the
	// backend does not hold.
	ErrRecordMissing = errors.New("record not present in store")
)

// StateStore is the persistence backend for the manifest and its account
// records. Names are flat; backends map them onto their own keyspace.
type StateStore interface {
	Load(ctx context.Context, name string) ([]byte, error)
	Store(ctx context.Context, name string, data []byte) error
	Delete(ctx context.Context, name string) error
}

// FileStore keeps records as files in one directory. Writes go through a
// temp file and an atomic rename so a crash never leaves a half-written
// record behind.
type FileStore struct {
	Dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	return &FileStore{Dir: dir}, nil
}

func (f *FileStore) Load(_ context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(f.Dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrRecordMissing, name)
	}
	return data, err
}

func (f *FileStore) Store(_ context.Context, name string, data []byte) error {
	tmp, err := os.CreateTemp(f.Dir, name+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, filepath.Join(f.Dir, name))
}

func (f *FileStore) Delete(_ context.Context, name string) error {
	err := os.Remove(filepath.Join(f.Dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// RedisStore keeps records under a key prefix, for headless deployments
// where no durable disk is available.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "guardian"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) key(name string) string {
	return r.prefix + ":" + name
}

func (r *RedisStore) Load(ctx context.Context, name string) ([]byte, error) {
	data, err := r.client.Get(ctx, r.key(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrRecordMissing, name)
	}
	return data, err
}

func (r *RedisStore) Store(ctx context.Context, name string, data []byte) error {
	return r.client.Set(ctx, r.key(name), data, 0).Err()
}

func (r *RedisStore) Delete(ctx context.Context, name string) error {
	return r.client.Del(ctx, r.key(name)).Err()
}

// Store is the account-record manager: the manifest index plus one record
// per account, encrypted through the vault codec when a passphrase is in
// use. It is not safe for concurrent use; the engine serializes access.
type Store struct {
	backend  StateStore
	codec    *vault.Codec
	manifest Manifest
	migrated bool
}

// Open loads the manifest from the backend, running the legacy-layout
// migration if needed. A missing manifest yields an empty store. The
// passphrase is only required when encrypted legacy records must be
// re-encrypted during migration; pass nil otherwise.
func Open(ctx context.Context, backend StateStore, codec *vault.Codec, passphrase []byte) (*Store, error) {
	s := &Store{backend: backend, codec: codec}

	data, err := backend.Load(ctx, ManifestName)
	if errors.Is(err, ErrRecordMissing) {
		s.manifest = Manifest{Version: Version}
		return s, nil
	}
	if err != nil {
		return nil, err
	}

	current, legacy, err := parseManifest(data)
	if err != nil {
		return nil, err
	}
	if legacy != nil {
		if err := s.migrate(ctx, data, legacy, passphrase); err != nil {
			return nil, err
		}
		s.migrated = true
		return s, nil
	}
	s.manifest = *current
	return s, nil
}

// Migrated reports whether Open upgraded a legacy store.
func (s *Store) Migrated() bool { return s.migrated }

// Entries returns a copy of the manifest index.
func (s *Store) Entries() []Entry {
	out := make([]Entry, len(s.manifest.Entries))
	copy(out, s.manifest.Entries)
	return out
}

// Has reports whether an account with the given name is indexed.
func (s *Store) Has(accountName string) bool {
	_, ok := s.manifest.entryFor(normalizeName(accountName))
	return ok
}

// Get loads and decodes one account record. The passphrase is required only
// for entries marked encrypted; decryption failures surface the codec's
// undifferentiated error.
func (s *Store) Get(ctx context.Context, accountName string, passphrase []byte) (*Account, error) {
	i, ok := s.manifest.entryFor(normalizeName(accountName))
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, accountName)
	}
	entry := s.manifest.Entries[i]

	data, err := s.backend.Load(ctx, entry.Filename)
	if err != nil {
		return nil, err
	}

	if entry.Encryption != nil {
		if len(passphrase) == 0 {
			return nil, ErrPassphraseRequired
		}
		var blob vault.Blob
		if err := json.Unmarshal(data, &blob); err != nil {
			return nil, fmt.Errorf("record %s: %w", entry.Filename, err)
		}
		plain, err := s.codec.Decrypt(blob, passphrase)
		if err != nil {
			return nil, err
		}
		data = plain
	}

	var acct Account
	if err := json.Unmarshal(data, &acct); err != nil {
		return nil, fmt.Errorf("record %s: %w", entry.Filename, err)
	}
	return &acct, nil
}

// Save upserts one account record and its manifest entry. With a non-empty
// passphrase the record is written as an encrypted blob; with none it is
// plain JSON. The record is written before the manifest so an interrupted
// save never indexes a missing file.
func (s *Store) Save(ctx context.Context, acct *Account, passphrase []byte) error {
	if acct == nil || acct.AccountName == "" {
		return fmt.Errorf("account record missing a name")
	}
	if acct.Version == 0 {
		acct.Version = AccountVersion
	}

	name := normalizeName(acct.AccountName)
	plain, err := json.Marshal(acct)
	if err != nil {
		return err
	}

	entry := Entry{
		Filename:    name + ".maFile",
		SteamID:     acct.SteamID,
		AccountName: name,
	}
	if i, ok := s.manifest.entryFor(name); ok {
		entry.Filename = s.manifest.Entries[i].Filename
	}

	data := plain
	if len(passphrase) > 0 {
		blob, err := s.codec.Encrypt(plain, passphrase)
		if err != nil {
			return err
		}
		if data, err = json.Marshal(blob); err != nil {
			return err
		}
		entry.Encryption = &EncryptionMeta{Scheme: blob.Kdf.Scheme}
	}

	if err := s.backend.Store(ctx, entry.Filename, data); err != nil {
		return err
	}

	if i, ok := s.manifest.entryFor(name); ok {
		s.manifest.Entries[i] = entry
	} else {
		s.manifest.Entries = append(s.manifest.Entries, entry)
	}
	return s.writeManifest(ctx)
}

// Remove deletes an account record and drops its manifest entry.
func (s *Store) Remove(ctx context.Context, accountName string) error {
	name := normalizeName(accountName)
	i, ok := s.manifest.entryFor(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, accountName)
	}
	entry := s.manifest.Entries[i]

	if err := s.backend.Delete(ctx, entry.Filename); err != nil {
		return err
	}
	s.manifest.Entries = append(s.manifest.Entries[:i], s.manifest.Entries[i+1:]...)
	return s.writeManifest(ctx)
}

func (s *Store) writeManifest(ctx context.Context) error {
	data, err := json.MarshalIndent(s.manifest, "", "  ")
	if err != nil {
		return err
	}
	return s.backend.Store(ctx, ManifestName, data)
}

// migrate upgrades a legacy desktop-authenticator store in place. The
// original manifest and every record get a ".bak" copy first; encrypted
// legacy records are decrypted with the retained PBKDF2 scheme and
// re-encrypted under the current one.
func (s *Store) migrate(ctx context.Context, rawManifest []byte, legacy *legacyManifest, passphrase []byte) error {
	if legacy.Encrypted && len(passphrase) == 0 {
		return ErrPassphraseRequired
	}

	if err := s.backend.Store(ctx, ManifestName+".bak", rawManifest); err != nil {
		return fmt.Errorf("backing up manifest: %w", err)
	}

	s.manifest = Manifest{Version: Version}
	for _, le := range legacy.Entries {
		fileData, err := s.backend.Load(ctx, le.Filename)
		if err != nil {
			return err
		}
		if err := s.backend.Store(ctx, le.Filename+".bak", fileData); err != nil {
			return fmt.Errorf("backing up %s: %w", le.Filename, err)
		}

		plain := fileData
		if legacy.Encrypted {
			blob, err := legacyBlob(fileData, le)
			if err != nil {
				return err
			}
			if plain, err = s.codec.Decrypt(blob, passphrase); err != nil {
				return fmt.Errorf("decrypting legacy record %s: %w", le.Filename, err)
			}
		}

		var old legacyAccount
		if err := json.Unmarshal(plain, &old); err != nil {
			return fmt.Errorf("legacy record %s: %w", le.Filename, err)
		}
		acct := old.upgrade()
		if acct.SteamID == 0 {
			acct.SteamID = le.SteamID
		}
		acct.AccountName = normalizeName(acct.AccountName)

		if err := s.Save(ctx, &acct, passphrase); err != nil {
			return err
		}
		// The .bak copy keeps the original; drop superseded record names.
		if i, ok := s.manifest.entryFor(acct.AccountName); ok && s.manifest.Entries[i].Filename != le.Filename {
			if err := s.backend.Delete(ctx, le.Filename); err != nil {
				return err
			}
		}
	}
	return s.writeManifest(ctx)
}

func normalizeName(name string) string {
	return strings.ToLower(name)
}

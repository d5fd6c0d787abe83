// Package manifest owns the on-disk (or Redis-backed) lifecycle of account
// records: a versioned manifest index plus one encrypted-or-plain record per
// account, with migration from the legacy desktop-authenticator layout.
package manifest

import (
	"encoding/base64"
	"encoding/json"
	"strconv"

	"github.com/google/uuid"

	"github.com/feuarus/guardian/session"
)

// Secret is raw key material serialized as standard base64. Secrets decode
// to their raw bytes in memory so the code and key derivations never
// re-decode per use.
type Secret []byte

func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(base64.StdEncoding.EncodeToString(s))
}

func (s *Secret) UnmarshalJSON(data []byte) error {
	var encoded string
	if err := json.Unmarshal(data, &encoded); err != nil {
		return err
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return err
	}
	*s = raw
	return nil
}

// AccountVersion is the current account record schema.
const AccountVersion = 1

// Account is one authenticator record. SharedSecret and IdentitySecret are
// set at enrollment and never mutated afterwards; only Session changes over
// the record's life.
type Account struct {
	Version        int             `json:"version"`
	AccountName    string          `json:"account_name"`
	SteamID        uint64          `json:"steam_id,omitempty"`
	SerialNumber   string          `json:"serial_number"`
	RevocationCode string          `json:"revocation_code"`
	SharedSecret   Secret          `json:"shared_secret"`
	IdentitySecret Secret          `json:"identity_secret"`
	Secret1        Secret          `json:"secret_1"`
	TokenGID       string          `json:"token_gid"`
	URI            string          `json:"uri"`
	DeviceID       string          `json:"device_id"`
	Session        *session.Tokens `json:"tokens,omitempty"`
}

// CanGenerateCodes reports whether the record carries the shared secret
// needed to produce login codes.
func (a *Account) CanGenerateCodes() bool {
	return a != nil && len(a.SharedSecret) > 0
}

// CanSignConfirmations reports whether the record can sign confirmation
// calls.
func (a *Account) CanSignConfirmations() bool {
	return a != nil && len(a.IdentitySecret) > 0
}

// NewDeviceID returns a fresh device identity in the mobile client's
// "android:<uuid>" form.
func NewDeviceID() string {
	return "android:" + uuid.NewString()
}

// legacyAccount is the desktop-authenticator maFile layout. Only the fields
// the current record keeps are read; the legacy session block contributes
// just the numeric account id.
type legacyAccount struct {
	AccountName    string `json:"account_name"`
	SerialNumber   string `json:"serial_number"`
	RevocationCode string `json:"revocation_code"`
	SharedSecret   Secret `json:"shared_secret"`
	IdentitySecret Secret `json:"identity_secret"`
	Secret1        Secret `json:"secret_1"`
	TokenGID       string `json:"token_gid"`
	URI            string `json:"uri"`
	DeviceID       string `json:"device_id"`
	Session        *struct {
		SteamID json.Number `json:"SteamID"`
	} `json:"Session"`
}

func (l legacyAccount) upgrade() Account {
	a := Account{
		Version:        AccountVersion,
		AccountName:    l.AccountName,
		SerialNumber:   l.SerialNumber,
		RevocationCode: l.RevocationCode,
		SharedSecret:   l.SharedSecret,
		IdentitySecret: l.IdentitySecret,
		Secret1:        l.Secret1,
		TokenGID:       l.TokenGID,
		URI:            l.URI,
		DeviceID:       l.DeviceID,
	}
	if l.Session != nil {
		if id, err := strconv.ParseUint(l.Session.SteamID.String(), 10, 64); err == nil {
			a.SteamID = id
		}
	}
	if a.DeviceID == "" {
		a.DeviceID = NewDeviceID()
	}
	return a
}

package session

import (
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Tokens is the persisted session state for one account. The invariant
// ExpiresAt > IssuedAt holds for any usable session; a session whose refresh
// token has been rejected is unusable and must be discarded.
type Tokens struct {
	SteamID      uint64 `json:"steam_id,omitempty"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	IssuedAt     int64  `json:"issued_at"`
	ExpiresAt    int64  `json:"expires_at"`
}

// Usable reports whether the tokens can carry authenticated calls at all.
func (t Tokens) Usable() bool {
	return t.AccessToken != "" && t.RefreshToken != "" && t.ExpiresAt > t.IssuedAt
}

// NearExpiry reports whether the access token is within window of expiring
// at the given time.
func (t Tokens) NearExpiry(now int64, window time.Duration) bool {
	return now >= t.ExpiresAt-int64(window/time.Second)
}

// inspectToken reads the claims of a platform-issued token without verifying
// its signature; the platform holds the signing key, the client only needs
// the subject and validity window.
func inspectToken(token string) (steamID uint64, issuedAt, expiresAt int64, err error) {
	claims := jwt.MapClaims{}
	if _, _, err = jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return 0, 0, 0, err
	}

	if sub, serr := claims.GetSubject(); serr == nil && sub != "" {
		steamID, _ = strconv.ParseUint(sub, 10, 64)
	}
	if iat, terr := claims.GetIssuedAt(); terr == nil && iat != nil {
		issuedAt = iat.Unix()
	}
	if exp, terr := claims.GetExpirationTime(); terr == nil && exp != nil {
		expiresAt = exp.Unix()
	}
	return steamID, issuedAt, expiresAt, nil
}

// tokensFromPair builds Tokens from a freshly issued access/refresh pair,
// reading the validity window out of the access token claims. Tokens whose
// claims cannot be read still get a conservative one-hour window so the
// refresh loop keeps functioning.
func tokensFromPair(access, refresh string, now int64) Tokens {
	t := Tokens{AccessToken: access, RefreshToken: refresh, IssuedAt: now, ExpiresAt: now + 3600}
	if sid, iat, exp, err := inspectToken(access); err == nil {
		if sid != 0 {
			t.SteamID = sid
		}
		if iat != 0 {
			t.IssuedAt = iat
		}
		if exp > t.IssuedAt {
			t.ExpiresAt = exp
		}
	}
	return t
}

package guardian

import (
	"errors"

	"github.com/feuarus/guardian/manifest"
	"github.com/feuarus/guardian/session"
	"github.com/feuarus/guardian/timesync"
	"github.com/feuarus/guardian/totp"
	"github.com/feuarus/guardian/vault"
)

// Root-level sentinels. Conditions raised by a subsystem keep that
// subsystem's identity so errors.Is matches at either level.
var (
	// ErrEngineNotReady is returned when an Engine method is called before
	// the engine has been fully constructed.
	ErrEngineNotReady = errors.New("engine not ready")
	// ErrAccountExists is returned when importing an account whose name is
	// already enrolled.
	ErrAccountExists = errors.New("account already enrolled")
	// ErrNoSharedSecret is returned when a record cannot produce login codes.
	ErrNoSharedSecret = errors.New("record has no shared secret")
	// ErrNoIdentitySecret is returned when a record cannot sign
	// confirmation calls.
	ErrNoIdentitySecret = errors.New("record has no identity secret")
	// ErrPromptCancelled is returned when the operator cancels a prompt.
	ErrPromptCancelled = errors.New("operator cancelled prompt")
	// ErrLinkPending is returned when enrollment finalization needs another
	// code round before it completes.
	ErrLinkPending = errors.New("authenticator link awaiting another code")
	// ErrPhoneRequired is returned when enrollment needs a verified phone
	// number on the account first.
	ErrPhoneRequired = errors.New("verified phone number required")

	// ErrInvalidSecret is returned on empty or malformed secret material.
	ErrInvalidSecret = totp.ErrInvalidSecret
	// ErrClockUnavailable is returned when the adjusted clock cannot be
	// established.
	ErrClockUnavailable = timesync.ErrTimeSyncUnavailable
	// ErrAccountNotFound is returned when the named account is not present
	// in the manifest.
	ErrAccountNotFound = manifest.ErrAccountNotFound
	// ErrPassphraseRequired is returned when encrypted records are accessed
	// without a passphrase.
	ErrPassphraseRequired = manifest.ErrPassphraseRequired
	// ErrWrongPassphraseOrCorrupt is the undifferentiated decryption
	// failure.
	ErrWrongPassphraseOrCorrupt = vault.ErrWrongPassphraseOrCorrupt
	// ErrAuthExpired is returned when the platform rejects the stored
	// refresh token; the operator must log in again.
	ErrAuthExpired = session.ErrAuthExpired
	// ErrAuthFailed is returned when a login attempt is rejected outright
	// or the challenge attempt limit is exceeded.
	ErrAuthFailed = session.ErrAuthFailed
	// ErrChallengeRequired is returned when a login needs a second-factor
	// answer before it can complete. An expected state-machine branch, not
	// a failure.
	ErrChallengeRequired = session.ErrChallengeRequired
	// ErrChallengeRejected is returned for a wrong challenge code while
	// attempts remain.
	ErrChallengeRejected = session.ErrChallengeRejected
	// ErrNotAuthenticated is returned when an operation requires a live
	// session and none is held.
	ErrNotAuthenticated = session.ErrNotAuthenticated
)

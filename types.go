package guardian

import (
	"context"
	"io"

	"github.com/feuarus/guardian/confirm"
	"github.com/feuarus/guardian/internal/audit"
	"github.com/feuarus/guardian/manifest"
	"github.com/feuarus/guardian/session"
)

// PassphraseProvider yields the passphrase-equivalent key protecting an
// account's record. Implementations wrap an OS secret backend or an
// operator prompt. Return ErrPromptCancelled when the operator backs out.
type PassphraseProvider interface {
	Passphrase(ctx context.Context, accountName string) ([]byte, error)
}

// StaticPassphrase is a fixed passphrase for every account. A nil or empty
// value means records are stored unencrypted.
type StaticPassphrase []byte

func (p StaticPassphrase) Passphrase(context.Context, string) ([]byte, error) {
	return []byte(p), nil
}

// Prompter collects a second-factor answer from the operator when the
// engine cannot produce one itself (email codes, captcha).
type Prompter interface {
	PromptCode(ctx context.Context, accountName string, challenge session.Challenge) (string, error)
}

// QRDecoder turns an enrollment QR image into its embedded login URI. The
// engine consumes only the URI; decoding images is a collaborator concern.
type QRDecoder interface {
	DecodeURI(ctx context.Context, imagePath string) (string, error)
}

// Re-exported event and sink types so embedders configure auditing without
// importing the internal package.
type (
	AuditEvent = audit.Event
	AuditSink  = audit.Sink
	NoOpSink   = audit.NoOpSink
)

// NewChannelSink returns a sink that buffers events on a channel, mostly
// for tests and embedders that forward events elsewhere.
func NewChannelSink(buffer int) *audit.ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a sink writing one JSON event per line.
func NewJSONWriterSink(w io.Writer) *audit.JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

// Domain types surfaced at the root for embedders.
type (
	Account      = manifest.Account
	Confirmation = confirm.Confirmation
	Outcome      = confirm.Outcome
	Challenge    = session.Challenge
	Tokens       = session.Tokens
)

// Package audit provides the audit event model, delivery sinks, and the
// asynchronous bounded-buffer dispatcher used by the engine.
//
// # Architecture boundaries
//
// This package owns event structure and delivery. Deciding WHAT to audit
// belongs to the engine; sinks decide where events land. Event payloads
// must never contain secrets, passphrases, or session tokens.
package audit

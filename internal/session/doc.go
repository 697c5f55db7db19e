// Package session implements the client side of a conversation.
//
// A Controller owns one transcript and at most one in-flight request.
// Its status moves through a small state machine:
//
//	idle --Submit--> submitted --first event--> streaming --finish--> ready
//	submitted|streaming --transport or remote error--> error
//	submitted|streaming --Cancel--> ready
//	ready|error --Submit--> submitted
//
// Submit returns immediately; the reply is consumed in the background and
// applied to the transcript with wire.Applier. Subscribe delivers status
// changes and applied parts. A second Submit while a request is in flight
// fails with ErrBusy.
//
// The payload limit (50 MiB by default) is checked against the whole
// request before anything is mutated, so an oversized submit leaves the
// transcript and status untouched and never reaches the transport.
//
// Cancel and every error path seal the partial assistant message. Content
// that already streamed is never discarded.
//
// HTTPTransport talks to the gateway's /api/chat endpoint in NDJSON or SSE
// framing. Attachments are sent inline as data URLs.
package session

// Package dedupe rejects replayed chat requests.
//
// Clients send a request ID with every chat request. The gateway claims the
// ID before running the agent loop; a second request with the same ID
// inside the TTL window gets 409 Conflict instead of a second model run.
package dedupe

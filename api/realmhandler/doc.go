// Package realmhandler exposes one realm of the PIN oracle over HTTP.
//
// Routes (all require "Authorization: Bearer <jwt>" minted for this realm):
//
//	PUT    /v1/secrets/{secret_id}          register a share
//	POST   /v1/secrets/{secret_id}/recover  recover a share with a PIN proof
//	DELETE /v1/secrets/{secret_id}          delete a registration
//
// Failures are JSON ErrorResponse bodies: 401 bad token, 403 wrong PIN (with
// guesses_remaining), 404 not registered, 423 locked, 429 rate limited.
// Requests are throttled per token subject.
package realmhandler

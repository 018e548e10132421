// Package tokenhandler implements per-realm token issuance.
//
// The issuer exposes POST /create-jwt, returning an HS256 JWT whose audience
// is the realm id and whose subject is derived from the app name and the
// normalized email. Realms verify tokens with their own key through Authority.
// Client is the matching interfaces.TokenIssuer used by the share store.
package tokenhandler

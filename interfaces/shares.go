package interfaces

import "context"

// ShareStore keeps Share B behind a PIN-gated oracle spread across realms.
type ShareStore interface {
	// Register binds secret to pin under contextInfo. guessLimit bounds wrong PIN attempts.
	Register(ctx context.Context, pin, secret []byte, contextInfo string, guessLimit int) error
	// Recover returns the registered secret, zero-padded to the store's maximum secret size.
	Recover(ctx context.Context, pin []byte, contextInfo string) ([]byte, error)
	// Delete removes the registration from every reachable realm.
	Delete(ctx context.Context, contextInfo string) error
}

// TokenIssuer hands out per-realm credentials for an identity.
type TokenIssuer interface {
	IssueToken(ctx context.Context, realmID string, identity Identity) (string, error)
}

// RealmRegisterRequest is what a single realm stores for one registration.
type RealmRegisterRequest struct {
	Version    []byte `json:"version"`
	Share      []byte `json:"share"`
	PinProof   []byte `json:"pin_proof"`
	GuessLimit int    `json:"guess_limit"`
}

type RealmRecoverRequest struct {
	PinProof []byte `json:"pin_proof"`
}

type RealmRecoverResponse struct {
	Version []byte `json:"version"`
	Share   []byte `json:"share"`
}

// RealmConn is a connection to one realm, authenticated per call with a token.
// secretID namespaces registrations of the same user by context info.
type RealmConn interface {
	Register(ctx context.Context, token, secretID string, req *RealmRegisterRequest) error
	Recover(ctx context.Context, token, secretID string, req *RealmRecoverRequest) (*RealmRecoverResponse, error)
	Delete(ctx context.Context, token, secretID string) error
}

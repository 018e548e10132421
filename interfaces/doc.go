// Package interfaces defines the contracts between the components of the
// seedless backup system without implementation details.
//
// # Capabilities
//
//   - BackupStore: idempotent persistence of backup records. Composed into a
//     primary/secondary fallback by the storage package.
//   - ShareStore: PIN-gated custody of Share B, implemented by the realms client.
//   - RealmConn: a single realm of the PIN oracle, authenticated with a token.
//   - TokenIssuer: identity-bound issuer of per-realm tokens.
//   - WalletDeriver: mnemonic generation and account derivation.
//
// # Errors
//
// Every failure that crosses a component boundary is an *Error carrying one
// ErrorKind from a closed set. Match kinds with errors.Is against the
// sentinels (ErrLocked, ErrWrongPin, ...) or with KindOf.
package interfaces

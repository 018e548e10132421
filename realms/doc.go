// Package realms implements the PIN-gated remote share store.
//
// The client side (Client) keeps Share B behind a PIN oracle distributed
// across independently operated realms. The PIN is hardened on the device
// with Argon2id and each realm only ever sees a realm-specific proof derived
// from it. The secret itself is Shamir-split across realms so that no single
// realm holds it.
//
// Operations fan out concurrently and complete once a threshold of realms
// agree: Register and Delete need RegisterThreshold acknowledgements, Recover
// needs RecoverThreshold matching shares. If the global deadline elapses first
// the call fails with KindQuorumTimeout. Register and Delete return as soon
// as quorum is reached; writes still in flight keep running on a detached
// context bounded by the same deadline and their outcome is logged.
//
// Per-realm tokens come from a TokenIssuer and are cached in a TokenCache
// owned by the caller's session; clearing the cache at sign-out drops every
// credential.
//
// The realm side (Oracle) stores a salted commitment to the PIN proof and a
// remaining-guess counter. A wrong proof decrements the counter; at zero the
// record is locked until it is registered again. A correct proof resets the
// counter.
package realms

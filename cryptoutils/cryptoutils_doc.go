// Package cryptoutils implements the cryptographic primitives of the seedless
// backup protocol.
//
// # Envelope codec
//
// Seed material is padded to PadWidth bytes (Pad/Unpad) so the ciphertext
// length does not reveal the mnemonic's word count. EncryptAndSplit seals the
// padded buffer with AES-256-GCM under a single-use key and splits that key
// 2-of-2 with Shamir's scheme; CombineAndDecrypt reverses it. Shares are
// combined order-independently by index.
//
// Failures are typed: shares that cannot be combined yield KindShareMismatch,
// an authentication failure of the AEAD yields KindIntegrityFailure.
//
// # PIN hardening
//
// DeriveAccessKey stretches a PIN with Argon2id salted by the normalized email
// and context info; RealmPinProof derives a distinct proof per realm.
//
// # Password sealing
//
// DerivePasswordKey and SealX/OpenX back the local password vault with
// Argon2id and XChaCha20-Poly1305.
package cryptoutils

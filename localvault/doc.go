// Package localvault caches recovered wallet seeds on the device.
//
// Each entry is sealed with XChaCha20-Poly1305 under a key derived by Argon2id
// from the user's password and the wallet id; the KDF parameters and salt are
// stored in the entry. Entries are convenience copies, not backups of record:
// losing the password only costs a recovery through the backup flow.
package localvault

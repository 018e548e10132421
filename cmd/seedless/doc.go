// Package main (cmd/seedless) is the client for seedless wallet backup.
//
//	seedless create       generate a wallet and back it up behind a PIN
//	seedless recover      restore the wallet from its backup and PIN
//	seedless unlock       open the locally stored wallet with the password
//	seedless forget       remove a wallet from the local vault
//	seedless delete-share remove the PIN registration from the realms
//
// PIN and password are read from SEEDLESS_PIN and SEEDLESS_PASSWORD when not
// passed as flags.
package main

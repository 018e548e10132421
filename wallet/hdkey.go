package wallet

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/seedless-backup/cryptoutils"
)

func newMasterKey(seed []byte) (*hdkeychain.ExtendedKey, error) {
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("failed to create master key: %w", err)
	}
	return master, nil
}

// deriveKey walks path from master. Path elements carry the hardened offset
// already, matching hdkeychain.HardenedKeyStart.
func deriveKey(master *hdkeychain.ExtendedKey, path accounts.DerivationPath) (*hdkeychain.ExtendedKey, error) {
	current := master
	for _, index := range path {
		next, err := current.Derive(index)
		if err != nil {
			return nil, fmt.Errorf("failed to derive %s: %w", path, err)
		}
		current = next
	}
	return current, nil
}

func privateKey(key *hdkeychain.ExtendedKey) (*ecdsa.PrivateKey, error) {
	ecPriv, err := key.ECPrivKey()
	if err != nil {
		return nil, err
	}
	raw := ecPriv.Serialize()
	defer cryptoutils.WipeBytes(raw)

	return crypto.ToECDSA(raw)
}

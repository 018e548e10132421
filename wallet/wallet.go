package wallet

import (
	"context"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/ruteri/seedless-backup/cryptoutils"
	"github.com/ruteri/seedless-backup/interfaces"
	"github.com/tyler-smith/go-bip39"
)

// EntropyBits yields a 12-word mnemonic.
const EntropyBits = 128

// walletNamespace scopes wallet ids derived from master public keys.
var walletNamespace = uuid.MustParse("5b0c6f1e-8d2a-4f39-9a51-7c3e2b9d4a10")

// DefaultChains are the EVM chains an imported wallet exposes. They share the
// Ethereum coin type, so each index yields the same address on every chain.
var DefaultChains = []interfaces.ChainType{interfaces.ChainEthereum, interfaces.ChainBase}

// Deriver implements interfaces.WalletDeriver with BIP-39 mnemonics and
// BIP-32/44 secp256k1 derivation.
type Deriver struct {
	Chains []interfaces.ChainType
}

func NewDeriver() *Deriver {
	return &Deriver{Chains: DefaultChains}
}

func (d *Deriver) GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(EntropyBits)
	if err != nil {
		return "", fmt.Errorf("failed to generate entropy: %w", err)
	}
	defer cryptoutils.WipeBytes(entropy)

	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("failed to generate mnemonic: %w", err)
	}
	return mnemonic, nil
}

// Seed validates mnemonic and returns its BIP-39 seed (empty passphrase).
func (d *Deriver) Seed(mnemonic string) ([]byte, error) {
	mnemonic = normalizeMnemonic(mnemonic)
	if mnemonic == "" {
		return nil, interfaces.ValidationError("mnemonic is required")
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, interfaces.ValidationError("invalid mnemonic phrase")
	}
	return bip39.NewSeed(mnemonic, ""), nil
}

// ImportWallet derives the account at accountIndex for every configured chain.
// The wallet id depends only on the master key, so a recovered mnemonic keeps its id.
func (d *Deriver) ImportWallet(ctx context.Context, mnemonic string, accountIndex uint32) (*interfaces.Wallet, error) {
	seed, err := d.Seed(mnemonic)
	if err != nil {
		return nil, err
	}
	defer cryptoutils.WipeBytes(seed)

	return d.FromSeed(seed, accountIndex)
}

// FromSeed is ImportWallet for a seed already unlocked from the local vault.
func (d *Deriver) FromSeed(seed []byte, accountIndex uint32) (*interfaces.Wallet, error) {
	master, err := newMasterKey(seed)
	if err != nil {
		return nil, err
	}

	walletID, err := walletIDFor(master)
	if err != nil {
		return nil, err
	}

	path, err := AccountPath(accountIndex)
	if err != nil {
		return nil, err
	}

	leaf, err := deriveKey(master, path)
	if err != nil {
		return nil, err
	}
	priv, err := privateKey(leaf)
	if err != nil {
		return nil, fmt.Errorf("invalid account key: %w", err)
	}
	address := crypto.PubkeyToAddress(priv.PublicKey).Hex()

	chains := d.Chains
	if len(chains) == 0 {
		chains = DefaultChains
	}

	w := &interfaces.Wallet{WalletID: walletID}
	for _, chain := range chains {
		w.Accounts = append(w.Accounts, interfaces.Account{
			ChainType:      chain,
			Address:        address,
			DerivationPath: path.String(),
		})
	}
	return w, nil
}

// AccountPath returns m/44'/60'/0'/0/{index}.
func AccountPath(index uint32) (accounts.DerivationPath, error) {
	return accounts.ParseDerivationPath(fmt.Sprintf("m/44'/60'/0'/0/%d", index))
}

func walletIDFor(master *hdkeychain.ExtendedKey) (string, error) {
	pub, err := master.ECPubKey()
	if err != nil {
		return "", fmt.Errorf("invalid master key: %w", err)
	}
	return uuid.NewSHA1(walletNamespace, pub.SerializeCompressed()).String(), nil
}

func normalizeMnemonic(mnemonic string) string {
	return strings.Join(strings.Fields(strings.ToLower(mnemonic)), " ")
}

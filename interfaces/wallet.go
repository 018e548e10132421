package interfaces

import "context"

type ChainType string

const (
	ChainEthereum ChainType = "ethereum"
	ChainBase     ChainType = "base"
)

type Account struct {
	ChainType      ChainType `json:"chain_type"`
	Address        string    `json:"address"`
	DerivationPath string    `json:"derivation_path"`
}

type Wallet struct {
	WalletID string    `json:"wallet_id"`
	Accounts []Account `json:"accounts"`
}

// WalletDeriver turns a mnemonic into chain accounts.
type WalletDeriver interface {
	GenerateMnemonic() (string, error)
	ImportWallet(ctx context.Context, mnemonic string, accountIndex uint32) (*Wallet, error)
	Seed(mnemonic string) ([]byte, error)
}

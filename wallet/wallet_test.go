package wallet

import (
	"context"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/seedless-backup/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const abandonMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func TestDeriver_KnownVector(t *testing.T) {
	d := NewDeriver()

	w, err := d.ImportWallet(context.Background(), abandonMnemonic, 0)
	require.NoError(t, err)
	require.Len(t, w.Accounts, 2)

	for _, acct := range w.Accounts {
		assert.Equal(t, "0x9858EfFD232B4033E47d90003D41EC34EcaEda94", acct.Address)
		assert.Equal(t, "m/44'/60'/0'/0/0", acct.DerivationPath)
	}
	assert.Equal(t, interfaces.ChainEthereum, w.Accounts[0].ChainType)
	assert.Equal(t, interfaces.ChainBase, w.Accounts[1].ChainType)
}

func TestDeriver_Seed(t *testing.T) {
	d := NewDeriver()

	seed, err := d.Seed(abandonMnemonic)
	require.NoError(t, err)
	assert.Equal(t,
		"5eb00bbddcf069084889a8ab9155568165f5c453ccb85e70811aaed6f6da5fc19a5ac40b389cd370d086206dec8aa6c43daea6690f20ad3d8d48b2d2ce9e38e4",
		hex.EncodeToString(seed))

	// Whitespace and case do not change the seed.
	again, err := d.Seed("  " + strings.ToUpper(strings.ReplaceAll(abandonMnemonic, " ", "   ")) + "\n")
	require.NoError(t, err)
	assert.Equal(t, seed, again)

	tests := []struct {
		name     string
		mnemonic string
	}{
		{name: "empty", mnemonic: "  "},
		{name: "bad checksum", mnemonic: strings.Repeat("abandon ", 12)},
		{name: "unknown word", mnemonic: strings.Replace(abandonMnemonic, "about", "gopher", 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Seed(tt.mnemonic)
			assert.ErrorIs(t, err, interfaces.ErrValidation)
		})
	}
}

func TestDeriver_GenerateMnemonic(t *testing.T) {
	d := NewDeriver()

	first, err := d.GenerateMnemonic()
	require.NoError(t, err)
	assert.Len(t, strings.Fields(first), 12)

	second, err := d.GenerateMnemonic()
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	_, err = d.Seed(first)
	assert.NoError(t, err)
}

func TestDeriver_WalletID(t *testing.T) {
	d := NewDeriver()
	ctx := context.Background()

	a0, err := d.ImportWallet(ctx, abandonMnemonic, 0)
	require.NoError(t, err)
	a1, err := d.ImportWallet(ctx, abandonMnemonic, 1)
	require.NoError(t, err)

	// Stable per mnemonic, independent of the account index.
	assert.Equal(t, a0.WalletID, a1.WalletID)
	assert.NotEqual(t, a0.Accounts[0].Address, a1.Accounts[0].Address)
	assert.Equal(t, "m/44'/60'/0'/0/1", a1.Accounts[0].DerivationPath)

	other, err := d.GenerateMnemonic()
	require.NoError(t, err)
	b, err := d.ImportWallet(ctx, other, 0)
	require.NoError(t, err)
	assert.NotEqual(t, a0.WalletID, b.WalletID)

	seed, err := d.Seed(abandonMnemonic)
	require.NoError(t, err)
	fromSeed, err := d.FromSeed(seed, 0)
	require.NoError(t, err)
	assert.Equal(t, a0, fromSeed)
}

func TestDeriveKey(t *testing.T) {
	seed, err := hex.DecodeString("000102030405060708090a0b0c0d0e0f")
	require.NoError(t, err)

	tests := []struct {
		path     string
		expected string
	}{
		{"m/0'", "edb2e14f9ee77d26dd93b4ecede8d16ed408ce149b6cd80b0715a2d911a0afea"},
		{"m/0'/1/2'/2/1000000000", "471b76e389e528d6de6d816857e012c5455051cad6660850e58372a6c3e6e7c8"},
	}

	master, err := newMasterKey(seed)
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			path, err := accounts.ParseDerivationPath(tt.path)
			require.NoError(t, err)

			leaf, err := deriveKey(master, path)
			require.NoError(t, err)
			priv, err := privateKey(leaf)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, hex.EncodeToString(crypto.FromECDSA(priv)))
		})
	}
}

func TestDeriver_FromSeedRejectsShortSeed(t *testing.T) {
	_, err := NewDeriver().FromSeed(make([]byte, 8), 0)
	require.Error(t, err)
}

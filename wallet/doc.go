// Package wallet derives EVM accounts from BIP-39 mnemonics along
// m/44'/60'/0'/0/{index}. Ethereum and Base share the derived address.
package wallet

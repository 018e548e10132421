package cryptoutils

import (
	"fmt"

	"github.com/hashicorp/vault/shamir"
	"github.com/ruteri/seedless-backup/interfaces"
)

// SplitSecret splits secret into total shares, any threshold of which recombine it.
// Each share is len(secret)+1 bytes; the trailing byte is the share's x-coordinate
// and doubles as its index.
func SplitSecret(secret []byte, total, threshold int) ([]interfaces.KeyShare, error) {
	if len(secret) == 0 {
		return nil, interfaces.ValidationError("secret must not be empty")
	}
	if threshold < 2 || total < threshold {
		return nil, interfaces.ValidationError("invalid share configuration %d-of-%d", threshold, total)
	}

	parts, err := shamir.Split(secret, total, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to split secret: %w", err)
	}

	shares := make([]interfaces.KeyShare, len(parts))
	for i, part := range parts {
		shares[i] = interfaces.KeyShare{Index: int(part[len(part)-1]), Bytes: part}
	}
	return shares, nil
}

// CombineShares reconstructs a secret from at least threshold shares, in any order.
func CombineShares(shares []interfaces.KeyShare, threshold int) ([]byte, error) {
	if len(shares) < threshold || len(shares) < 2 {
		return nil, interfaces.NewError(interfaces.KindShareMismatch,
			"not enough key shares to reconstruct the backup",
			fmt.Errorf("have %d shares, need %d", len(shares), threshold))
	}

	parts := make([][]byte, 0, len(shares))
	seen := make(map[int]struct{}, len(shares))
	for _, share := range shares {
		if len(share.Bytes) < 2 || len(share.Bytes) != len(shares[0].Bytes) {
			return nil, interfaces.NewError(interfaces.KindShareMismatch, "key shares do not belong together",
				fmt.Errorf("share %d has length %d", share.Index, len(share.Bytes)))
		}
		if int(share.Bytes[len(share.Bytes)-1]) != share.Index {
			return nil, interfaces.NewError(interfaces.KindShareMismatch, "key shares do not belong together",
				fmt.Errorf("share index %d does not match its encoding", share.Index))
		}
		if _, dup := seen[share.Index]; dup {
			return nil, interfaces.NewError(interfaces.KindShareMismatch, "key shares do not belong together",
				fmt.Errorf("duplicate share index %d", share.Index))
		}
		seen[share.Index] = struct{}{}
		parts = append(parts, share.Bytes)
	}

	secret, err := shamir.Combine(parts)
	if err != nil {
		return nil, interfaces.NewError(interfaces.KindShareMismatch, "key shares do not belong together", err)
	}
	return secret, nil
}

// WipeBytes overwrites b with zeros.
func WipeBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

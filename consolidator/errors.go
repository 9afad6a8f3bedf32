// Copyright (c) 2024 The stakesuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package consolidator

import (
	"errors"
	"fmt"
)

var (
	// ErrFeeCapExceeded is returned when the fee the wallet reports is
	// above the operator's configured cap.  No spend is attempted while
	// this holds, as the wallet would deduct the oversized fee from the
	// account balance.
	ErrFeeCapExceeded = errors.New("wallet fee exceeds cap")

	// ErrDustAmount is returned when the consolidated amount net of the
	// wallet fee would be unspendable dust, or no value would remain at
	// all.
	ErrDustAmount = errors.New("consolidated amount would be dust")
)

// IncompatibleWalletError describes a wallet whose reported version is not in
// the allow list of supported builds.  Automation must not run against an
// unknown wallet, so this error is fatal at startup.
type IncompatibleWalletError struct {
	// Version is the version string the wallet reported.
	Version string
}

// Error satisfies the error interface.  The allow list is included so the
// operator can see which builds are supported.
func (e *IncompatibleWalletError) Error() string {
	return fmt.Sprintf("wallet version %q is not supported, compatible "+
		"wallets: %s", e.Version, compatibleWallets)
}

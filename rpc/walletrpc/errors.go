// Copyright (c) 2024 The stakesuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package walletrpc

import "fmt"

// UnlockError describes a walletpassphrase invocation the wallet refused,
// for example because the passphrase was incorrect or the wallet is not
// encrypted.  The refusal arrives in the RPC result payload, so it carries
// no JSON-RPC error code.
type UnlockError struct {
	// Message is the refusal text reported by the wallet.
	Message string
}

// Error satisfies the error interface.
func (e *UnlockError) Error() string {
	return fmt.Sprintf("wallet refused unlock: %s", e.Message)
}

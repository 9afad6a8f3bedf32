// Copyright (c) 2024 The stakesuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package consolidator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompatibleWallet(t *testing.T) {
	tests := []struct {
		version    string
		compatible bool
	}{
		// The supported release and the prefixes a wallet reports
		// while its build metadata varies.
		{version: "v1.0.1.3-g9c5626", compatible: true},
		{version: "v1.0.1.3-g", compatible: true},
		{version: "v1.0.1.3", compatible: true},
		{version: "V1.0.1.3-G9C5626", compatible: true},
		{version: "1.0.1.3", compatible: true},

		{version: "v1.0.1.4", compatible: false},
		{version: "v1.0.1.3-g9c5626-dirty", compatible: false},
		{version: "v2.0.0", compatible: false},
	}

	for _, test := range tests {
		require.Equal(t, test.compatible, compatibleWallet(test.version),
			"version %q", test.version)
	}
}

func TestIncompatibleWalletError(t *testing.T) {
	err := &IncompatibleWalletError{Version: "v2.0.0"}
	require.Contains(t, err.Error(), "v2.0.0")
	require.Contains(t, err.Error(), compatibleWallets)
}

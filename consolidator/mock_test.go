// Copyright (c) 2024 The stakesuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// This file contains mock implementations of the Gateway and Recorder
// interfaces.  They are used to isolate the cycle and scheduling logic from
// a live wallet.

package consolidator

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stakesuite/coinctrld/rpc/walletrpc"
	"github.com/stretchr/testify/mock"
)

// mockGateway is a mock implementation of the Gateway interface.
type mockGateway struct {
	mock.Mock
}

// A compile-time assertion to ensure that mockGateway implements the
// Gateway interface.
var _ Gateway = (*mockGateway)(nil)

// GetInfo implements the Gateway interface.
func (m *mockGateway) GetInfo() (*walletrpc.InfoResult, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*walletrpc.InfoResult), args.Error(1)
}

// GetStakingInfo implements the Gateway interface.
func (m *mockGateway) GetStakingInfo() (*walletrpc.StakingInfoResult, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*walletrpc.StakingInfoResult), args.Error(1)
}

// ListUnspent implements the Gateway interface.
func (m *mockGateway) ListUnspent() ([]walletrpc.UnspentOutput, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]walletrpc.UnspentOutput), args.Error(1)
}

// WalletPassphrase implements the Gateway interface.
func (m *mockGateway) WalletPassphrase(passphrase string, timeout int64,
	stakingOnly bool) error {

	args := m.Called(passphrase, timeout, stakingOnly)
	return args.Error(0)
}

// SendFrom implements the Gateway interface.
func (m *mockGateway) SendFrom(account, toAddress string,
	amount btcutil.Amount) (*chainhash.Hash, error) {

	args := m.Called(account, toAddress, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*chainhash.Hash), args.Error(1)
}

// mockRecorder is a mock implementation of the Recorder interface.
type mockRecorder struct {
	mock.Mock
}

// A compile-time assertion to ensure that mockRecorder implements the
// Recorder interface.
var _ Recorder = (*mockRecorder)(nil)

// Record implements the Recorder interface.
func (m *mockRecorder) Record(record *Consolidation) error {
	args := m.Called(record)
	return args.Error(0)
}

// Copyright (c) 2024 The stakesuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package walletrpc

import (
	"strings"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// InfoResult models the data returned by the wallet's getinfo method.  Only
// the fields consumed by coin control are decoded; staking wallets report
// their version as a free-form string rather than a numeric build number.
type InfoResult struct {
	Version         string  `json:"version"`
	ProtocolVersion int32   `json:"protocolversion"`
	WalletVersion   int32   `json:"walletversion"`
	Balance         float64 `json:"balance"`
	Stake           float64 `json:"stake"`
	Blocks          int32   `json:"blocks"`
	Connections     int32   `json:"connections"`
	PayTxFee        float64 `json:"paytxfee"`
	RelayFee        float64 `json:"relayfee"`
	Errors          string  `json:"errors"`
}

// StakingInfoResult models the data returned by the wallet's getstakinginfo
// method.
type StakingInfoResult struct {
	Enabled        bool    `json:"enabled"`
	Staking        bool    `json:"staking"`
	Errors         string  `json:"errors"`
	Difficulty     float64 `json:"difficulty"`
	SearchInterval int64   `json:"search-interval"`
	Weight         uint64  `json:"weight"`
	NetStakeWeight uint64  `json:"netstakeweight"`
	ExpectedTime   int64   `json:"expectedtime"`
}

// ExpectedDuration returns the wallet's estimate of the time until the next
// stake is found.  Wallets report zero when no estimate is available, which
// maps to None.
func (r *StakingInfoResult) ExpectedDuration() fn.Option[time.Duration] {
	if r.ExpectedTime <= 0 {
		return fn.None[time.Duration]()
	}
	return fn.Some(time.Duration(r.ExpectedTime) * time.Second)
}

// UnspentOutput models a single element of the wallet's listunspent result.
// The account field is a pointer as wallets omit it for outputs paying
// addresses outside the account system.
type UnspentOutput struct {
	TxID          string  `json:"txid"`
	Vout          uint32  `json:"vout"`
	Address       string  `json:"address"`
	Account       *string `json:"account"`
	ScriptPubKey  string  `json:"scriptPubKey"`
	Amount        float64 `json:"amount"`
	Confirmations int64   `json:"confirmations"`
	Spendable     bool    `json:"spendable"`
}

// FromAccount reports whether the output is credited to the named account.
// The comparison is case-insensitive as wallet account names are not case
// sensitive.
func (o *UnspentOutput) FromAccount(account string) bool {
	return o.Account != nil && strings.EqualFold(*o.Account, account)
}

// Copyright (c) 2024 The stakesuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package walletrpc

import (
	"bytes"
	"encoding/json"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
)

// nullMessage is the raw result payload of a method that returns nothing.
var nullMessage = []byte("null")

// FutureGetInfoResult is a future promise to deliver the result of a
// GetInfoAsync RPC invocation (or an applicable error).
type FutureGetInfoResult chan *rpcclient.Response

// Receive waits for the Response promised by the future and returns the info
// provided by the server.
func (r FutureGetInfoResult) Receive() (*InfoResult, error) {
	res, err := rpcclient.ReceiveFuture(r)
	if err != nil {
		return nil, err
	}
	var info InfoResult
	if err := json.Unmarshal(res, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetInfoAsync returns an instance of a type that can be used to get the
// result of the RPC at some future time by invoking the Receive function on
// the returned instance.
//
// See GetInfo for the blocking version and more details.
func (c *Client) GetInfoAsync() FutureGetInfoResult {
	return FutureGetInfoResult(c.rpc.RawRequestAsync("getinfo", nil))
}

// GetInfo returns basic state about the wallet and the node it is attached
// to, including the wallet's version string and its configured transaction
// fee.
func (c *Client) GetInfo() (*InfoResult, error) {
	return c.GetInfoAsync().Receive()
}

// FutureGetStakingInfoResult is a future promise to deliver the result of a
// GetStakingInfoAsync RPC invocation (or an applicable error).
type FutureGetStakingInfoResult chan *rpcclient.Response

// Receive waits for the Response promised by the future and returns the
// staking state provided by the server.
func (r FutureGetStakingInfoResult) Receive() (*StakingInfoResult, error) {
	res, err := rpcclient.ReceiveFuture(r)
	if err != nil {
		return nil, err
	}
	var info StakingInfoResult
	if err := json.Unmarshal(res, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetStakingInfoAsync returns an instance of a type that can be used to get
// the result of the RPC at some future time by invoking the Receive function
// on the returned instance.
//
// See GetStakingInfo for the blocking version and more details.
func (c *Client) GetStakingInfoAsync() FutureGetStakingInfoResult {
	return FutureGetStakingInfoResult(c.rpc.RawRequestAsync("getstakinginfo", nil))
}

// GetStakingInfo returns the wallet's proof-of-stake minting state.
func (c *Client) GetStakingInfo() (*StakingInfoResult, error) {
	return c.GetStakingInfoAsync().Receive()
}

// FutureListUnspentResult is a future promise to deliver the result of a
// ListUnspentAsync RPC invocation (or an applicable error).
type FutureListUnspentResult chan *rpcclient.Response

// Receive waits for the Response promised by the future and returns all
// unspent wallet outputs reported by the server.
func (r FutureListUnspentResult) Receive() ([]UnspentOutput, error) {
	res, err := rpcclient.ReceiveFuture(r)
	if err != nil {
		return nil, err
	}
	var unspent []UnspentOutput
	if err := json.Unmarshal(res, &unspent); err != nil {
		return nil, err
	}
	return unspent, nil
}

// ListUnspentAsync returns an instance of a type that can be used to get the
// result of the RPC at some future time by invoking the Receive function on
// the returned instance.
//
// See ListUnspent for the blocking version and more details.
func (c *Client) ListUnspentAsync() FutureListUnspentResult {
	return FutureListUnspentResult(c.rpc.RawRequestAsync("listunspent", nil))
}

// ListUnspent returns all unspent transaction outputs known to the wallet,
// using the server's default confirmation bounds.
func (c *Client) ListUnspent() ([]UnspentOutput, error) {
	return c.ListUnspentAsync().Receive()
}

// FutureWalletPassphraseResult is a future promise to deliver the result of a
// WalletPassphraseAsync RPC invocation (or an applicable error).
type FutureWalletPassphraseResult chan *rpcclient.Response

// Receive waits for the Response promised by the future and returns an error
// if the wallet rejected the unlock.  Staking wallets report unlock refusals
// as a message string in the result payload rather than as a JSON-RPC error
// object, so a non-empty string result is mapped to an UnlockError.
func (r FutureWalletPassphraseResult) Receive() error {
	res, err := rpcclient.ReceiveFuture(r)
	if err != nil {
		return err
	}
	if len(res) == 0 || bytes.Equal(res, nullMessage) {
		return nil
	}
	var msg string
	if err := json.Unmarshal(res, &msg); err != nil {
		// Some wallets echo a status object on success.  Anything
		// that is not a string is not a refusal.
		return nil
	}
	if msg != "" {
		return &UnlockError{Message: msg}
	}
	return nil
}

// WalletPassphraseAsync returns an instance of a type that can be used to get
// the result of the RPC at some future time by invoking the Receive function
// on the returned instance.
//
// See WalletPassphrase for the blocking version and more details.
func (c *Client) WalletPassphraseAsync(passphrase string, timeout int64,
	stakingOnly bool) FutureWalletPassphraseResult {

	params := marshalParams(passphrase, timeout, stakingOnly)
	return FutureWalletPassphraseResult(
		c.rpc.RawRequestAsync("walletpassphrase", params),
	)
}

// WalletPassphrase unlocks the wallet with the given passphrase for timeout
// seconds.  When stakingOnly is true the unlocked keys may only be used for
// staking, not for spending.
func (c *Client) WalletPassphrase(passphrase string, timeout int64,
	stakingOnly bool) error {

	log.Tracef("Unlocking wallet for %d seconds (staking only: %v)",
		timeout, stakingOnly)
	return c.WalletPassphraseAsync(passphrase, timeout, stakingOnly).Receive()
}

// FutureSendFromResult is a future promise to deliver the result of a
// SendFromAsync RPC invocation (or an applicable error).
type FutureSendFromResult chan *rpcclient.Response

// Receive waits for the Response promised by the future and returns the hash
// of the transaction sending the amount from the account.
func (r FutureSendFromResult) Receive() (*chainhash.Hash, error) {
	res, err := rpcclient.ReceiveFuture(r)
	if err != nil {
		return nil, err
	}
	var txid string
	if err := json.Unmarshal(res, &txid); err != nil {
		return nil, err
	}
	return chainhash.NewHashFromStr(txid)
}

// SendFromAsync returns an instance of a type that can be used to get the
// result of the RPC at some future time by invoking the Receive function on
// the returned instance.
//
// See SendFrom for the blocking version and more details.
func (c *Client) SendFromAsync(account, toAddress string,
	amount btcutil.Amount) FutureSendFromResult {

	params := marshalParams(account, toAddress, marshalAmount(amount))
	return FutureSendFromResult(c.rpc.RawRequestAsync("sendfrom", params))
}

// SendFrom sends the amount from the named account to the address and returns
// the hash of the resulting transaction.  The wallet deducts its transaction
// fee from the account balance on top of the amount, so callers must leave
// headroom for it.
func (c *Client) SendFrom(account, toAddress string,
	amount btcutil.Amount) (*chainhash.Hash, error) {

	log.Tracef("Sending %s from account %q to %s", amount, account,
		toAddress)
	return c.SendFromAsync(account, toAddress, amount).Receive()
}

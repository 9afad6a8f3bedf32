// Copyright (c) 2024 The stakesuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package walletrpc

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/stretchr/testify/require"
)

// recordedRequest captures a single JSON-RPC request received by the test
// server.
type recordedRequest struct {
	method string
	params []json.RawMessage
}

// requestLog records the JSON-RPC requests a test server receives.  The
// handler runs on the server's goroutines, so access is serialized.
type requestLog struct {
	mu   sync.Mutex
	reqs []recordedRequest
}

func (l *requestLog) add(method string, params []json.RawMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reqs = append(l.reqs, recordedRequest{method: method, params: params})
}

func (l *requestLog) last(t *testing.T) recordedRequest {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	require.NotEmpty(t, l.reqs)
	return l.reqs[len(l.reqs)-1]
}

// newTestClient starts a wallet stub that answers each method with the canned
// raw result from results, or the canned raw error object from rpcErrors, and
// returns a client connected to it.
func newTestClient(t *testing.T, results,
	rpcErrors map[string]string) (*Client, *requestLog) {

	t.Helper()

	reqLog := &requestLog{}
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Method string            `json:"method"`
				Params []json.RawMessage `json:"params"`
				ID     json.RawMessage   `json:"id"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			reqLog.add(req.Method, req.Params)

			if errObj, ok := rpcErrors[req.Method]; ok {
				fmt.Fprintf(w, `{"result":null,"error":%s,"id":%s}`,
					errObj, req.ID)
				return
			}
			result, ok := results[req.Method]
			if !ok {
				result = "null"
			}
			fmt.Fprintf(w, `{"result":%s,"error":null,"id":%s}`,
				result, req.ID)
		},
	))
	t.Cleanup(srv.Close)

	client, err := New(&Config{
		Host:       srv.Listener.Addr().String(),
		User:       "user",
		Pass:       "pass",
		DisableTLS: true,
	})
	require.NoError(t, err)
	t.Cleanup(client.Shutdown)

	return client, reqLog
}

func TestGetInfo(t *testing.T) {
	client, reqLog := newTestClient(t, map[string]string{
		"getinfo": `{"version":"v1.0.1.3-g9c5626","protocolversion":60018,
			"walletversion":60000,"balance":1052.6,"stake":12.5,
			"blocks":773201,"connections":8,"paytxfee":0.0001,
			"relayfee":0.0001,"errors":""}`,
	}, nil)

	info, err := client.GetInfo()
	require.NoError(t, err)
	require.Equal(t, "v1.0.1.3-g9c5626", info.Version)
	require.Equal(t, int32(773201), info.Blocks)
	require.Equal(t, 0.0001, info.PayTxFee)
	require.Equal(t, "getinfo", reqLog.last(t).method)
	require.Empty(t, reqLog.last(t).params)
}

func TestGetStakingInfo(t *testing.T) {
	client, _ := newTestClient(t, map[string]string{
		"getstakinginfo": `{"enabled":true,"staking":true,"errors":"",
			"difficulty":28.51,"search-interval":16,"weight":1052600000,
			"netstakeweight":93841002876,"expectedtime":90061}`,
	}, nil)

	info, err := client.GetStakingInfo()
	require.NoError(t, err)
	require.True(t, info.Enabled)
	require.True(t, info.Staking)
	require.Equal(t, uint64(1052600000), info.Weight)

	eta := info.ExpectedDuration()
	require.True(t, eta.IsSome())
	require.Equal(t, 90061*time.Second, eta.UnwrapOr(0))
}

func TestStakingInfoNoEstimate(t *testing.T) {
	info := &StakingInfoResult{Enabled: true, Staking: false}
	require.True(t, info.ExpectedDuration().IsNone())
}

func TestListUnspent(t *testing.T) {
	client, _ := newTestClient(t, map[string]string{
		"listunspent": `[
			{"txid":"0e3e2357e806b6cdb1f70b54c3a3a17b6714ee1f0e68bebb44a74b1efd512098",
			 "vout":0,"address":"SXoVSicP2YrAcRCvH8BTK1mGzvdbBPXYWu",
			 "account":"savings","scriptPubKey":"76a914","amount":25.5,
			 "confirmations":161,"spendable":true},
			{"txid":"9b0fc92260312ce44e74ef369f5c66bbb85848f2eddd5a7a1cde251e54ccfdd5",
			 "vout":1,"address":"SVqe2qPnHLzyazCgFq9cnYbHEQTsnqU2dr",
			 "account":null,"scriptPubKey":"76a914","amount":0.05,
			 "confirmations":3,"spendable":true}
		]`,
	}, nil)

	unspent, err := client.ListUnspent()
	require.NoError(t, err)
	require.Len(t, unspent, 2)

	require.True(t, unspent[0].FromAccount("savings"))
	require.True(t, unspent[0].FromAccount("SAVINGS"))
	require.False(t, unspent[0].FromAccount("default"))

	// A null account never matches, not even the empty account name.
	require.Nil(t, unspent[1].Account)
	require.False(t, unspent[1].FromAccount(""))
}

func TestWalletPassphrase(t *testing.T) {
	tests := []struct {
		name      string
		result    string
		refusal   string
		wantError bool
	}{
		{
			name:   "null result unlocks",
			result: "null",
		},
		{
			name:   "empty string result unlocks",
			result: `""`,
		},
		{
			name:   "status object result unlocks",
			result: `{"unlocked_until":1693526400}`,
		},
		{
			name:      "string result is a refusal",
			result:    `"Error: The wallet passphrase entered was incorrect."`,
			refusal:   "Error: The wallet passphrase entered was incorrect.",
			wantError: true,
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			client, reqLog := newTestClient(t, map[string]string{
				"walletpassphrase": test.result,
			}, nil)

			err := client.WalletPassphrase("hunter2", 180, true)
			if !test.wantError {
				require.NoError(t, err)
			} else {
				var unlockErr *UnlockError
				require.ErrorAs(t, err, &unlockErr)
				require.Equal(t, test.refusal, unlockErr.Message)
			}

			req := reqLog.last(t)
			require.Equal(t, "walletpassphrase", req.method)
			require.Len(t, req.params, 3)
			require.JSONEq(t, `"hunter2"`, string(req.params[0]))
			require.JSONEq(t, `180`, string(req.params[1]))
			require.JSONEq(t, `true`, string(req.params[2]))
		})
	}
}

func TestWalletPassphraseRPCError(t *testing.T) {
	client, _ := newTestClient(t, nil, map[string]string{
		"walletpassphrase": `{"code":-14,"message":"walletpassphrase failed"}`,
	})

	err := client.WalletPassphrase("hunter2", 180, false)
	var rpcErr *btcjson.RPCError
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, btcjson.RPCErrorCode(-14), rpcErr.Code)
}

func TestSendFrom(t *testing.T) {
	const txid = "4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b"

	client, reqLog := newTestClient(t, map[string]string{
		"sendfrom": `"` + txid + `"`,
	}, nil)

	hash, err := client.SendFrom("savings",
		"SXoVSicP2YrAcRCvH8BTK1mGzvvdbBPXYWu", btcutil.Amount(2549990000))
	require.NoError(t, err)
	require.Equal(t, txid, hash.String())

	req := reqLog.last(t)
	require.Equal(t, "sendfrom", req.method)
	require.Len(t, req.params, 3)
	require.JSONEq(t, `"savings"`, string(req.params[0]))

	// The amount operand must carry the full eight decimal digits so the
	// wallet parses the exact value.
	require.Equal(t, "25.49990000", string(req.params[2]))
}

func TestMarshalAmountPrecision(t *testing.T) {
	tests := []struct {
		amount btcutil.Amount
		want   string
	}{
		{amount: 0, want: "0.00000000"},
		{amount: 1, want: "0.00000001"},
		{amount: 123456789, want: "1.23456789"},
		{amount: 2549990000, want: "25.49990000"},
		{amount: 2100000000000000, want: "21000000.00000000"},
	}

	for _, test := range tests {
		got := string(marshalAmount(test.amount))
		require.Equal(t, test.want, got, "amount %d", int64(test.amount))
	}
}

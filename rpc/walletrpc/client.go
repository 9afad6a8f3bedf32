// Copyright (c) 2024 The stakesuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package walletrpc provides a typed client for the subset of the staking
// wallet's JSON-RPC API that coin control automation depends on.  The wallet
// speaks the legacy bitcoin-style RPC dialect with staking extensions, so the
// methods here are issued as raw requests rather than through a registered
// command set.
package walletrpc

import (
	"encoding/json"
	"strconv"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/rpcclient"
)

// Client represents a persistent connection to a staking wallet's RPC server.
// All requests are issued over HTTP POST, matching the single request/response
// model of the legacy wallet API.
type Client struct {
	rpc        *rpcclient.Client
	connConfig *rpcclient.ConnConfig
}

// Config describes the connection parameters for a wallet RPC client.
type Config struct {
	// Host is the network address (host:port) of the wallet RPC server.
	Host string

	// User and Pass are the credentials for HTTP basic authentication.
	User string
	Pass string

	// Certificates holds the PEM-encoded TLS certificate chain of the
	// wallet RPC server.  It is ignored when DisableTLS is set.
	Certificates []byte

	// DisableTLS connects over cleartext HTTP.  This should only ever be
	// used when the wallet listens on a loopback interface.
	DisableTLS bool
}

// New creates a new wallet RPC client.  The underlying HTTP connection is
// established lazily on the first request.
func New(cfg *Config) (*Client, error) {
	connConfig := &rpcclient.ConnConfig{
		Host:                 cfg.Host,
		User:                 cfg.User,
		Pass:                 cfg.Pass,
		Certificates:         cfg.Certificates,
		DisableTLS:           cfg.DisableTLS,
		HTTPPostMode:         true,
		DisableAutoReconnect: false,
		DisableConnectOnNew:  true,
	}
	rpc, err := rpcclient.New(connConfig, nil)
	if err != nil {
		return nil, err
	}

	log.Debugf("Created wallet RPC client for %s", cfg.Host)
	return &Client{rpc: rpc, connConfig: connConfig}, nil
}

// Host returns the network address of the wallet RPC server this client was
// configured with.
func (c *Client) Host() string {
	return c.connConfig.Host
}

// Shutdown terminates the client and cancels any outstanding requests.
func (c *Client) Shutdown() {
	c.rpc.Shutdown()
	c.rpc.WaitForShutdown()
}

// marshalParams JSON-marshals each positional parameter for a raw request.
// Method operands are limited to strings, integers, booleans, and raw
// numbers, none of which can fail to marshal.
func marshalParams(params ...interface{}) []json.RawMessage {
	raw := make([]json.RawMessage, 0, len(params))
	for _, param := range params {
		marshalled, _ := json.Marshal(param)
		raw = append(raw, marshalled)
	}
	return raw
}

// marshalAmount encodes an amount as a raw JSON number with full 8-digit
// precision.  Marshalling through float64 directly can shorten the decimal
// expansion, and the wallet parses amount operands as exact decimal strings.
func marshalAmount(amount btcutil.Amount) json.RawMessage {
	return json.RawMessage(strconv.FormatFloat(amount.ToBTC(), 'f', 8, 64))
}

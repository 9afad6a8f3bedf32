// Copyright (c) 2024 The stakesuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package consolidator automates coin control for a proof-of-stake wallet.
// A scheduler periodically runs a cycle engine that inspects the unspent
// outputs of one wallet account and, when enough mature outputs have
// accumulated, consolidates them into a single output while keeping the
// wallet unlocked for staking.
package consolidator

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/stakesuite/coinctrld/rpc/walletrpc"
)

const (
	// DefaultConfirmations is the number of confirmations every matching
	// output must reach before the account is consolidated.
	DefaultConfirmations = 10

	// DefaultInterval is the default delay between consolidation cycles.
	DefaultInterval = 60 * time.Second

	// spendUnlockSeconds is the walletpassphrase timeout for the full
	// unlock that authorizes the consolidation spend.  The send follows
	// immediately, so the window is kept short.
	spendUnlockSeconds = 5

	// stakingUnlockIntervals scales the cycle interval into the
	// walletpassphrase timeout used for staking unlocks, so the unlock
	// outlives several skipped cycles.
	stakingUnlockIntervals = 3
)

// Gateway is the subset of the wallet RPC interface the consolidator
// drives.  It is implemented by walletrpc.Client.
type Gateway interface {
	// GetInfo returns the wallet's version and fee configuration.
	GetInfo() (*walletrpc.InfoResult, error)

	// GetStakingInfo returns the wallet's staking state.
	GetStakingInfo() (*walletrpc.StakingInfoResult, error)

	// ListUnspent returns every unspent output the wallet knows about,
	// in the wallet's own listing order.
	ListUnspent() ([]walletrpc.UnspentOutput, error)

	// WalletPassphrase unlocks the wallet for timeout seconds, either
	// for staking only or fully for spending.
	WalletPassphrase(passphrase string, timeout int64, stakingOnly bool) error

	// SendFrom spends amount from the account to the address, with the
	// wallet deducting its fee from the account on top, and returns the
	// transaction hash.
	SendFrom(account, toAddress string, amount btcutil.Amount) (*chainhash.Hash, error)
}

// Compile-time check to ensure the wallet RPC client satisfies Gateway.
var _ Gateway = (*walletrpc.Client)(nil)

// Config describes a consolidation target and how to run cycles against it.
type Config struct {
	// Wallet is the RPC surface of the staking wallet under automation.
	Wallet Gateway

	// Account is the wallet account whose outputs are consolidated.
	// Account names are matched case-insensitively.
	Account string

	// Passphrase unlocks the wallet for staking and spending.  The
	// caller retains ownership of the buffer and should zero it on
	// shutdown.
	Passphrase []byte

	// Interval is the delay between the end of one cycle and the start
	// of the next.
	Interval time.Duration

	// Confirmations is the count every matching output must reach
	// before the account is consolidated.
	Confirmations int64

	// MaxFee aborts any cycle during which the wallet reports a fee
	// above this amount.  Zero disables the cap.
	MaxFee btcutil.Amount

	// Policy selects how the scheduler reacts to cycle failures it
	// cannot classify.
	Policy FailurePolicy

	// StartupRetries bounds the wallet probe attempts made before
	// startup fails.  Zero retries until the wallet answers.
	StartupRetries uint

	// Ticker drives the cycle cadence.  When nil, an interval ticker is
	// created from Interval.
	Ticker ticker.Ticker

	// Recorder, when non-nil, is handed every completed consolidation.
	// Recording failures are logged and never affect scheduling.
	Recorder Recorder
}

// validate checks the options the cycle engine requires.
func (cfg *Config) validate() error {
	if cfg == nil {
		return errors.New("missing config")
	}
	if cfg.Wallet == nil {
		return errors.New("missing wallet gateway")
	}
	if cfg.Account == "" {
		return errors.New("missing account")
	}
	if len(cfg.Passphrase) == 0 {
		return errors.New("missing passphrase")
	}
	if cfg.Interval <= 0 {
		return errors.New("interval must be positive")
	}
	if cfg.Confirmations < 1 {
		return errors.New("confirmations must be positive")
	}
	return nil
}

// OutcomeKind classifies the terminal state of one consolidation cycle.
type OutcomeKind uint8

const (
	// OutcomeNoOp is a cycle that found fewer than two mature outputs
	// and had nothing to do.
	OutcomeNoOp OutcomeKind = iota

	// OutcomeDeferred is a cycle that found a matching output still
	// below the confirmation threshold and put off consolidating the
	// account.
	OutcomeDeferred

	// OutcomeConsolidated is a cycle that submitted a consolidation
	// spend.
	OutcomeConsolidated

	// OutcomeAborted is a cycle cut short by an RPC failure, a refused
	// unlock, or a guard refusing the spend.
	OutcomeAborted
)

// String returns a human-readable outcome name.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeNoOp:
		return "no-op"
	case OutcomeDeferred:
		return "deferred"
	case OutcomeConsolidated:
		return "consolidated"
	case OutcomeAborted:
		return "aborted"
	default:
		return fmt.Sprintf("unknown outcome %d", uint8(k))
	}
}

// Outcome is the terminal state of a single consolidation cycle.  Outcomes
// exist for reporting; nothing in them is carried into the next cycle.
type Outcome struct {
	// Kind classifies how the cycle ended.
	Kind OutcomeKind

	// Outputs is the cycle's terminal output set: the eligible outputs
	// for a no-op or a consolidation, and the full unfiltered listing
	// when an immature output deferred the cycle.
	Outputs []walletrpc.UnspentOutput

	// Gross is the sum of the eligible output amounts.
	Gross btcutil.Amount

	// Fee is the wallet fee in effect during the cycle.
	Fee btcutil.Amount

	// Net is the consolidated amount after the fee.
	Net btcutil.Amount

	// TxID is the hash of the consolidation transaction, if one was
	// sent.
	TxID *chainhash.Hash

	// Err is the failure that ended an aborted cycle, nil otherwise.
	Err error
}

// Consolidation describes a completed consolidation spend.
type Consolidation struct {
	// Time is when the spend was submitted.
	Time time.Time

	// Account is the consolidated account.
	Account string

	// TxID is the hash of the consolidation transaction.
	TxID chainhash.Hash

	// Gross, Fee, and Net are the consolidated amounts before the fee,
	// the fee itself, and the amount paid out.
	Gross btcutil.Amount
	Fee   btcutil.Amount
	Net   btcutil.Amount

	// Inputs is the number of outputs consumed by the consolidation.
	Inputs uint32
}

// Recorder persists completed consolidations.
type Recorder interface {
	// Record stores one consolidation.
	Record(*Consolidation) error
}

// Engine executes single consolidation cycles.  Each cycle re-derives
// everything it needs from the wallet; no state is carried between cycles.
type Engine struct {
	cfg *Config
}

// NewEngine creates a cycle engine for the wallet and account described by
// the config.
func NewEngine(cfg *Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

// Run executes one consolidation cycle.  The returned outcome is always
// non-nil and describes how the cycle ended; failures that abort a cycle
// are logged and folded into the outcome, with the next scheduled cycle
// acting as the retry.  The error return is reserved for wallet responses
// the automation cannot interpret, which the scheduler escalates to its
// failure policy.
func (e *Engine) Run() (*Outcome, error) {
	// Every later step needs key access, so an unlock failure ends the
	// cycle immediately.
	if err := e.unlockStaking(); err != nil {
		log.Errorf("Unable to unlock wallet for staking: %v", err)
		return &Outcome{
			Kind: OutcomeAborted,
			Err:  fmt.Errorf("staking unlock: %w", err),
		}, nil
	}

	if err := e.reportStaking(); err != nil {
		log.Errorf("Unable to query staking state: %v", err)
		return &Outcome{Kind: OutcomeAborted, Err: err}, nil
	}

	unspent, err := e.cfg.Wallet.ListUnspent()
	if err != nil {
		log.Errorf("Unable to list unspent outputs: %v", err)
		return &Outcome{Kind: OutcomeAborted, Err: err}, nil
	}
	log.Tracef("Wallet listed %d unspent %s: %v", len(unspent),
		pickNoun(len(unspent), "output", "outputs"),
		newLogClosure(func() string { return spew.Sdump(unspent) }))

	eligible, mature := eligibleOutputs(unspent, e.cfg.Account,
		e.cfg.Confirmations)
	if !mature {
		log.Infof("Account %q has outputs below %d confirmations, "+
			"deferring consolidation", e.cfg.Account,
			e.cfg.Confirmations)
		return &Outcome{Kind: OutcomeDeferred, Outputs: unspent}, nil
	}
	if len(eligible) < 2 {
		log.Infof("Account %q has %d mature %s, nothing to consolidate",
			e.cfg.Account, len(eligible),
			pickNoun(len(eligible), "output", "outputs"))
		return &Outcome{Kind: OutcomeNoOp, Outputs: eligible}, nil
	}

	gross, err := sumAmounts(eligible)
	if err != nil {
		return nil, err
	}
	log.Infof("Account %q has %d outputs holding %s total",
		e.cfg.Account, len(eligible), fmtCoins(gross))

	// The fee is read fresh from the wallet every cycle, never cached.
	info, err := e.cfg.Wallet.GetInfo()
	if err != nil {
		log.Errorf("Unable to query the wallet fee: %v", err)
		return &Outcome{
			Kind:    OutcomeAborted,
			Outputs: eligible,
			Gross:   gross,
			Err:     err,
		}, nil
	}
	fee, err := btcutil.NewAmount(info.PayTxFee)
	if err != nil {
		return nil, fmt.Errorf("wallet reported invalid fee %v: %w",
			info.PayTxFee, err)
	}
	if fee < 0 {
		return nil, fmt.Errorf("wallet reported negative fee %v",
			info.PayTxFee)
	}

	if e.cfg.MaxFee > 0 && fee > e.cfg.MaxFee {
		err := fmt.Errorf("%w: fee %s, cap %s", ErrFeeCapExceeded,
			fmtCoins(fee), fmtCoins(e.cfg.MaxFee))
		log.Errorf("Refusing to consolidate: %v", err)
		return &Outcome{
			Kind:    OutcomeAborted,
			Outputs: eligible,
			Gross:   gross,
			Fee:     fee,
			Err:     err,
		}, nil
	}

	// The zero-filled script only models the size of a P2PKH output for
	// the dust threshold; it is neither a witness program nor an
	// unspendable script, so the check reduces to the classic amount
	// test (546 sats at the default relay fee).
	net := gross - fee
	if net <= 0 || txrules.IsDustOutput(wire.NewTxOut(int64(net),
		make([]byte, txsizes.P2PKHPkScriptSize)),
		txrules.DefaultRelayFeePerKb) {

		err := fmt.Errorf("%w: %s left after a %s fee", ErrDustAmount,
			fmtCoins(net), fmtCoins(fee))
		log.Errorf("Refusing to consolidate: %v", err)
		return &Outcome{
			Kind:    OutcomeAborted,
			Outputs: eligible,
			Gross:   gross,
			Fee:     fee,
			Err:     err,
		}, nil
	}
	log.Infof("Consolidating %s, %s after the %s fee", fmtCoins(gross),
		fmtCoins(net), fmtCoins(fee))

	// A spend needs the keys fully unlocked, which suspends staking
	// until the staking-only unlock is restored below.
	if err := e.cfg.Wallet.WalletPassphrase(string(e.cfg.Passphrase),
		spendUnlockSeconds, false); err != nil {

		log.Errorf("Unable to unlock wallet for spending: %v", err)
		return &Outcome{
			Kind:    OutcomeAborted,
			Outputs: eligible,
			Gross:   gross,
			Fee:     fee,
			Net:     net,
			Err:     fmt.Errorf("spend unlock: %w", err),
		}, nil
	}

	// The consolidated amount pays back to the address of the first
	// eligible output, so no new address is created.
	destination := eligible[0].Address
	txid, err := e.cfg.Wallet.SendFrom(e.cfg.Account, destination, net)
	if err != nil {
		log.Errorf("Unable to send consolidation transaction: %v", err)
		return &Outcome{
			Kind:    OutcomeAborted,
			Outputs: eligible,
			Gross:   gross,
			Fee:     fee,
			Net:     net,
			Err:     err,
		}, nil
	}
	log.Infof("Consolidated %d outputs into %s with transaction %v",
		len(eligible), destination, txid)

	// Spending dropped the staking-only unlock, so restore it.  The
	// consolidation already completed; a failure here costs staking
	// time until the next cycle and nothing else.
	if err := e.unlockStaking(); err != nil {
		log.Warnf("Unable to restore staking unlock: %v", err)
	}

	return &Outcome{
		Kind:    OutcomeConsolidated,
		Outputs: eligible,
		Gross:   gross,
		Fee:     fee,
		Net:     net,
		TxID:    txid,
	}, nil
}

// unlockStaking unlocks the wallet for staking only.
func (e *Engine) unlockStaking() error {
	return e.cfg.Wallet.WalletPassphrase(string(e.cfg.Passphrase),
		e.stakingUnlockSeconds(), true)
}

// stakingUnlockSeconds is the walletpassphrase timeout for staking unlocks,
// scaled from the cycle interval.
func (e *Engine) stakingUnlockSeconds() int64 {
	seconds := int64((stakingUnlockIntervals * e.cfg.Interval).Seconds())
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

// reportStaking logs the wallet's staking state.  Staking being disabled or
// reporting errors is worth the operator's attention but does not end the
// cycle.
func (e *Engine) reportStaking() error {
	staking, err := e.cfg.Wallet.GetStakingInfo()
	if err != nil {
		return err
	}

	if !staking.Enabled {
		log.Warnf("Staking is disabled in the wallet")
	}
	if staking.Errors != "" {
		log.Warnf("Wallet reports staking errors: %s", staking.Errors)
	}

	if staking.Staking {
		eta := staking.ExpectedDuration()
		eta.WhenSome(func(d time.Duration) {
			log.Infof("Staking is active, next stake expected in %s",
				formatExpectedTime(d))
		})
		if eta.IsNone() {
			log.Infof("Staking is active")
		}
	} else if staking.Enabled {
		log.Warnf("Wallet is enabled for staking but not currently "+
			"staking (weight %d of %d)", staking.Weight,
			staking.NetStakeWeight)
	}
	return nil
}

// eligibleOutputs filters the full unspent listing down to the outputs of
// the account that have reached the confirmation threshold, preserving the
// wallet's listing order.  The bool result is false when any matching
// output is still below the threshold; the caller then receives the full
// listing unchanged and must treat the account as not ready, no matter how
// many mature outputs were already seen.
func eligibleOutputs(unspent []walletrpc.UnspentOutput, account string,
	confirmations int64) ([]walletrpc.UnspentOutput, bool) {

	eligible := make([]walletrpc.UnspentOutput, 0, len(unspent))
	for _, output := range unspent {
		if !output.FromAccount(account) {
			continue
		}
		if output.Confirmations < confirmations {
			return unspent, false
		}
		eligible = append(eligible, output)
	}
	return eligible, true
}

// sumAmounts converts each listed amount to a fixed-point amount and sums
// them, rejecting values no wallet can legitimately report.
func sumAmounts(outputs []walletrpc.UnspentOutput) (btcutil.Amount, error) {
	var sum btcutil.Amount
	for _, output := range outputs {
		amount, err := btcutil.NewAmount(output.Amount)
		if err != nil {
			return 0, fmt.Errorf("invalid amount %v on output %s: %w",
				output.Amount, output.TxID, err)
		}
		if amount < 0 || amount > btcutil.MaxSatoshi {
			return 0, fmt.Errorf("impossible amount %v on output %s",
				output.Amount, output.TxID)
		}
		sum += amount
	}
	return sum, nil
}

// fmtCoins formats an amount as a plain decimal coin value for logs.
func fmtCoins(amount btcutil.Amount) string {
	return strconv.FormatFloat(amount.ToBTC(), 'f', -1, 64)
}

// formatExpectedTime renders a staking time estimate as whole days and
// hours.
func formatExpectedTime(d time.Duration) string {
	days := int64(d / (24 * time.Hour))
	hours := int64(d % (24 * time.Hour) / time.Hour)
	return fmt.Sprintf("%dd %dh", days, hours)
}

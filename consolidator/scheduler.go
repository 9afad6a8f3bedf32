// Copyright (c) 2024 The stakesuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package consolidator

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/stakesuite/coinctrld/rpc/walletrpc"
)

// startupRetryDelay is the pause between wallet probe attempts at startup.
const startupRetryDelay = 2 * time.Second

// Scheduler owns cycle timing.  It verifies the wallet at startup, primes
// the staking unlock, and then runs cycles with the configured delay
// measured from the end of one cycle to the start of the next, so cycles
// never overlap no matter how long one takes.
type Scheduler struct {
	cfg    *Config
	engine *Engine
	tick   ticker.Ticker

	// cycleMtx serializes cycle execution as a guard against a
	// misbehaving ticker delivering overlapping ticks.
	cycleMtx sync.Mutex

	haltMtx sync.Mutex
	haltErr error

	started bool
	quitMtx sync.Mutex
	quit    chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler driving consolidation cycles against the
// configured wallet.  No cycles run until Start is called.
func NewScheduler(cfg *Config) (*Scheduler, error) {
	engine, err := NewEngine(cfg)
	if err != nil {
		return nil, err
	}
	tick := cfg.Ticker
	if tick == nil {
		tick = ticker.New(cfg.Interval)
	}
	return &Scheduler{
		cfg:    cfg,
		engine: engine,
		tick:   tick,
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

// Start verifies the wallet version, primes the staking unlock, and
// launches the cycle loop, which runs its first cycle immediately.  An
// error is returned when the wallet cannot be reached, reports an
// unsupported version, or refuses the priming unlock; no cycles run in
// that case.
func (s *Scheduler) Start() error {
	s.quitMtx.Lock()
	if s.started {
		s.quitMtx.Unlock()
		return errors.New("scheduler already started")
	}
	s.started = true
	s.quitMtx.Unlock()

	info, err := s.probeWallet()
	if err != nil {
		return fmt.Errorf("wallet unreachable: %w", err)
	}
	if !compatibleWallet(info.Version) {
		return &IncompatibleWalletError{Version: info.Version}
	}
	log.Infof("Wallet version %s accepted, automating account %q every %v",
		info.Version, s.cfg.Account, s.cfg.Interval)

	// The first staking unlock of a wallet session does not reliably
	// take effect, so it is issued twice.
	for i := 0; i < 2; i++ {
		if err := s.engine.unlockStaking(); err != nil {
			return fmt.Errorf("priming staking unlock: %w", err)
		}
	}

	s.wg.Add(1)
	go s.cycleLoop()
	return nil
}

// Stop signals the scheduler to stop running cycles.  It may be called
// multiple times and returns without waiting; use WaitForShutdown to wait
// for a cycle already in flight.
func (s *Scheduler) Stop() {
	s.quitMtx.Lock()
	defer s.quitMtx.Unlock()
	select {
	case <-s.quit:
	default:
		close(s.quit)
	}
}

// WaitForShutdown blocks until the cycle loop has exited.
func (s *Scheduler) WaitForShutdown() {
	s.wg.Wait()
}

// Done returns a channel that is closed once the scheduler stops running
// cycles, whether by Stop or by the failure policy halting it.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that halted scheduling, or nil when the scheduler
// stopped normally.  Its result is meaningful once Done is closed.
func (s *Scheduler) Err() error {
	s.haltMtx.Lock()
	defer s.haltMtx.Unlock()
	return s.haltErr
}

// probeWallet fetches the wallet info used by the compatibility check,
// retrying so a wallet that is still starting does not immediately fail
// the daemon.
func (s *Scheduler) probeWallet() (*walletrpc.InfoResult, error) {
	var info *walletrpc.InfoResult
	err := retry.Do(
		func() error {
			var err error
			info, err = s.cfg.Wallet.GetInfo()
			return err
		},
		retry.Attempts(s.cfg.StartupRetries),
		retry.Delay(startupRetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			log.Warnf("Wallet probe attempt %d failed: %v",
				attempt+1, err)
		}),
	)
	return info, err
}

// cycleLoop runs consolidation cycles until Stop or a policy halt.  The
// first cycle runs immediately; every later cycle waits for a tick that is
// rearmed only after the previous cycle completed.
func (s *Scheduler) cycleLoop() {
	defer s.wg.Done()
	defer close(s.done)
	defer s.tick.Stop()

	failures := 0
	for {
		if halted := s.runCycle(&failures); halted {
			return
		}
		if !s.waitBackoff(failures) {
			return
		}

		s.tick.Resume()
		select {
		case <-s.tick.Ticks():
			s.tick.Pause()
		case <-s.quit:
			return
		}
	}
}

// runCycle executes one cycle under the reentrancy lock and applies the
// failure policy to its result.  It reports whether scheduling must halt.
func (s *Scheduler) runCycle(failures *int) bool {
	s.cycleMtx.Lock()
	defer s.cycleMtx.Unlock()

	log.Debugf("Starting consolidation cycle")
	start := time.Now()

	outcome, err := s.engine.Run()
	if err != nil {
		if s.cfg.Policy == PolicyHalt {
			log.Criticalf("Halting consolidation: %v", err)
			s.halt(err)
			return true
		}
		*failures++
		log.Errorf("Cycle failed (%d consecutive): %v", *failures, err)
		return false
	}
	*failures = 0

	log.Debugf("Cycle finished as %v in %v", outcome.Kind,
		time.Since(start).Truncate(time.Millisecond))

	if outcome.Kind == OutcomeConsolidated && s.cfg.Recorder != nil {
		record := &Consolidation{
			Time:    time.Now(),
			Account: s.cfg.Account,
			TxID:    *outcome.TxID,
			Gross:   outcome.Gross,
			Fee:     outcome.Fee,
			Net:     outcome.Net,
			Inputs:  uint32(len(outcome.Outputs)),
		}
		if err := s.cfg.Recorder.Record(record); err != nil {
			log.Warnf("Unable to record consolidation %v: %v",
				outcome.TxID, err)
		}
	}
	return false
}

// waitBackoff blocks for the portion of the continue policy's backoff delay
// that exceeds the regular interval, so the total delay before the next
// cycle equals the policy's.  It returns false when the scheduler was
// stopped while waiting.
func (s *Scheduler) waitBackoff(failures int) bool {
	if failures == 0 {
		return true
	}

	delay := backoff(s.cfg.Interval, failures)
	log.Infof("Waiting %v before retrying after %d failed %s", delay,
		failures, pickNoun(failures, "cycle", "cycles"))

	if excess := delay - s.cfg.Interval; excess > 0 {
		select {
		case <-time.After(excess):
		case <-s.quit:
			return false
		}
	}
	return true
}

// halt records the reason scheduling stopped.
func (s *Scheduler) halt(err error) {
	s.haltMtx.Lock()
	s.haltErr = err
	s.haltMtx.Unlock()
}

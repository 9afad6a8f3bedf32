// Copyright (c) 2024 The stakesuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"os"

	"github.com/stakesuite/coinctrld/consolidator"
	"github.com/stakesuite/coinctrld/history"
	"github.com/stakesuite/coinctrld/internal/zero"
	"github.com/stakesuite/coinctrld/rpc/walletrpc"
)

var cfg *config

func main() {
	err := consolidatorMain()
	if err != nil {
		var usageErr *usageError
		if errors.As(err, &usageErr) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// consolidatorMain is a work-around main function that is required since
// deferred functions (such as log flushing) are not called with calls to
// os.Exit.  Instead, main runs this function and checks for a non-nil error,
// at which point any defers have already run, and if the error is non-nil,
// the program can be exited with an error exit status.
func consolidatorMain() error {
	// Load configuration and parse command line.  This function also
	// initializes logging and configures it accordingly.
	tcfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg = tcfg
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()
	defer zero.Bytes(cfg.passphrase)

	log.Infof("Version %s", version())

	// Read the wallet's TLS certificate unless TLS was disabled.
	var certs []byte
	if !cfg.DisableClientTLS {
		certs, err = os.ReadFile(cfg.CAFile)
		if err != nil {
			log.Errorf("Cannot open RPC certificate: %v", err)
			return err
		}
	}

	wallet, err := walletrpc.New(&walletrpc.Config{
		Host:         cfg.RPCConnect,
		User:         cfg.rpcUser,
		Pass:         cfg.rpcPass,
		Certificates: certs,
		DisableTLS:   cfg.DisableClientTLS,
	})
	if err != nil {
		log.Errorf("Cannot create wallet RPC client: %v", err)
		return err
	}
	defer wallet.Shutdown()

	// Journal completed consolidations when a journal path was given.
	var recorder consolidator.Recorder
	if cfg.Journal != "" {
		journal, err := history.Open(cfg.Journal)
		if err != nil {
			log.Errorf("Cannot open consolidation journal: %v", err)
			return err
		}
		defer journal.Close()
		recorder = journal

		if past, err := journal.Consolidations(0); err != nil {
			log.Warnf("Unable to read consolidation journal: %v", err)
		} else {
			log.Infof("Journal holds %d previously recorded "+
				"consolidations", len(past))
		}
	}

	sched, err := consolidator.NewScheduler(&consolidator.Config{
		Wallet:         wallet,
		Account:        cfg.account,
		Passphrase:     cfg.passphrase,
		Interval:       cfg.interval,
		Confirmations:  cfg.Confirmations,
		MaxFee:         cfg.MaxFee.Amount,
		Policy:         cfg.Policy,
		StartupRetries: cfg.StartupRetries,
		Recorder:       recorder,
	})
	if err != nil {
		log.Errorf("Invalid consolidation configuration: %v", err)
		return err
	}
	if err := sched.Start(); err != nil {
		log.Errorf("Cannot start consolidation: %v", err)
		return err
	}

	addInterruptHandler(func() {
		log.Info("Stopping consolidation...")
		sched.Stop()
		sched.WaitForShutdown()
	})

	select {
	case <-sched.Done():
		// The scheduler stopped on its own, which only happens when a
		// cycle failure halted it under the halt policy.
		if err := sched.Err(); err != nil {
			log.Errorf("Consolidation halted: %v", err)
			return err
		}
	case <-interruptHandlersDone:
	}

	log.Info("Shutdown complete")
	return nil
}

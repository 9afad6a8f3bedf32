// Copyright (c) 2024 The stakesuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	flags "github.com/jessevdk/go-flags"
	"github.com/stakesuite/coinctrld/consolidator"
	"github.com/stakesuite/coinctrld/internal/cfgutil"
	"golang.org/x/term"
)

const (
	defaultCAFilename     = "rpc.cert"
	defaultConfigFilename = "coinctrld.conf"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "coinctrld.log"
	defaultRPCPort        = "14002"
	defaultStartupRetries = 3
)

var (
	coinctrldHomeDir   = btcutil.AppDataDir("coinctrld", false)
	stakewalletHomeDir = btcutil.AppDataDir("stakewallet", false)
	defaultConfigFile  = filepath.Join(coinctrldHomeDir, defaultConfigFilename)
	defaultLogDir      = filepath.Join(coinctrldHomeDir, defaultLogDirname)
	defaultCAFile      = filepath.Join(stakewalletHomeDir, defaultCAFilename)
)

type config struct {
	// General application behavior
	ConfigFile  string `short:"C" long:"configfile" description:"Path to configuration file"`
	ShowVersion bool   `short:"V" long:"version" description:"Display version information and exit"`
	DebugLevel  string `short:"d" long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`
	LogDir      string `long:"logdir" description:"Directory to log output"`

	// Wallet RPC client options
	RPCConnect       string `short:"c" long:"rpcconnect" description:"Hostname/IP and port of the wallet RPC server to connect to (default localhost:14002)"`
	CAFile           string `long:"cafile" description:"File containing root certificates to authenticate a TLS connection with the wallet"`
	DisableClientTLS bool   `long:"notls" description:"Disable TLS for the RPC client -- NOTE: This is only allowed if the RPC client is connecting to localhost"`

	// Consolidation options
	Confirmations  int64                      `long:"minconf" description:"Required confirmations before an output of the account is consolidated"`
	MaxFee         *cfgutil.AmountFlag        `long:"maxfee" description:"Abort any cycle during which the wallet reports a transaction fee above this amount (0 disables the cap)"`
	Policy         consolidator.FailurePolicy `long:"failurepolicy" description:"Reaction to cycle failures the automation cannot classify {halt, continue}"`
	Journal        string                     `long:"journal" description:"Database file journaling every consolidation across restarts (empty disables the journal)"`
	StartupRetries uint                       `long:"startupretries" description:"Wallet probe attempts before startup fails (0 retries until the wallet answers)"`

	// Operands.  These are read from the remaining arguments after flag
	// parsing and never from the config file.
	rpcUser    string
	rpcPass    string
	account    string
	passphrase []byte
	interval   time.Duration
}

// usageError wraps a command line problem so main can exit with the usage
// exit status instead of the generic failure status.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }

func (e *usageError) Unwrap() error { return e.err }

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(coinctrldHomeDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows cmd.exe-style
	// %VARIABLE%, but they variables can still be expanded via POSIX-style
	// $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

// validLogLevel returns whether or not logLevel is a valid debug log level.
func validLogLevel(logLevel string) bool {
	switch logLevel {
	case "trace":
		fallthrough
	case "debug":
		fallthrough
	case "info":
		fallthrough
	case "warn":
		fallthrough
	case "error":
		fallthrough
	case "critical":
		return true
	}
	return false
}

// supportedSubsystems returns a sorted slice of the supported subsystems for
// logging purposes.
func supportedSubsystems() []string {
	// Convert the subsystemLoggers map keys to a slice.
	subsystems := make([]string, 0, len(subsystemLoggers))
	for subsysID := range subsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}

	// Sort the subsytems for stable display.
	sort.Strings(subsystems)
	return subsystems
}

// parseAndSetDebugLevels attempts to parse the specified debug level and set
// the levels accordingly.  An appropriate error is returned if anything is
// invalid.
func parseAndSetDebugLevels(debugLevel string) error {
	// When the specified string doesn't have any delimters, treat it as
	// the log level for all subsystems.
	if !strings.Contains(debugLevel, ",") && !strings.Contains(debugLevel, "=") {
		// Validate debug log level.
		if !validLogLevel(debugLevel) {
			str := "The specified debug level [%v] is invalid"
			return fmt.Errorf(str, debugLevel)
		}

		// Change the logging level for all subsystems.
		setLogLevels(debugLevel)

		return nil
	}

	// Split the specified string into subsystem/level pairs while detecting
	// issues and update the log levels accordingly.
	for _, logLevelPair := range strings.Split(debugLevel, ",") {
		if !strings.Contains(logLevelPair, "=") {
			str := "The specified debug level contains an invalid " +
				"subsystem/level pair [%v]"
			return fmt.Errorf(str, logLevelPair)
		}

		// Extract the specified subsystem and log level.
		fields := strings.Split(logLevelPair, "=")
		subsysID, logLevel := fields[0], fields[1]

		// Validate subsystem.
		if _, exists := subsystemLoggers[subsysID]; !exists {
			str := "The specified subsystem [%v] is invalid -- " +
				"supported subsytems %v"
			return fmt.Errorf(str, subsysID, supportedSubsystems())
		}

		// Validate log level.
		if !validLogLevel(logLevel) {
			str := "The specified debug level [%v] is invalid"
			return fmt.Errorf(str, logLevel)
		}

		setLogLevel(subsysID, logLevel)
	}

	return nil
}

// promptSecret reads a secret from the terminal without echoing it back.
func promptSecret(what string) (string, error) {
	fmt.Printf("%s: ", what)
	fd := int(os.Stdin.Fd())
	input, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(input), nil
}

// loadConfig initializes and parses the config using a config file and
// command line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
//
// The wallet credentials, the account under automation, and the optional
// cycle interval are operands rather than options, and are validated here as
// well.  Problems with the command line are returned as a *usageError so the
// process can exit with the usage exit status.
func loadConfig() (*config, error) {
	cfg := config{
		ConfigFile:     defaultConfigFile,
		DebugLevel:     defaultLogLevel,
		LogDir:         defaultLogDir,
		CAFile:         defaultCAFile,
		Confirmations:  consolidator.DefaultConfirmations,
		MaxFee:         cfgutil.NewAmountFlag(0),
		StartupRetries: defaultStartupRetries,
	}

	// A config file in the current directory takes precedence.
	exists, err := cfgutil.FileExists(defaultConfigFilename)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return nil, err
	}
	if exists {
		cfg.ConfigFile = defaultConfigFilename
	}

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.Default)
	_, err = preParser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			os.Exit(0)
		}
		return nil, &usageError{err}
	}

	// Show the version and exit if the version flag was specified.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	usageMessage := fmt.Sprintf("Usage:\n  %s [OPTIONS] rpcuser rpcpass "+
		"account walletpassphrase [intervalms]\nUse %s -h to show options",
		appName, appName)
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", version())
		os.Exit(0)
	}

	// Load additional config from file.
	var configFileError error
	parser := flags.NewParser(&cfg, flags.Default)
	err = flags.NewIniParser(parser).ParseFile(preCfg.ConfigFile)
	if err != nil {
		if _, ok := err.(*os.PathError); !ok {
			fmt.Fprintln(os.Stderr, err)
			return nil, &usageError{err}
		}
		configFileError = err
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			os.Exit(0)
		}
		return nil, &usageError{err}
	}

	usage := func(err error) (*config, error) {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, &usageError{err}
	}

	if len(remainingArgs) < 4 || len(remainingArgs) > 5 {
		return usage(fmt.Errorf("expected 4 or 5 arguments, "+
			"received %d", len(remainingArgs)))
	}
	cfg.rpcUser = remainingArgs[0]
	cfg.rpcPass = remainingArgs[1]
	cfg.account = remainingArgs[2]
	passphrase := remainingArgs[3]

	cfg.interval = consolidator.DefaultInterval
	if len(remainingArgs) == 5 {
		ms, err := strconv.ParseInt(remainingArgs[4], 10, 64)
		if err != nil || ms < 1 {
			return usage(fmt.Errorf("invalid interval %q, must be "+
				"a positive number of milliseconds",
				remainingArgs[4]))
		}
		cfg.interval = time.Duration(ms) * time.Millisecond
	}

	// Initialize log rotation.  After the log rotation has been
	// initialized, the logger variables may be used.
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename))
	setLogLevels(defaultLogLevel)

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		os.Exit(0)
	}

	// Parse, validate, and set debug log level(s).
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		return usage(err)
	}

	// Warn about missing config file after the final command line parse
	// succeeds.  This prevents the warning on help messages and invalid
	// options.
	if configFileError != nil {
		log.Warnf("%v", configFileError)
	}

	// Secrets may be passed as "-" to read them from the terminal instead
	// of leaving them visible in the process argument list.
	if cfg.rpcPass == "-" {
		cfg.rpcPass, err = promptSecret("Wallet RPC password")
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return nil, err
		}
	}
	if passphrase == "-" {
		passphrase, err = promptSecret("Wallet passphrase")
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return nil, err
		}
	}
	cfg.passphrase = []byte(passphrase)

	if cfg.rpcUser == "" {
		return usage(fmt.Errorf("RPC username is required"))
	}
	if cfg.account == "" {
		return usage(fmt.Errorf("account name is required"))
	}
	if len(cfg.passphrase) == 0 {
		return usage(fmt.Errorf("wallet passphrase is required"))
	}
	if cfg.Confirmations < 1 {
		return usage(fmt.Errorf("minconf must be positive"))
	}
	if cfg.MaxFee.Amount < 0 {
		return usage(fmt.Errorf("maxfee may not be negative"))
	}

	if cfg.RPCConnect == "" {
		cfg.RPCConnect = net.JoinHostPort("localhost", defaultRPCPort)
	}

	// Add default port to connect flag if missing.
	cfg.RPCConnect, err = cfgutil.NormalizeAddress(cfg.RPCConnect,
		defaultRPCPort)
	if err != nil {
		return usage(fmt.Errorf("invalid rpcconnect network address: %w",
			err))
	}

	localhostListeners := map[string]struct{}{
		"localhost": {},
		"127.0.0.1": {},
		"::1":       {},
	}
	RPCHost, _, err := net.SplitHostPort(cfg.RPCConnect)
	if err != nil {
		return nil, err
	}
	if cfg.DisableClientTLS {
		// Only allow TLS to be disabled when the RPC client is
		// connecting to localhost.
		if _, ok := localhostListeners[RPCHost]; !ok {
			return usage(fmt.Errorf("the --notls option may not be "+
				"used when connecting RPC to non localhost "+
				"addresses: %s", cfg.RPCConnect))
		}
	} else {
		cfg.CAFile = cleanAndExpandPath(cfg.CAFile)
		certExists, err := cfgutil.FileExists(cfg.CAFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return nil, err
		}
		if !certExists {
			return usage(fmt.Errorf("RPC certificate file %q not "+
				"found", cfg.CAFile))
		}
	}

	if cfg.Journal != "" {
		cfg.Journal = cleanAndExpandPath(cfg.Journal)
	}

	return &cfg, nil
}

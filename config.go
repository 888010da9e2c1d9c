// Copyright (c) 2025 The dicepay developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	flags "github.com/jessevdk/go-flags"

	"github.com/dicepay/dicepayd/fair"
	"github.com/dicepay/dicepayd/internal/cfgutil"
	"github.com/dicepay/dicepayd/netparams"
)

const (
	defaultConfigFilename   = "dicepayd.conf"
	defaultLogLevel         = "info"
	defaultLogDirname       = "logs"
	defaultLogFilename      = "dicepayd.log"
	defaultVaultFilename    = "vault.bin"
	defaultDBFilename       = "dicepay.db"
	defaultDBType           = "sqlite"
	defaultMinConf          = 1
	defaultPollInterval     = 2 * time.Minute
	defaultMaxPayoutRetries = 5
	defaultAlertCooldown    = 10 * time.Minute

	// Registration bounds on a wallet multiplier.  The floor is the
	// chance formula's own minimum and the ceiling guards against a
	// mistyped magnitude, such as 20000 where 200 was meant.
	minWalletMultCenti = 101
	maxWalletMultCenti = 10000
)

var (
	dicepaydHomeDir   = btcutil.AppDataDir("dicepayd", false)
	defaultConfigFile = filepath.Join(dicepaydHomeDir, defaultConfigFilename)
	defaultDataDir    = dicepaydHomeDir
	defaultLogDir     = filepath.Join(dicepaydHomeDir, defaultLogDirname)
)

type config struct {
	// General application behavior
	ConfigFile     string `short:"C" long:"configfile" description:"Path to configuration file"`
	ShowVersion    bool   `short:"V" long:"version" description:"Display version information and exit"`
	Create         bool   `long:"create" description:"Create the key vault if it does not exist"`
	DataDir        string `short:"b" long:"datadir" description:"Directory to store the database, key vault, and logs"`
	TestNet3       bool   `long:"testnet" description:"Use the test network (version 3, default mainnet)"`
	TestNet4       bool   `long:"testnet4" description:"Use the test network (version 4, default mainnet)"`
	SigNet         bool   `long:"signet" description:"Use the signet test network (default mainnet)"`
	RegressionTest bool   `long:"regtest" description:"Use the regression test network (default mainnet)"`
	DebugLevel     string `short:"d" long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`
	LogDir         string `long:"logdir" description:"Directory to log output"`
	Profile        string `long:"profile" description:"Enable HTTP profiling on given port -- NOTE port must be between 1024 and 65536"`

	// Payment network gateway
	APIURL       string        `long:"apiurl" description:"REST endpoint for address, transaction, and broadcast queries (default chosen per network)"`
	FeedURL      string        `long:"feedurl" description:"Websocket endpoint streaming unconfirmed transactions (default chosen per network)"`
	NoFeed       bool          `long:"nofeed" description:"Do not maintain the realtime feed connection and rely on polling alone"`
	PollInterval time.Duration `long:"pollinterval" description:"Time between REST sweeps of the watched deposit addresses"`

	// Bet admission
	MinConf     int64               `long:"minconf" description:"Confirmations a deposit of any size needs before it is admitted"`
	ZeroConfCap *cfgutil.AmountFlag `long:"zeroconfcap" description:"Largest deposit admitted before its first confirmation -- 0 disables zero-conf admission"`
	MaxBet      *cfgutil.AmountFlag `long:"maxbet" description:"Largest admissible deposit -- 0 means no cap"`
	ClientSeed  string              `long:"clientseed" description:"Fixed client seed for every roll -- The default derives each bet's client seed from its deposit transaction id"`

	// Payouts
	FeeRate          *cfgutil.AmountFlag `long:"feerate" description:"Fee rate of payout transactions in BTC/kB"`
	MaxPayoutRetries int64               `long:"maxpayoutretries" description:"Payout attempts per winning bet before it parks for operator review"`

	// Storage and keys
	DBType         string `long:"dbtype" description:"Database backend: sqlite or postgres"`
	DSN            string `long:"dsn" description:"SQLite database path or PostgreSQL connection string"`
	Vault          string `long:"vault" description:"Path to the encrypted key vault file"`
	PassphraseFile string `long:"passphrasefile" description:"File containing the vault passphrase -- When unset the passphrase is prompted for on startup"`

	// Provably-fair seeds
	SeedRetentionDays int `long:"seedretention" description:"Full UTC days a server seed stays secret after its day ends"`

	// Operator alerting
	AlertURL      string        `long:"alerturl" description:"Webhook URL receiving operator alerts as JSON"`
	AlertCooldown time.Duration `long:"alertcooldown" description:"Minimum delay between repeated alerts for the same condition"`

	// One-shot commands
	ImportWallet string `long:"importwallet" description:"Register a payout wallet from WIF:MULTIPLIER and exit -- MULTIPLIER is the payout multiplier in hundredths, so 196 pays 1.96x"`
	CheckTxid    string `long:"checktxid" description:"Run one transaction id through deposit detection and settlement, print the outcome, and exit"`
	Requeue      uint32 `long:"requeue" description:"Re-attempt the payout of a parked bet id, print the outcome, and exit"`
	ShowSeed     string `long:"showseed" description:"Print the server seed commitment for a UTC day (YYYY-MM-DD) and exit"`
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(dicepaydHomeDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows cmd.exe-style
	// %VARIABLE%, but they variables can still be expanded via POSIX-style
	// $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

// parseImportWallet splits an importwallet argument into its WIF and
// multiplier parts.  The WIF itself is only decoded later, once the
// vault is open and the network is known, but the multiplier has to
// produce an admissible win chance.
func parseImportWallet(arg string) (string, int64, error) {
	wif, multStr, found := strings.Cut(arg, ":")
	if !found || wif == "" || multStr == "" {
		return "", 0, fmt.Errorf("importwallet argument must be " +
			"formatted WIF:MULTIPLIER")
	}
	multCenti, err := strconv.ParseInt(multStr, 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("importwallet multiplier %q does "+
			"not parse: %v", multStr, err)
	}
	err = fair.ValidateMultiplier(multCenti, minWalletMultCenti,
		maxWalletMultCenti)
	if err != nil {
		return "", 0, err
	}
	return wif, multCenti, nil
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
// The above results in dicepayd functioning properly without any config
// settings while still allowing the user to override settings with
// config files and command line options.  Command line options always
// take precedence.
func loadConfig() (*config, []string, error) {
	// Default config.
	cfg := config{
		DebugLevel:        defaultLogLevel,
		ConfigFile:        defaultConfigFile,
		DataDir:           defaultDataDir,
		LogDir:            defaultLogDir,
		DBType:            defaultDBType,
		MinConf:           defaultMinConf,
		PollInterval:      defaultPollInterval,
		MaxPayoutRetries:  defaultMaxPayoutRetries,
		SeedRetentionDays: fair.DefaultRetentionDays,
		AlertCooldown:     defaultAlertCooldown,
		ZeroConfCap:       cfgutil.NewAmountFlag(0),
		MaxBet:            cfgutil.NewAmountFlag(0),
		FeeRate:           cfgutil.NewAmountFlag(txrules.DefaultRelayFeePerKb),
	}

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.Default)
	_, err := preParser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			preParser.WriteHelp(os.Stderr)
		}
		return nil, nil, err
	}

	// Show the version and exit if the version flag was specified.
	funcName := "loadConfig"
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", version())
		os.Exit(0)
	}

	// Load additional config from file.
	var configFileError error
	parser := flags.NewParser(&cfg, flags.Default)
	err = flags.NewIniParser(parser).ParseFile(cleanAndExpandPath(preCfg.ConfigFile))
	if err != nil {
		if _, ok := err.(*os.PathError); !ok {
			fmt.Fprintln(os.Stderr, err)
			parser.WriteHelp(os.Stderr)
			return nil, nil, err
		}
		configFileError = err
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			parser.WriteHelp(os.Stderr)
		}
		return nil, nil, err
	}

	// Choose the active network params based on the selected network.
	// Multiple networks can't be selected simultaneously.
	numNets := 0
	if cfg.TestNet3 {
		activeNet = &netparams.TestNet3Params
		numNets++
	}
	if cfg.TestNet4 {
		activeNet = &netparams.TestNet4Params
		numNets++
	}
	if cfg.SigNet {
		activeNet = &netparams.SigNetParams
		numNets++
	}
	if cfg.RegressionTest {
		activeNet = &netparams.RegressionParams
		numNets++
	}
	if numNets > 1 {
		str := "%s: the testnet, testnet4, signet, and regtest params " +
			"can't be used together -- choose at most one"
		err := fmt.Errorf(str, funcName)
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		return nil, nil, err
	}

	// Expand environment variables and leading ~ for filepaths.
	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)

	// Append the network type to the log directory so it is
	// "namespaced" per network.
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	cfg.LogDir = filepath.Join(cfg.LogDir, activeNet.Params.Name)

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		os.Exit(0)
	}

	// Initialize log rotation.  After the log rotation has been
	// initialized, the logger variables may be used.
	initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename))

	// Parse, validate, and set debug log level(s).
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		err := fmt.Errorf("%s: %v", funcName, err.Error())
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		return nil, nil, err
	}

	// Warn about missing config file after the final command line parse
	// succeeds.  This prevents the warning on help messages and invalid
	// options.
	if configFileError != nil {
		log.Warnf("%v", configFileError)
	}

	// At most one of the one-shot commands may be requested per
	// invocation.
	numCmds := 0
	if cfg.Create {
		numCmds++
	}
	if cfg.ImportWallet != "" {
		numCmds++
	}
	if cfg.CheckTxid != "" {
		numCmds++
	}
	if cfg.Requeue != 0 {
		numCmds++
	}
	if cfg.ShowSeed != "" {
		numCmds++
	}
	if numCmds > 1 {
		str := "%s: the create, importwallet, checktxid, requeue, and " +
			"showseed options can't be used together -- choose at " +
			"most one"
		err := fmt.Errorf(str, funcName)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	// Bound the numeric options.
	if cfg.PollInterval < time.Second {
		str := "%s: the pollinterval option may not be shorter than " +
			"1s -- parsed [%v]"
		err := fmt.Errorf(str, funcName, cfg.PollInterval)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}
	if cfg.MinConf < 0 {
		str := "%s: the minconf option may not be negative -- parsed [%d]"
		err := fmt.Errorf(str, funcName, cfg.MinConf)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}
	if cfg.MaxPayoutRetries < 1 {
		str := "%s: the maxpayoutretries option must be at least 1 -- " +
			"parsed [%d]"
		err := fmt.Errorf(str, funcName, cfg.MaxPayoutRetries)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}
	if cfg.SeedRetentionDays < 1 {
		str := "%s: the seedretention option must be at least 1 -- " +
			"parsed [%d]"
		err := fmt.Errorf(str, funcName, cfg.SeedRetentionDays)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}
	if cfg.FeeRate.Amount <= 0 {
		str := "%s: the feerate option must be positive -- parsed [%v]"
		err := fmt.Errorf(str, funcName, cfg.FeeRate.Amount)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}
	if cfg.MaxBet.Amount < 0 || cfg.ZeroConfCap.Amount < 0 {
		str := "%s: the maxbet and zeroconfcap options may not be negative"
		err := fmt.Errorf(str, funcName)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	// Fill in the per-network gateway endpoints and check the
	// explicitly configured ones parse with a usable scheme.
	if cfg.APIURL == "" {
		cfg.APIURL = activeNet.APIURL
	}
	if cfg.FeedURL == "" {
		cfg.FeedURL = activeNet.FeedURL
	}
	if u, err := url.Parse(cfg.APIURL); err != nil ||
		(u.Scheme != "http" && u.Scheme != "https") {

		str := "%s: apiurl must be an http or https URL -- parsed [%v]"
		err := fmt.Errorf(str, funcName, cfg.APIURL)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}
	if !cfg.NoFeed {
		if u, err := url.Parse(cfg.FeedURL); err != nil ||
			(u.Scheme != "ws" && u.Scheme != "wss") {

			str := "%s: feedurl must be a ws or wss URL -- parsed [%v]"
			err := fmt.Errorf(str, funcName, cfg.FeedURL)
			fmt.Fprintln(os.Stderr, err)
			fmt.Fprintln(os.Stderr, usageMessage)
			return nil, nil, err
		}
	}
	if cfg.AlertURL != "" {
		if u, err := url.Parse(cfg.AlertURL); err != nil ||
			(u.Scheme != "http" && u.Scheme != "https") {

			str := "%s: alerturl must be an http or https URL -- " +
				"parsed [%v]"
			err := fmt.Errorf(str, funcName, cfg.AlertURL)
			fmt.Fprintln(os.Stderr, err)
			fmt.Fprintln(os.Stderr, usageMessage)
			return nil, nil, err
		}
	}

	// Resolve the database location.  SQLite lives in the per-network
	// data directory by default; postgres always needs an explicit
	// connection string.
	netDir := networkDir(cfg.DataDir, activeNet.Params)
	switch cfg.DBType {
	case "sqlite":
		if cfg.DSN == "" {
			cfg.DSN = filepath.Join(netDir, defaultDBFilename)
		} else {
			cfg.DSN = cleanAndExpandPath(cfg.DSN)
		}
	case "postgres":
		if cfg.DSN == "" {
			str := "%s: the postgres database type requires the " +
				"dsn option"
			err := fmt.Errorf(str, funcName)
			fmt.Fprintln(os.Stderr, err)
			fmt.Fprintln(os.Stderr, usageMessage)
			return nil, nil, err
		}
	default:
		str := "%s: unsupported database type [%v] -- use sqlite or " +
			"postgres"
		err := fmt.Errorf(str, funcName, cfg.DBType)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	// Resolve the vault and passphrase file locations.
	if cfg.Vault == "" {
		cfg.Vault = filepath.Join(netDir, defaultVaultFilename)
	} else {
		cfg.Vault = cleanAndExpandPath(cfg.Vault)
	}
	if cfg.PassphraseFile != "" {
		cfg.PassphraseFile = cleanAndExpandPath(cfg.PassphraseFile)
	}

	// Validate the one-shot command arguments early so a typo fails
	// before any daemon state is touched.
	if cfg.ShowSeed != "" {
		if _, err := time.Parse("2006-01-02", cfg.ShowSeed); err != nil {
			str := "%s: the showseed day must be formatted " +
				"YYYY-MM-DD -- parsed [%v]"
			err := fmt.Errorf(str, funcName, cfg.ShowSeed)
			fmt.Fprintln(os.Stderr, err)
			fmt.Fprintln(os.Stderr, usageMessage)
			return nil, nil, err
		}
	}
	if cfg.ImportWallet != "" {
		if _, _, err := parseImportWallet(cfg.ImportWallet); err != nil {
			err := fmt.Errorf("%s: %v", funcName, err)
			fmt.Fprintln(os.Stderr, err)
			fmt.Fprintln(os.Stderr, usageMessage)
			return nil, nil, err
		}
	}

	// Ensure the data directory for the network exists.
	if err := checkCreateDir(netDir); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}

	// Ensure the vault exists or create it when the create flag is set.
	vaultExists, err := cfgutil.FileExists(cfg.Vault)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}
	if cfg.Create {
		// Error if the create flag is set and the vault already
		// exists.
		if vaultExists {
			err := fmt.Errorf("the vault file `%v` already exists",
				cfg.Vault)
			fmt.Fprintln(os.Stderr, err)
			return nil, nil, err
		}

		// Perform the initial vault creation wizard.
		if err := createVault(&cfg); err != nil {
			fmt.Fprintln(os.Stderr, "Unable to create vault:", err)
			return nil, nil, err
		}

		// Created successfully, so exit now with success.
		os.Exit(0)
	} else if !vaultExists && cfg.ShowSeed == "" {
		// Seed inspection only reads the database, so it is the one
		// mode that runs without a vault.
		err := fmt.Errorf("the vault does not exist.  Run with the " +
			"--create option to initialize and create it")
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}

	return &cfg, remainingArgs, nil
}

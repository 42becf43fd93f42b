// Copyright (c) 2013-2014 The btcsuite developers
// Copyright (c) 2015-2016 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	flags "github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "relayd.conf"
	defaultDataDirname    = "data"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "relayd.log"

	defaultListenAddr     = "0.0.0.0:9090"
	defaultSurbTarget     = 64
	defaultSurbInterval   = 5  // seconds
	defaultIdleTimeout    = 180 // seconds
	defaultConfirmTimeout = 120 // seconds
	defaultRedeemRetries  = 5
)

var (
	relaydHomeDir     = defaultAppDataDir("relayd")
	defaultConfigFile = filepath.Join(relaydHomeDir, defaultConfigFilename)
	defaultDataDir    = filepath.Join(relaydHomeDir, defaultDataDirname)
	defaultLogDir     = filepath.Join(relaydHomeDir, defaultLogDirname)
)

// defaultAppDataDir mirrors dcrutil.AppDataDir's per-OS home directory
// convention without taking a dependency on the Decred-specific package,
// since this repo's domain is no longer Decred-chain-specific.
func defaultAppDataDir(appName string) string {
	if appName == "" || appName == "." {
		return "."
	}
	appName = strings.TrimPrefix(appName, ".")
	appNameUpper := strings.ToUpper(appName[:1]) + appName[1:]
	appNameLower := strings.ToLower(appName)

	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("LOCALAPPDATA"), appNameUpper)
	case "darwin":
		return filepath.Join(homeDir, "Library", "Application Support", appNameUpper)
	default:
		return filepath.Join(homeDir, "."+appNameLower)
	}
}

// config defines relayd's configuration surface: transport listener,
// chain RPC endpoint and signing key, ticket DB connection, and the
// tunables of the SURB balancer / redemption strategy / session runtime.
//
// See loadConfig for the load process.
type config struct {
	HomeDir    string `short:"A" long:"appdata" description:"Path to application home directory"`
	ConfigFile string `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir    string `short:"b" long:"datadir" description:"Directory to store data"`
	LogDir     string `long:"logdir" description:"Directory to log output"`
	DebugLevel string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,..."`

	ListenAddr string `long:"listen" description:"Interface/port the packet transport listens on"`

	ChainRPCURL      string `long:"chainrpcurl" description:"Websocket/HTTP URL of the EVM chain RPC endpoint" required:"true"`
	ContractAddress  string `long:"contractaddress" description:"Hex address of the payment channel contract" required:"true"`
	ChainKeyFile     string `long:"chainkeyfile" description:"Path to the relay's chain signing key (hex-encoded secp256k1 private key)" required:"true"`

	DBDriver string `long:"dbdriver" description:"database/sql driver name for the ticket DB"`
	DBDSN    string `long:"dbdsn" description:"Data source name for the ticket DB" required:"true"`

	SurbTargetBuffer int `long:"surbtarget" description:"Target SURB runway size"`
	SurbInterval     int `long:"surbinterval" description:"Seconds between SURB balancer ticks"`

	SessionIdleTimeoutSecs int `long:"sessionidletimeout" description:"Seconds of inactivity before a session starts closing"`

	RedeemMaxRetries      int `long:"redeemmaxretries" description:"Max OutcomeTimedOut retries before giving up on a redemption"`
	ConfirmationTimeoutSecs int `long:"confirmationtimeout" description:"Seconds to wait for a redeem transaction's receipt"`
}

// runServiceCommand is only set to a real function on Windows, mirroring
// the teacher's service-wrapper hook; relayd has no Windows service
// wrapper of its own, so this stays nil and loadConfig never consults
// it — kept for structural parity with the teacher's config.go.
var runServiceCommand func(string) error

// newConfigParser returns a new command line flags parser.
func newConfigParser(cfg *config, options flags.Options) *flags.Parser {
	return flags.NewParser(cfg, options)
}

// loadConfig initializes and parses the config using a config file and
// command line options, following the teacher's four-step precedence
// order: defaults, pre-parse for -C, config file, final CLI parse.
func loadConfig() (*config, []string, error) {
	cfg := config{
		ConfigFile:              defaultConfigFile,
		DataDir:                 defaultDataDir,
		LogDir:                  defaultLogDir,
		DebugLevel:              defaultLogLevel,
		ListenAddr:              defaultListenAddr,
		DBDriver:                "mysql",
		SurbTargetBuffer:        defaultSurbTarget,
		SurbInterval:            defaultSurbInterval,
		SessionIdleTimeoutSecs:  defaultIdleTimeout,
		RedeemMaxRetries:        defaultRedeemRetries,
		ConfirmationTimeoutSecs: defaultConfirmTimeout,
	}

	preCfg := cfg
	preParser := newConfigParser(&preCfg, flags.HelpFlag)
	_, err := preParser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stderr, err)
			return nil, nil, err
		}
	}

	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)

	var configFileError error
	parser := newConfigParser(&cfg, flags.Default)
	err = flags.NewIniParser(parser).ParseFile(preCfg.ConfigFile)
	if err != nil {
		if _, ok := err.(*os.PathError); !ok {
			fmt.Fprintf(os.Stderr, "Error parsing config file: %v\n", err)
			fmt.Fprintln(os.Stderr, usageMessage)
			return nil, nil, err
		}
		configFileError = err
	}

	remainingArgs, err := parser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			fmt.Fprintln(os.Stderr, usageMessage)
		}
		return nil, nil, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		str := "loadConfig: failed to create data directory: %v"
		err := fmt.Errorf(str, err)
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}

	if configFileError != nil {
		// Non-fatal: relayd can run entirely off CLI flags, so a
		// missing config file is only reported.
		fmt.Fprintf(os.Stderr, "loadConfig: %v\n", configFileError)
	}

	return &cfg, remainingArgs, nil
}

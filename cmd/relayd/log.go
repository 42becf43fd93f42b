// Copyright (c) 2016 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btclog"
	"github.com/btcsuite/seelog"
	"github.com/jrick/logrotate/rotator"
)

// logRotator rolls the log file by size, the same jrick/logrotate-backed
// writer dcrd/lnd/dcrstakepool all use alongside a console writer.
var logRotator *rotator.Rotator

// logWriter sends every log line to both stdout and logRotator, the
// standard pairing for this library.
type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	os.Stdout.Write(p)
	logRotator.Write(p)
	return len(p), nil
}

// Loggers per subsystem. backendLog is a seelog logger every subsystem
// logger routes its messages through; relayd's own long-running
// goroutines (chain indexing, SURB balancing, redemption sweeps) each get
// a subsystem tag; SESS is registered for level control, but no relayd
// goroutine logs through it. The internal/* packages
// themselves stay logger-free and communicate failures through returned
// errors only — relayd is the one place in this module that logs, the
// same division the teacher's own library packages (models, system)
// observe by accepting an injected btclog.Logger via UseLogger rather
// than reaching for a global.
var (
	backendLog = seelog.Disabled
	log        = btclog.Disabled // RELD: top-level wiring and shutdown
	indxLog    = btclog.Disabled // INDX: on-chain event indexing loop
	surbLog    = btclog.Disabled // SURB: SURB balancer loop
	sessLog    = btclog.Disabled // SESS: session subsystem (currently unused)
	rdmLog     = btclog.Disabled // RDM: redemption sweep loop
)

var subsystemLoggers = map[string]btclog.Logger{
	"RELD": log,
	"INDX": indxLog,
	"SURB": surbLog,
	"SESS": sessLog,
	"RDM":  rdmLog,
}

// useLogger updates the logger reference for subsystemID. Invalid
// subsystems are ignored.
func useLogger(subsystemID string, logger btclog.Logger) {
	if _, ok := subsystemLoggers[subsystemID]; !ok {
		return
	}
	subsystemLoggers[subsystemID] = logger

	switch subsystemID {
	case "RELD":
		log = logger
	case "INDX":
		indxLog = logger
	case "SURB":
		surbLog = logger
	case "SESS":
		sessLog = logger
	case "RDM":
		rdmLog = logger
	}
}

// initSeelogLogger initializes the seelog backend every subsystem logger
// writes through. The file half of the output is a jrick/logrotate
// rotator rather than seelog's own rollingfile output, so the log file
// rolls at 10MiB keeping 3 old rolls regardless of which seelog output
// types are compiled in.
func initSeelogLogger(logFile string) {
	logDir, _ := filepath.Split(logFile)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create log directory: %v", err)
		os.Exit(1)
	}
	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create log rotator: %v", err)
		os.Exit(1)
	}
	logRotator = r

	config := `
        <seelog type="adaptive" mininterval="2000000" maxinterval="100000000"
                critmsgcount="500" minlevel="trace">
                <outputs formatid="all">
                        <custom name="relaydLogWriter" />
                </outputs>
                <formats>
                        <format id="all" format="%%Time %%Date [%%LEV] %%Msg%%n" />
                </formats>
        </seelog>`

	logger, err := seelog.LoggerFromConfigAsString(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v", err)
		os.Exit(1)
	}

	backendLog = logger
}

func init() {
	if err := seelog.RegisterReceiver("relaydLogWriter", &seelogWriterReceiver{}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register seelog receiver: %v", err)
		os.Exit(1)
	}
}

// seelogWriterReceiver adapts logWriter to seelog's CustomReceiver
// interface so the rotator-backed writer can be the "custom" output
// named in initSeelogLogger's config string.
type seelogWriterReceiver struct{}

func (r *seelogWriterReceiver) ReceiveMessage(message string, level seelog.LogLevel, context seelog.LogContextInterface) error {
	_, err := logWriter{}.Write([]byte(message))
	return err
}

func (r *seelogWriterReceiver) AfterParse(initArgs seelog.CustomReceiverInitArgs) error { return nil }

func (r *seelogWriterReceiver) Flush() {}

func (r *seelogWriterReceiver) Close() error { return nil }

// setLogLevel sets the logging level for the named subsystem, creating
// its logger from backendLog if this is the first time it's been set.
func setLogLevel(subsystemID string, logLevel string) {
	logger, ok := subsystemLoggers[subsystemID]
	if !ok {
		return
	}

	level, ok := btclog.LogLevelFromString(logLevel)
	if !ok {
		level = btclog.InfoLvl
	}

	if logger == btclog.Disabled {
		logger = btclog.NewSubsystemLogger(backendLog, subsystemID+": ")
		useLogger(subsystemID, logger)
	}
	logger.SetLevel(level)
}

// setLogLevels sets every subsystem logger to logLevel, dynamically
// creating them as needed. Used to initialize logging at startup.
func setLogLevels(logLevel string) {
	for subsystemID := range subsystemLoggers {
		setLogLevel(subsystemID, logLevel)
	}
}

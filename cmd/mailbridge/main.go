package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/emx-mail/bridge/pkgs/config"
)

const version = "0.1.0"

// app holds global options parsed from the command line
type app struct {
	configPath string
	verbose    bool
}

func main() {
	a := &app{}

	// Global flags
	flag.StringVarP(&a.configPath, "config", "c", config.DefaultPath(), "Configuration file path")
	flag.BoolVarP(&a.verbose, "verbose", "v", false, "Verbose output")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		fmt.Printf("mailbridge v%s\n", version)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	cmd := args[0]
	cmdArgs := args[1:]

	// "init" doesn't need config loaded
	if cmd == "init" {
		if err := handleInit(a.configPath); err != nil {
			fatal("init: %v", err)
		}
		return
	}
	if cmd == "help" {
		printUsage()
		os.Exit(0)
	}

	cfg := a.loadConfig()
	logger := newLogger(cfg.LogLevel, a.verbose)

	switch cmd {
	case "receive":
		opts := parseReceiveFlags(cmdArgs)
		if err := handleReceive(cfg, logger, opts); err != nil {
			fatal("receive: %v", err)
		}
	case "sync":
		opts := parseSyncFlags(cmdArgs)
		if err := handleSync(cfg, logger, opts); err != nil {
			fatal("sync: %v", err)
		}
	case "run":
		if err := handleRun(cfg, logger); err != nil {
			fatal("run: %v", err)
		}
	default:
		fatal("unknown command '%s'", cmd)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `mailbridge v%s - Mail and FTP inbound bridge

Usage:
  mailbridge [global options] <command> [command options]

Commands:
  run        Poll all configured sources and feed the sinks until interrupted
  receive    Run one receive cycle against the configured mail sources
  sync       Run one download pass against the configured FTP sources
  init       Write an example configuration file

Global Options:
  -c, --config <path>  Configuration file (default: ~/.config/mailbridge/config.yaml)
  -v, --verbose        Verbose output (debug logging)
  --version            Show version information

Receive Options:
  --source <name>      Limit to a single configured mail source

Sync Options:
  --source <name>      Limit to a single configured FTP source

Examples:
  mailbridge init
  mailbridge receive
  mailbridge -v receive --source work
  mailbridge sync --source partner-feed
  mailbridge run
`, version)
}

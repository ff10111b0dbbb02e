// Command dittodfs runs the processes of a DittoDFS cluster.
//
//	dittodfs init [--config path] [--force]
//	dittodfs naming [--config path]
//	dittodfs storage [--config path] [--naming host:port] [--hostname name]
//	dittodfs version
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Set at build time with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
)

const usage = `DittoDFS - distributed file service

Usage:
  dittodfs <command> [flags]

Commands:
  init      Write a sample configuration file
  naming    Run the naming coordinator
  storage   Run a storage node
  version   Print version information

Run "dittodfs <command> -h" for the flags of a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "init":
		err = runInit(args)
	case "naming":
		err = runNaming(args)
	case "storage":
		err = runStorage(args)
	case "version", "--version", "-v":
		fmt.Printf("dittodfs %s (commit %s)\n", version, commit)
	case "help", "--help", "-h":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// shutdownResult turns the error of a server stopped by a signal into nil.
func shutdownResult(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

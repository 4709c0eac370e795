// Command xfersend is the sender-side CLI entrypoint: it parses
// flags, wires the real collaborators, and drives a sender.Engine to
// completion. It contains no protocol logic of its own (spec §1).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"xfer/infrastructure/PAL/exec_commander"
	"xfer/infrastructure/logging"
	"xfer/overlay"
	"xfer/sender"
)

func main() {
	var (
		exclude     string
		compression bool
		podMode     bool
		listenAddr  string
		warnLog     string
		overlayCLI  string
	)
	flag.StringVar(&exclude, "exclude", "", "comma-separated glob patterns excluded per path component")
	flag.BoolVar(&compression, "compress", false, "enable s2 block compression for file data")
	flag.BoolVar(&podMode, "pod", false, "pod-mode: accept only a loopback peer, skip overlay verification")
	flag.StringVar(&listenAddr, "listen", "", "override listen address (default :15820)")
	flag.StringVar(&warnLog, "warn-log", "transfer_warnings.log", "path to the warning sink log file")
	flag.StringVar(&overlayCLI, "overlay-cli", "", "overlay CLI binary name (default overlayctl)")
	flag.Parse()

	inputPaths := flag.Args()
	if len(inputPaths) == 0 {
		fmt.Fprintln(os.Stderr, "usage: xfersend [flags] <path> [path...]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	var excludeGlobs []string
	if exclude != "" {
		excludeGlobs = strings.Split(exclude, ",")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "xfersend: interrupt received, shutting down")
		cancel()
	}()

	logger := logging.NewStdLogger()
	warn := logging.NewFileSink(warnLog)
	adapter := overlay.NewAdapter(exec_commander.NewExecCommander(), overlayCLI)

	eng := sender.New(sender.Config{
		InputPaths:   inputPaths,
		ExcludeGlobs: excludeGlobs,
		Compression:  compression,
		PodMode:      podMode,
		ListenAddr:   listenAddr,
		Overlay:      adapter,
		Logger:       logger,
		Warn:         warn,
	})

	err := eng.Run(ctx, func(connectionString string) {
		fmt.Printf("waiting for receiver, connection string: %s\n", connectionString)
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "xfersend: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("xfersend: transfer complete")
}

// Command xferrecv is the receiver-side CLI entrypoint: it parses
// flags, wires the real collaborators, and drives a receiver.Engine
// to completion. It contains no protocol logic of its own (spec §1).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"xfer/infrastructure/PAL/exec_commander"
	"xfer/infrastructure/logging"
	"xfer/overlay"
	"xfer/receiver"
	"xfer/resource"
)

func main() {
	var (
		workDir     string
		podMode     bool
		overwrite   bool
		noContinue  bool
		warnLog     string
		overlayCLI  string
		port        int
	)
	flag.StringVar(&workDir, "dir", ".", "working directory files are written relative to")
	flag.BoolVar(&podMode, "pod", false, "pod-mode: dial only a loopback sender, skip overlay verification")
	flag.BoolVar(&overwrite, "overwrite", false, "overwrite existing files instead of appending a conflict suffix")
	flag.BoolVar(&noContinue, "no-continue", false, "decline any existing lock document and start fresh")
	flag.StringVar(&warnLog, "warn-log", "transfer_warnings.log", "path to the warning sink log file")
	flag.StringVar(&overlayCLI, "overlay-cli", "", "overlay CLI binary name (default overlayctl)")
	flag.IntVar(&port, "port", 0, "override sender port (default 15820)")
	flag.Parse()

	args := flag.Args()
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: xferrecv [flags] <ip:word-word>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "xferrecv: interrupt received, shutting down")
		cancel()
	}()

	logger := logging.NewStdLogger()
	warn := logging.NewFileSink(warnLog)
	adapter := overlay.NewAdapter(exec_commander.NewExecCommander(), overlayCLI)

	eng := receiver.New(receiver.Config{
		ConnectionString: args[0],
		Port:             port,
		WorkDir:          workDir,
		PodMode:          podMode,
		Overwrite:        overwrite,
		Continue:         !noContinue,
		Overlay:          adapter,
		Logger:           logger,
		Warn:             warn,
		Monitor:          resource.NewMonitor(),
	})

	if err := eng.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "xferrecv: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("xferrecv: transfer complete")
}

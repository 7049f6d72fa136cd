// calendar-feed polls Google Calendar for a dashboard host and sends the
// filtered upcoming events back to it.
//
// Usage:
//
//	calendar-feed [-config path] [run|once]
//
// run (the default) reads JSON-line commands on stdin and writes
// notifications on stdout. Calendars listed in the config file start
// without a host. once authorizes with the stored token, fetches every
// configured calendar a single time, prints the results and exits.
//
// Files in the storage directory:
//   - credentials.json: OAuth client secrets ("web" or "installed")
//   - token.json: the stored OAuth token (file token store only)
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"calendar-feed/internal/config"
)

func main() {
	configPath := flag.String("config", "calendar-feed.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	command := "run"
	if flag.NArg() > 0 {
		command = flag.Arg(0)
	}

	switch command {
	case "run":
		err = run(ctx, cfg, logger, os.Stdin, os.Stdout)
	case "once":
		err = once(ctx, cfg, logger, os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (want run or once)\n", command)
		os.Exit(2)
	}

	if err != nil {
		logger.Error("calendar-feed stopped", "command", command, "error", err)
		os.Exit(1)
	}
}

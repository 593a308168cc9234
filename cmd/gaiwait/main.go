package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"gaiwait/pkg/config"
	"gaiwait/pkg/logging"
)

var (
	configPath = flag.String("config", "", "Path to configuration file (defaults apply when empty)")
	timeout    = flag.Duration("timeout", 0, "Bounded wait per lookup (overrides resolver.timeout)")
	family     = flag.String("family", "any", "Address family for lookups: any, 4 or 6")
	version    = "dev"
	buildTime  = "unknown"
)

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "Usage:\n")
	fmt.Fprintf(out, "  %s [flags] lookup <name>[:service] ...\n", os.Args[0])
	fmt.Fprintf(out, "  %s [flags] serve\n", os.Args[0])
	fmt.Fprintf(out, "  %s version\n\nFlags:\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	switch cmd := flag.Arg(0); cmd {
	case "version":
		fmt.Printf("gaiwait %s (built %s)\n", version, buildTime)
	case "lookup":
		os.Exit(runLookup(flag.Args()[1:]))
	case "serve":
		os.Exit(runServe())
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n", cmd)
		usage()
		os.Exit(2)
	}
}

// loadConfig reads -config, or returns defaults when it is empty.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if *configPath == "" {
		cfg = config.LoadWithDefaults()
	} else if cfg, err = config.Load(*configPath); err != nil {
		return nil, err
	}
	applyFlags(cfg)
	return cfg, nil
}

func applyFlags(cfg *config.Config) {
	if *timeout > 0 {
		cfg.Resolver.Timeout = *timeout
	}
}

// setupLogger builds the global logger from cfg.
func setupLogger(cfg *config.Config) (*logging.Logger, error) {
	logger, err := logging.New(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logging.SetGlobal(logger)
	return logger, nil
}

// shutdownTimeout bounds graceful shutdown of the serve mode.
const shutdownTimeout = 5 * time.Second

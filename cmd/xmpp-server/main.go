// Package main provides the entry point for the XMPP server.
// The server speaks the client-to-server subset of RFC 6120 that game
// clients use for their chat and presence channel: stream negotiation,
// STARTTLS, SASL PLAIN, resource binding and session establishment.
//
// Usage:
//
//	xmpp-server [flags]
//
// Flags:
//
//	-config string     Configuration file (default "config.yaml")
//	-init-config       Write a default configuration file and exit
//	-force             Overwrite an existing file with -init-config
//	-debug             Enable debug logging
//	-version           Show version information
//	-help              Show help message
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/go-i2p/go-xmpp-server/lib/config"
	"github.com/go-i2p/go-xmpp-server/lib/embedding"
	"github.com/go-i2p/go-xmpp-server/lib/logging"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"

	// Build info
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// shutdownGrace is added to the disconnect timeout when stopping.
const shutdownGrace = time.Second

// Flags holds the command line options.
type Flags struct {
	// ConfigPath is the YAML configuration file.
	ConfigPath string

	// InitConfig writes the default configuration to ConfigPath and exits.
	InitConfig bool

	// Force allows InitConfig to overwrite an existing file.
	Force bool

	// Debug enables debug logging regardless of the configured level.
	Debug bool
}

func main() {
	flags := parseFlags()

	if flags.InitConfig {
		if err := config.WriteDefault(flags.ConfigPath, flags.Force); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote default configuration to %s\n", flags.ConfigPath)
		os.Exit(0)
	}

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if flags.Debug {
		cfg.Logging.Level = "DEBUG"
	}

	log, logCloser, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	log.WithFields(logrus.Fields{
		"version":   Version,
		"buildTime": BuildTime,
		"commit":    GitCommit,
	}).Info("Starting XMPP server")

	if err := run(cfg, log); err != nil {
		log.WithError(err).Error("Server error")
		logCloser.Close()
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logrus.Logger) error {
	serverCfg, err := cfg.ToServerConfig()
	if err != nil {
		return err
	}

	srv, err := embedding.New(
		embedding.WithConfig(serverCfg),
		embedding.WithLogger(log),
		embedding.WithCredentials(cfg.CredentialConfig()),
		embedding.WithPlainOptions(cfg.PlainOptions(log)),
	)
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"backend":    cfg.Credentials.Backend,
		"mechanisms": srv.XMPP().Mechanisms().Names(),
		"tls":        serverCfg.TLS.Enabled(),
	}).Info("Server configured")

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	if err := srv.Start(context.Background()); err != nil {
		return err
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Wait()
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-sigChan:
		log.WithField("signal", sig.String()).Info("Received shutdown signal")
	case err := <-errChan:
		if err != nil {
			return err
		}
		return errors.New("server stopped unexpectedly")
	}

	log.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), serverCfg.Timeouts.Disconnect+shutdownGrace)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		log.WithError(err).Warn("Error stopping server")
	}

	log.Info("XMPP server stopped")
	return nil
}

func parseFlags() *Flags {
	flags := &Flags{}

	flag.StringVar(&flags.ConfigPath, "config", "config.yaml", "Configuration file")
	flag.BoolVar(&flags.InitConfig, "init-config", false, "Write a default configuration file and exit")
	flag.BoolVar(&flags.Force, "force", false, "Overwrite an existing file with -init-config")
	flag.BoolVar(&flags.Debug, "debug", false, "Enable debug logging")

	showVersion := flag.Bool("version", false, "Show version information")
	showHelp := flag.Bool("help", false, "Show help message")

	flag.Parse()

	if *showVersion {
		fmt.Printf("xmpp-server %s\n", Version)
		fmt.Printf("Build time: %s\n", BuildTime)
		fmt.Printf("Git commit: %s\n", GitCommit)
		os.Exit(0)
	}

	if *showHelp {
		fmt.Println("XMPP Server - RFC 6120 client streams for game clients")
		fmt.Println()
		fmt.Println("Usage: xmpp-server [flags]")
		fmt.Println()
		fmt.Println("Flags:")
		flag.PrintDefaults()
		fmt.Println()
		fmt.Println("Environment variables:")
		fmt.Println("  XMPP_CONFIG           Configuration file (overrides -config)")
		fmt.Println("  XMPP_DEBUG            Enable debug logging (overrides -debug)")
		fmt.Printf("  %s_<SECTION>_<KEY>   Override any configuration key, e.g. %s_SERVER_DOMAIN\n",
			config.EnvPrefix, config.EnvPrefix)
		os.Exit(0)
	}

	// Override with environment variables if set
	if envConfig := os.Getenv("XMPP_CONFIG"); envConfig != "" {
		flags.ConfigPath = envConfig
	}
	if os.Getenv("XMPP_DEBUG") != "" {
		flags.Debug = true
	}

	return flags
}

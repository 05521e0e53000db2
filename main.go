package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/maildock/maildock/config"
	"github.com/maildock/maildock/logger"
	"github.com/maildock/maildock/server"
	"github.com/maildock/maildock/server/httpapi"
	"github.com/maildock/maildock/server/pop3"
	"github.com/maildock/maildock/server/smtp"
)

func main() {
	// Initialize with application defaults; the TOML file overrides these,
	// command-line flags override both.
	cfg := config.NewDefault()

	configPath := flag.String("config", "config.toml", "Path to TOML configuration file")

	fLogOutput := flag.String("logoutput", cfg.Logging.Output, "Log output: 'stdout', 'stderr' or a file path (overrides config)")
	fLogLevel := flag.String("loglevel", cfg.Logging.Level, "Log level: debug, info, warn, error (overrides config)")

	fStartSMTP := flag.Bool("smtp", cfg.Listeners.SMTP.Start, "Start the SMTP listener (overrides config)")
	fSMTPAddress := flag.String("smtpaddr", cfg.Listeners.SMTP.Address, "SMTP bind address, empty or 'any' for all interfaces (overrides config)")
	fSMTPPort := flag.Int("smtpport", cfg.Listeners.SMTP.Port, "SMTP port (overrides config)")
	fStartPOP3 := flag.Bool("pop3", cfg.Listeners.POP3.Start, "Start the POP3 listener (overrides config)")
	fPOP3Address := flag.String("pop3addr", cfg.Listeners.POP3.Address, "POP3 bind address, empty or 'any' for all interfaces (overrides config)")
	fPOP3Port := flag.Int("pop3port", cfg.Listeners.POP3.Port, "POP3 port (overrides config)")

	fStartAPI := flag.Bool("httpapi", cfg.HTTPAPI.Start, "Start the admin HTTP API (overrides config)")
	fAPIAddr := flag.String("httpapiaddr", cfg.HTTPAPI.Addr, "Admin HTTP API address (overrides config)")

	flag.Parse()

	if err := config.Load(*configPath, &cfg); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn("configuration file not found, using defaults", "path", *configPath)
		} else {
			logger.Fatal("failed to load configuration", "error", err)
		}
	}

	// Apply command-line overrides for flags that were explicitly set.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "logoutput":
			cfg.Logging.Output = *fLogOutput
		case "loglevel":
			cfg.Logging.Level = *fLogLevel
		case "smtp":
			cfg.Listeners.SMTP.Start = *fStartSMTP
		case "smtpaddr":
			cfg.Listeners.SMTP.Address = *fSMTPAddress
		case "smtpport":
			cfg.Listeners.SMTP.Port = *fSMTPPort
		case "pop3":
			cfg.Listeners.POP3.Start = *fStartPOP3
		case "pop3addr":
			cfg.Listeners.POP3.Address = *fPOP3Address
		case "pop3port":
			cfg.Listeners.POP3.Port = *fPOP3Port
		case "httpapi":
			cfg.HTTPAPI.Start = *fStartAPI
		case "httpapiaddr":
			cfg.HTTPAPI.Addr = *fAPIAddr
		}
	})

	logFile, err := logger.Initialize(cfg.Logging)
	if err != nil {
		logger.Fatal("failed to initialize logging", "error", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	hostname := cfg.Listeners.Hostname
	if hostname == "" {
		hostname, _ = os.Hostname()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle SIGINT and SIGTERM for graceful shutdown.
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-signalChan
		logger.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	errChan := make(chan error, 1)
	listeners := make(map[string]*httpapi.ManagedListener)
	var servers []*server.Server

	startListener := func(kind server.Kind, factory server.ProtocolFactory, lc config.ListenerConfig) {
		manager := server.NewTrackingConnectionManager(kind)
		srv := server.New(kind, factory, manager, server.Options{})
		listeners[strings.ToLower(string(kind))] = &httpapi.ManagedListener{
			Server:  srv,
			Address: lc.Address,
			Port:    lc.Port,
		}
		servers = append(servers, srv)
		if !lc.Start {
			return
		}
		if err := srv.Start(lc.Address, lc.Port); err != nil {
			logger.Fatal("failed to start listener", "protocol", string(kind), "error", err)
		}
	}

	startListener(server.KindSMTP, smtp.NewFactory(hostname), cfg.Listeners.SMTP)
	startListener(server.KindPOP3, pop3.NewFactory(hostname), cfg.Listeners.POP3)

	if cfg.HTTPAPI.Start {
		go httpapi.Start(ctx, listeners, httpapi.ServerOptions{
			Addr:   cfg.HTTPAPI.Addr,
			APIKey: cfg.HTTPAPI.APIKey,
		}, errChan)
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down maildock listeners")
	case err := <-errChan:
		logger.Error("server error", "error", err)
	}

	for _, srv := range servers {
		srv.Close()
	}
}

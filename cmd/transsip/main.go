// Package main provides the transsip command-line telephone.
//
// It loads ~/.transsip/settings, starts the call engine and reads commands
// from standard input until "quit" or end of input.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opd-ai/transsip"
	"github.com/opd-ai/transsip/transport"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// CLIConfig holds the command-line overrides of the settings file.
type CLIConfig struct {
	settings string
	port     uint
	device   string
	logLevel string
	logFile  string
	metrics  string
	user     string
	help     bool
}

func parseCLIFlags() *CLIConfig {
	config := &CLIConfig{}

	flag.StringVar(&config.settings, "settings", "", "Settings file (default ~/.transsip/settings)")
	flag.UintVar(&config.port, "port", 0, "UDP port to listen on (overrides settings)")
	flag.StringVar(&config.device, "device", "", "Audio device name, \"null\" for none")
	flag.StringVar(&config.logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	flag.StringVar(&config.logFile, "log-file", "", "Log file path (default: stderr)")
	flag.StringVar(&config.metrics, "metrics", "", "Serve Prometheus metrics on this address")
	flag.StringVar(&config.user, "user", "", "Caller name sent with outgoing calls")
	flag.BoolVar(&config.help, "help", false, "Show help message")

	flag.Parse()
	return config
}

// loadOptions reads the settings file and applies the flags on top.
func loadOptions(config *CLIConfig) (*transsip.Options, error) {
	path := config.settings
	if path == "" {
		var err error
		if path, err = transsip.DefaultSettingsPath(); err != nil {
			return nil, err
		}
	}

	opts, err := transsip.LoadOptions(path)
	if err != nil {
		return nil, err
	}

	if config.port > 0xffff {
		return nil, fmt.Errorf("invalid port %d", config.port)
	}
	if config.port != 0 {
		opts.Port = uint16(config.port)
	}
	if config.device != "" {
		opts.AudioDevice = config.device
	}
	if config.logLevel != "" {
		opts.Logging.Level = config.logLevel
	}
	if config.logFile != "" {
		opts.Logging.File = config.logFile
	}
	if config.metrics != "" {
		opts.MetricsAddress = config.metrics
	}
	if config.user != "" {
		opts.UserName = config.user
	}
	return opts, opts.Validate()
}

func serveMetrics(phone *transsip.Phone, address string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(phone.Registry(), promhttp.HandlerOpts{}))
	server := &http.Server{Addr: address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithFields(logrus.Fields{
				"function": "serveMetrics",
				"address":  address,
				"error":    err.Error(),
			}).Error("Metrics endpoint failed")
		}
	}()
	return server
}

func run(config *CLIConfig) error {
	opts, err := loadOptions(config)
	if err != nil {
		return fmt.Errorf("settings: %w", err)
	}

	logCloser, err := transsip.ConfigureLogging(opts.Logging)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	phone, err := transsip.New(opts)
	if err != nil {
		return err
	}
	defer phone.Kill()

	sh := newShell(phone, os.Stdin, os.Stdout)
	phone.OnStateChange(sh.stateChanged)
	phone.OnIncomingCall(sh.incomingCall)
	phone.OnCallEnded(sh.callEnded)
	phone.OnSTUNResult(func(result transport.ProbeResult) {
		sh.printf("stun: %s\n", result)
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := phone.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	sh.printf("listening on %s\n", phone.LocalAddr())

	if opts.MetricsAddress != "" {
		server := serveMetrics(phone, opts.MetricsAddress)
		defer server.Close()
	}

	sh.run(ctx, phone.Done())
	phone.Kill()
	return phone.Err()
}

func main() {
	config := parseCLIFlags()
	if config.help {
		fmt.Println("transsip - peer-to-peer UDP telephone")
		fmt.Println()
		fmt.Printf("Usage: %s [options]\n\n", os.Args[0])
		flag.PrintDefaults()
		fmt.Println()
		fmt.Print(helpText)
		os.Exit(0)
	}

	if err := run(config); err != nil {
		fmt.Fprintf(os.Stderr, "transsip: %v\n", err)
		os.Exit(1)
	}
}

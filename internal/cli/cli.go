// Package cli holds the setup shared by the command line programs.
package cli

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/digitalcircuit/remote-haptics/config"
	"github.com/digitalcircuit/remote-haptics/internal/protocol"
	"github.com/digitalcircuit/remote-haptics/pkg/logger"
)

// Styles used for console output.
var (
	TitleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	RemarkStyle = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("11"))
	StatusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	ErrorStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
)

// Flags shared by every command.
type Flags struct {
	LogLevel  string
	LogFormat string
}

// Bind registers the shared flags on cmd.
func (f *Flags) Bind(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&f.LogLevel, "log-level", "", "log level (debug, info, warn, error); overrides LOG_LEVEL")
	cmd.PersistentFlags().StringVar(&f.LogFormat, "log-format", "", "log format (json or console); overrides LOG_FORMAT")
}

// Setup loads the configuration and builds the logger, applying flag
// overrides.
func (f *Flags) Setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	if f.LogFormat != "" {
		cfg.Log.Format = f.LogFormat
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// ServerAddr picks the target from args or the configuration.
func ServerAddr(cfg *config.Config, args []string) (string, error) {
	if len(args) == 0 || args[0] == "" {
		return cfg.Protocol.Server, nil
	}
	if config.IsWebsocketURL(args[0]) {
		return args[0], nil
	}
	return config.NormalizeAddr(args[0])
}

// ClientTLS returns the client TLS configuration, or nil when insecure. The
// certificate file is optional; a missing default file falls back to the
// system roots.
func ClientTLS(insecure bool, certFile string, log *zap.Logger) (*tls.Config, error) {
	if insecure {
		log.Warn("TLS disabled, haptics are sent in the clear")
		return nil, nil
	}
	if certFile != "" {
		if _, err := os.Stat(certFile); errors.Is(err, os.ErrNotExist) {
			log.Debug("server certificate not found, using system roots", zap.String("path", certFile))
			certFile = ""
		}
	}
	return protocol.LoadClientTLS(certFile)
}

// Quiet maps the result of a run to the command result: cancellation by a
// signal is a clean exit.
func Quiet(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Execute runs cmd and exits with code 1 on error.
func Execute(cmd *cobra.Command) {
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ErrorStyle.Render("error: ")+err.Error())
		os.Exit(1)
	}
}

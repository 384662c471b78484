// Package main runs the haptics receiver: the protocol server driving the
// output devices, session recording and the optional status API.
package main

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/digitalcircuit/remote-haptics/config"
	"github.com/digitalcircuit/remote-haptics/internal/api"
	"github.com/digitalcircuit/remote-haptics/internal/cli"
	"github.com/digitalcircuit/remote-haptics/internal/events"
	"github.com/digitalcircuit/remote-haptics/internal/metrics"
	"github.com/digitalcircuit/remote-haptics/internal/protocol"
	"github.com/digitalcircuit/remote-haptics/internal/receiver"
	"github.com/digitalcircuit/remote-haptics/internal/sessionlog"
	"github.com/digitalcircuit/remote-haptics/pkg/database"
	"github.com/digitalcircuit/remote-haptics/pkg/queue"
	"github.com/digitalcircuit/remote-haptics/pkg/redis"
)

type options struct {
	cli.Flags
	configFile  string
	writeConfig bool
	listen      string
	insecure    bool
	sslCert     string
	sslKey      string
	strict      bool
	httpAddr    string
	record      bool
	recordDir   string
}

func main() {
	var opts options
	cmd := &cobra.Command{
		Use:   "haptic-receiver",
		Short: "Receive haptics over the network and drive output devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, &opts)
		},
	}
	opts.Bind(cmd)
	f := cmd.Flags()
	f.StringVarP(&opts.configFile, "config-file", "c", "", "output device mapping file (default: HAPTICS_DEVICES_FILE)")
	f.BoolVarP(&opts.writeConfig, "write-config", "w", false, "write out a sample device mapping file then exit")
	f.StringVarP(&opts.listen, "listen", "l", "", "address to listen on (default: HAPTICS_LISTEN)")
	f.BoolVarP(&opts.insecure, "insecure", "k", false, "disable TLS encryption")
	f.StringVar(&opts.sslCert, "ssl-cert", "", "TLS public certificate (default: HAPTICS_TLS_CERT)")
	f.StringVar(&opts.sslKey, "ssl-key", "", "TLS private key (default: HAPTICS_TLS_KEY)")
	f.BoolVar(&opts.strict, "strict", false, "stop on malformed requests")
	f.StringVar(&opts.httpAddr, "http", "", "status API address, e.g. 127.0.0.1:8080 (default: HAPTICS_HTTP_ADDR)")
	f.BoolVarP(&opts.record, "record", "r", false, "record live sessions")
	f.StringVar(&opts.recordDir, "record-dir", "", "directory for recordings (default: RECORDING_DIR)")
	cli.Execute(cmd)
}

// apply merges flags over the environment configuration.
func (o *options) apply(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	if o.configFile != "" {
		cfg.Devices.File = o.configFile
	}
	if o.listen != "" {
		addr, err := config.NormalizeAddr(o.listen)
		if err != nil {
			return fmt.Errorf("--listen: %w", err)
		}
		cfg.Protocol.Listen = addr
	}
	if f.Changed("insecure") {
		cfg.Protocol.Insecure = o.insecure
	}
	if o.sslCert != "" {
		cfg.Protocol.TLSCert = o.sslCert
	}
	if o.sslKey != "" {
		cfg.Protocol.TLSKey = o.sslKey
	}
	if f.Changed("strict") {
		cfg.Protocol.Strict = o.strict
	}
	if o.httpAddr != "" {
		cfg.HTTP.Addr = o.httpAddr
	}
	if f.Changed("record") {
		cfg.Recording.Enabled = o.record
	}
	if o.recordDir != "" {
		cfg.Recording.Dir = o.recordDir
	}
	return nil
}

func run(cmd *cobra.Command, opts *options) error {
	cfg, log, err := opts.Setup()
	if err != nil {
		return err
	}
	defer log.Sync()
	if err := opts.apply(cmd, cfg); err != nil {
		return err
	}

	if opts.writeConfig {
		if err := config.WriteSampleDevices(cfg.Devices.File); err != nil {
			return err
		}
		fmt.Println(cli.TitleStyle.Render("Sample configuration written to " + cfg.Devices.File))
		return nil
	}

	ctx, stop := cli.SignalContext()
	defer stop()

	devices, err := config.LoadDevices(cfg.Devices.File)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Warn("device mapping file not found, run with --write-config to create one", zap.String("path", cfg.Devices.File))
	case errors.Is(err, config.ErrNoDevices):
		log.Warn("device mapping file has no outputs", zap.String("path", cfg.Devices.File))
	case err != nil:
		return err
	}
	actuators := receiver.LogActuators(log)
	m := metrics.New()

	rcvOpts := receiver.Options{
		RecordingEnabled: cfg.Recording.Enabled,
		RecordingDir:     cfg.Recording.Dir,
		Metrics:          m,
		Log:              log,
	}

	if cfg.Redis.Addr != "" {
		rdb, err := redis.NewClient(ctx, redis.Options{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			ClientName: "haptic-receiver",
		}, log)
		if err != nil {
			return err
		}
		defer rdb.Close()
		rcvOpts.Events = events.NewRedisPubSub(rdb.Client, log)
		rcvOpts.Archive = queue.NewQueue(rdb.Client, log)
	}

	var history *sessionlog.Repository
	if cfg.Database.URL != "" {
		pool, err := database.NewPostgresPool(ctx, database.Options{
			URL:      cfg.Database.URL,
			MaxConns: cfg.Database.MaxConns,
			AppName:  "haptic-receiver",
		}, log)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		history = sessionlog.NewRepository(pool)
		rcvOpts.Sessions = history
	}

	manager := receiver.NewManager(receiver.MappersFromDevices(devices, actuators, log), rcvOpts)
	defer manager.Close()

	srv := protocol.NewServer(manager, log)
	srv.Strict = cfg.Protocol.Strict
	srv.Metrics = m

	var tlsConf *tls.Config
	if !cfg.Protocol.Insecure {
		tlsConf, err = protocol.LoadServerTLS(cfg.Protocol.TLSCert, cfg.Protocol.TLSKey)
		if err != nil {
			return fmt.Errorf("%w (use --insecure to disable TLS)", err)
		}
	} else {
		log.Warn("TLS disabled, haptics are received in the clear")
	}

	ln, err := net.Listen("tcp", cfg.Protocol.Listen)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx, protocol.NewListener(ln, tlsConf))
	})
	if cfg.HTTP.Addr != "" {
		apiOpts := api.Options{
			Sessions:     manager,
			Protocol:     srv,
			RecordingDir: cfg.Recording.Dir,
			Metrics:      m,
			Log:          log,
		}
		if history != nil {
			apiOpts.History = history
		}
		status := api.New(apiOpts)
		g.Go(func() error { return status.Run(gctx, cfg.HTTP.Addr) })
	}
	if _, err := os.Stat(filepath.Dir(cfg.Devices.File)); err == nil {
		g.Go(func() error {
			return config.WatchDevices(gctx, cfg.Devices.File, func(d *config.Devices) {
				manager.SetMappers(receiver.MappersFromDevices(d, actuators, log))
			}, log)
		})
	}

	log.Info("receiver started",
		zap.String("listen", cfg.Protocol.Listen),
		zap.Bool("tls", tlsConf != nil),
		zap.Bool("recording", cfg.Recording.Enabled),
		zap.String("recording_dir", cfg.Recording.Dir),
	)
	err = cli.Quiet(g.Wait())
	log.Info("receiver stopped")
	return err
}

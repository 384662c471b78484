// Package main plays a session recording back to a receiver.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/digitalcircuit/remote-haptics/config"
	"github.com/digitalcircuit/remote-haptics/internal/cli"
	"github.com/digitalcircuit/remote-haptics/internal/player"
	"github.com/digitalcircuit/remote-haptics/internal/protocol"
	"github.com/digitalcircuit/remote-haptics/internal/recording"
	"github.com/digitalcircuit/remote-haptics/pkg/storage"
)

const statusInterval = time.Second

type options struct {
	cli.Flags
	pause       bool
	noInput     bool
	insecure    bool
	sslCert     string
	downloadDir string
}

func main() {
	var opts options
	cmd := &cobra.Command{
		Use:   "haptic-player <server address> <path/to/file.rec | s3://bucket/key>",
		Short: "Play a haptics session recording to a receiver",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args, &opts)
		},
	}
	opts.Bind(cmd)
	f := cmd.Flags()
	f.BoolVarP(&opts.pause, "pause", "p", false, "start paused, waiting for Enter to begin playback")
	f.BoolVarP(&opts.noInput, "no-input", "n", false, "disable the console status display (non-interactive)")
	f.BoolVarP(&opts.insecure, "insecure", "k", false, "disable TLS encryption")
	f.StringVar(&opts.sslCert, "ssl-cert", "", "TLS public certificate of the server (default: HAPTICS_TLS_CERT)")
	f.StringVar(&opts.downloadDir, "download-dir", "", "directory for recordings fetched from S3 (default: temporary)")
	cli.Execute(cmd)
}

func run(cmd *cobra.Command, args []string, opts *options) error {
	cfg, log, err := opts.Setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	addr, err := cli.ServerAddr(cfg, args[:1])
	if err != nil {
		return err
	}
	insecure := cfg.Protocol.Insecure
	if cmd.Flags().Changed("insecure") {
		insecure = opts.insecure
	}
	certFile := cfg.Protocol.TLSCert
	if opts.sslCert != "" {
		certFile = opts.sslCert
	}
	tlsConf, err := cli.ClientTLS(insecure, certFile, log)
	if err != nil {
		return err
	}

	ctx, stop := cli.SignalContext()
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	path := args[1]
	if strings.HasPrefix(path, storage.URLScheme) {
		var cleanup func()
		if path, cleanup, err = fetch(ctx, cfg.AWS, path, opts.downloadDir, log); err != nil {
			return err
		}
		defer cleanup()
	}

	out := cmd.OutOrStdout()
	var mgr *player.Manager
	printStatus := func() {
		if !opts.noInput && mgr != nil {
			state := "playing"
			if mgr.Paused() {
				state = "paused"
			}
			fmt.Fprintln(out, cli.StatusStyle.Render(fmt.Sprintf("[%s] %s", state, mgr.PositionString())))
		}
	}
	mgr, err = player.NewManager(path, player.Options{
		OnRemark: func(r recording.Remark) {
			fmt.Fprintln(out, cli.RemarkStyle.Render(fmt.Sprintf("%gs: %s", r.Delta, r.Text)))
		},
		OnStatus: printStatus,
		OnExit:   cancel,
		Log:      log,
	})
	if err != nil {
		return err
	}
	defer mgr.Close()

	fmt.Fprintln(out, cli.TitleStyle.Render("Playing "+path)+cli.StatusStyle.Render(" (session start: "+recording.FormatTimestamp(mgr.Start())+")"))
	if opts.pause {
		mgr.Pause()
		fmt.Fprintln(out, cli.StatusStyle.Render("Paused, press Enter to begin playback"))
		go waitForEnter(ctx, cmd.InOrStdin(), mgr.Play)
	}

	client := protocol.NewClient(protocol.SessionPlayback, mgr.Request, log)
	playDone := make(chan error, 1)
	go func() {
		// Playback reaching the end of the recording ends the session.
		playDone <- mgr.Run(ctx)
		cancel()
	}()
	if !opts.noInput {
		go statusLoop(ctx, printStatus)
	}

	err = client.Dial(ctx, addr, tlsConf)
	cancel()
	err = errors.Join(cli.Quiet(err), cli.Quiet(<-playDone))
	log.Info("player stopped", zap.Int64("sent", client.Sent()), zap.String("position", mgr.PositionString()))
	return err
}

// fetch downloads a recording from S3 into dir, or into a new temporary
// directory when dir is empty. cleanup removes the temporary directory.
func fetch(ctx context.Context, aws config.AWSConfig, url, dir string, log *zap.Logger) (path string, cleanup func(), err error) {
	cleanup = func() {}
	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:          aws.Region,
		AccessKeyID:     aws.AccessKeyID,
		SecretAccessKey: aws.SecretAccessKey,
	}, log)
	if err != nil {
		return "", cleanup, err
	}
	if dir == "" {
		if dir, err = os.MkdirTemp("", "haptics-recording-"); err != nil {
			return "", cleanup, fmt.Errorf("create download dir: %w", err)
		}
		tmp := dir
		cleanup = func() { os.RemoveAll(tmp) }
	}
	path, err = s3Client.FetchRecording(ctx, url, dir)
	if err != nil {
		cleanup()
		return "", func() {}, err
	}
	log.Info("recording downloaded", zap.String("url", url), zap.String("path", path))
	return path, cleanup, nil
}

func statusLoop(ctx context.Context, print func()) {
	t := time.NewTicker(statusInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			print()
		}
	}
}

func waitForEnter(ctx context.Context, in io.Reader, play func()) {
	line := make(chan struct{})
	go func() {
		bufio.NewReader(in).ReadString('\n')
		close(line)
	}()
	select {
	case <-ctx.Done():
	case <-line:
		play()
	}
}

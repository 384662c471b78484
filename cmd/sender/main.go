// Package main runs the live haptics sender. Intensities come from standard
// input, an audio level helper, or analog axes of input devices.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/digitalcircuit/remote-haptics/internal/cli"
	"github.com/digitalcircuit/remote-haptics/internal/input"
	"github.com/digitalcircuit/remote-haptics/internal/protocol"
)

const inputStopTimeout = time.Second

type options struct {
	cli.Flags
	insecure     bool
	sslCert      string
	stdin        bool
	audioMode    string
	audioCommand string
	devices      []string
	layout       string
}

func main() {
	var opts options
	cmd := &cobra.Command{
		Use:   "haptic-sender [server address]",
		Short: "Send live haptics to a receiver",
		Long: "Send live haptics to a receiver.\n\n" +
			"The server address is host[:port] or a ws:// or wss:// URL of the receiver's status API.\n" +
			"Without an input flag, comma-separated intensities are read from standard input.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args, &opts)
		},
	}
	opts.Bind(cmd)
	f := cmd.Flags()
	f.BoolVarP(&opts.insecure, "insecure", "k", false, "disable TLS encryption")
	f.StringVar(&opts.sslCert, "ssl-cert", "", "TLS public certificate of the server (default: HAPTICS_TLS_CERT)")
	f.BoolVar(&opts.stdin, "stdin", false, "read comma-separated intensities from standard input")
	f.StringVarP(&opts.audioMode, "audio-mode", "m", "", "send audio levels: 'all', 'bass', 'mid' or 'treble'")
	f.StringVar(&opts.audioCommand, "audio-command", "", "helper printing audio_data: lines, run through the shell")
	f.StringSliceVarP(&opts.devices, "device", "d", nil, "input event device with analog axes (repeatable)")
	f.StringVar(&opts.layout, "layout", "triggers", "axis layout of --device: 'triggers' or 'pedals'")
	cli.Execute(cmd)
}

func run(cmd *cobra.Command, args []string, opts *options) error {
	cfg, log, err := opts.Setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	addr, err := cli.ServerAddr(cfg, args)
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

	sources, closers, err := opts.sources(cmd.InOrStdin(), log)
	// Devices block in read; closing them unblocks their loops.
	closeDevices := sync.OnceFunc(func() {
		for _, c := range closers {
			c.Close()
		}
	})
	defer closeDevices()
	if err != nil {
		return err
	}

	ctx, stop := cli.SignalContext()
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	inputs := input.NewManager(log, sources...)
	client := protocol.NewClient(protocol.SessionLive, inputs.Request, log)

	inputsDone := make(chan error, 1)
	go func() {
		// The session ends with the inputs, e.g. at the end of standard input.
		inputsDone <- inputs.Run(ctx)
		cancel()
	}()

	err = client.Dial(ctx, addr, tlsConf)
	cancel()
	closeDevices()
	select {
	case inErr := <-inputsDone:
		err = errors.Join(cli.Quiet(err), cli.Quiet(inErr))
	case <-time.After(inputStopTimeout):
		// Standard input reads cannot be interrupted.
		log.Debug("input sources still blocked, exiting")
		err = cli.Quiet(err)
	}
	log.Info("sender stopped", zap.Int64("sent", client.Sent()), zap.Stringer("state", client.State()))
	return err
}

// sources builds the configured input sources. The returned closers release
// opened devices.
func (o *options) sources(stdin io.Reader, log *zap.Logger) ([]input.Source, []io.Closer, error) {
	var (
		sources []input.Source
		closers []io.Closer
	)
	order := 0
	if o.audioMode != "" || o.audioCommand != "" {
		mode := o.audioMode
		if mode == "" {
			mode = "bass"
		}
		band, err := input.ParseBand(mode)
		if err != nil {
			return nil, closers, err
		}
		if o.audioCommand == "" {
			return nil, closers, errors.New("--audio-mode needs --audio-command")
		}
		sources = append(sources, input.NewAudioSource(band, []string{"sh", "-c", o.audioCommand}, log))
		order++
	}
	if len(o.devices) > 0 {
		layout, err := input.ParseLayout(o.layout)
		if err != nil {
			return nil, closers, err
		}
		for _, path := range o.devices {
			r, c, err := input.OpenEventDevice(path)
			if err != nil {
				return nil, closers, err
			}
			closers = append(closers, c)
			sources = append(sources, input.NewAxisSource(path, layout, r, order))
			order++
		}
	}
	if o.stdin || len(sources) == 0 {
		if f, ok := stdin.(*os.File); ok && f == os.Stdin {
			fmt.Fprintln(os.Stderr, cli.StatusStyle.Render("Reading intensities from standard input, e.g. 0.5,0.9"))
		}
		sources = append(sources, input.NewLineSource(stdin, order, log))
	}
	return sources, closers, nil
}

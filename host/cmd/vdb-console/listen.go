package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"vdblink/config"
	"vdblink/host/console"
	"vdblink/host/recorder"
	"vdblink/host/serial"
	"vdblink/protocol"
)

func newListenCmd() *cobra.Command {
	var (
		device   string
		baud     int
		httpAddr string
		record   bool
	)

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Answer an originator on a serial port",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := *cfg
			if cmd.Flags().Changed("device") {
				c.Serial.Device = device
			}
			if cmd.Flags().Changed("baud") {
				c.Serial.Baud = baud
			}
			if cmd.Flags().Changed("http") {
				c.HTTP.Addr = httpAddr
				c.HTTP.Enabled = httpAddr != ""
			}
			if cmd.Flags().Changed("record") {
				c.Recorder.Enabled = record
			}

			ctx, stop := interruptContext(cmd.Context())
			defer stop()
			return listen(ctx, cmd, &c)
		},
	}

	cmd.Flags().StringVarP(&device, "device", "d", "", "serial device path")
	cmd.Flags().IntVarP(&baud, "baud", "b", 0, "baud rate")
	cmd.Flags().StringVar(&httpAddr, "http", "", "HTTP API listen address (empty disables)")
	cmd.Flags().BoolVar(&record, "record", false, "record received values")

	return cmd
}

func listen(ctx context.Context, cmd *cobra.Command, c *config.Config) error {
	port, err := serial.Open(c.SerialConfig())
	if err != nil {
		return err
	}
	raw := serial.NewRawPort(port, c.Serial.BufferSize)
	if err := raw.Flush(); err != nil {
		log.Warn().Str("component", "serial").Err(err).Msg("unable to discard stale input")
	}
	transport := protocol.NewFramedTransport(raw, c.TransportConfig())

	fmt.Fprintf(cmd.OutOrStdout(), "vdblink %s listening on %s @ %d baud\n", protocol.Version, c.Serial.Device, c.Serial.Baud)

	return serve(ctx, cmd, c, transport, c.Serial.Device)
}

// serve runs a console session on dev until ctx is done or a framed
// transport loses its link
func serve(ctx context.Context, cmd *cobra.Command, c *config.Config, dev protocol.Device, source string) error {
	var store *recorder.Store
	if c.Recorder.Enabled {
		var err error
		if store, err = recorder.Open(c.Recorder.Path); err != nil {
			return err
		}
		defer store.Close()
	}

	session, err := console.NewSession(dev, console.Options{
		Out:    cmd.OutOrStdout(),
		Store:  store,
		Source: source,
	})
	if err != nil {
		return err
	}
	defer session.Close()

	if c.HTTP.Enabled {
		srv := &http.Server{
			Addr:              c.HTTP.Addr,
			Handler:           console.NewRouter(session),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info().Str("component", "console").Str("addr", c.HTTP.Addr).Msg("http api listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Str("component", "console").Err(err).Msg("http api stopped")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	var failed <-chan struct{}
	transport, framed := dev.(*protocol.FramedTransport)
	if framed {
		failed = transport.Failed()
	}

	select {
	case <-ctx.Done():
		log.Info().Str("component", "console").Msg("shutting down")
		return nil
	case <-failed:
		return fmt.Errorf("link to %s lost: %w", source, transport.Err())
	}
}

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"vdblink/host/serial"
	"vdblink/protocol"
	"vdblink/registry"
)

func newSimulateCmd() *cobra.Command {
	var (
		device   string
		loopback bool
		interval time.Duration
		count    int
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Act as a device announcing demo channels",
		Long: `simulate runs an originator with motor, odometry, PID and heartbeat
channels. With --loopback it talks to an in-process console session
instead of a serial port.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := *cfg
			if cmd.Flags().Changed("device") {
				c.Serial.Device = device
			}

			ctx, stop := interruptContext(cmd.Context())
			defer stop()

			var dev *protocol.FramedTransport
			if loopback {
				a, b := protocol.NewMemLink(4096)
				dev = protocol.NewFramedTransport(a, c.TransportConfig())
				peer := protocol.NewFramedTransport(b, c.TransportConfig())

				served := make(chan error, 1)
				go func() { served <- serve(ctx, cmd, &c, peer, "loopback") }()
				defer func() {
					stop()
					if err := <-served; err != nil {
						log.Error().Err(err).Msg("loopback console failed")
					}
				}()
			} else {
				port, err := serial.Open(c.SerialConfig())
				if err != nil {
					return err
				}
				dev = protocol.NewFramedTransport(serial.NewRawPort(port, c.Serial.BufferSize), c.TransportConfig())
				fmt.Fprintf(cmd.OutOrStdout(), "simulating on %s @ %d baud\n", c.Serial.Device, c.Serial.Baud)
			}
			defer dev.Close()

			return simulate(ctx, dev, c.OriginatorOptions(), interval, count)
		},
	}

	cmd.Flags().StringVarP(&device, "device", "d", "", "serial device path")
	cmd.Flags().BoolVar(&loopback, "loopback", false, "run against an in-process console")
	cmd.Flags().DurationVar(&interval, "interval", 100*time.Millisecond, "time between sends per channel")
	cmd.Flags().IntVar(&count, "count", 0, "stop after this many rounds (0 runs until interrupted)")

	return cmd
}

func simulate(ctx context.Context, dev protocol.Device, opts []registry.Option, interval time.Duration, count int) error {
	robot := newSimRobot()
	o := registry.NewOriginator(dev, opts...)

	var ids []protocol.ChannelID
	for _, part := range robot.channels() {
		id, err := o.OpenChannel(part)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}

	if !o.NegotiateContext(ctx) {
		if ctx.Err() != nil {
			return nil
		}
		log.Warn().Msg("not every channel was acknowledged; continuing with the rest")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for round := 1; count == 0 || round <= count; round++ {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		robot.step()
		for _, id := range ids {
			if !o.SendData(id) {
				log.Debug().Uint8("channel", uint8(id)).Msg("send skipped")
			}
		}
	}

	log.Info().Int("rounds", count).Uint64("bad", o.NumBad()).Uint64("small", o.NumSmall()).Msg("simulation finished")
	return nil
}

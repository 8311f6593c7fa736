package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"vdblink/host/console"
	"vdblink/host/recorder"
	"vdblink/protocol"
	"vdblink/registry"
)

func newDumpCmd() *cobra.Command {
	var (
		path    string
		session string
	)

	cmd := &cobra.Command{
		Use:   "dump [channel]",
		Short: "Print recorded sessions or samples",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				path = cfg.Recorder.Path
			}
			store, err := recorder.Open(path)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()

			if session == "" {
				sessions, err := store.Sessions()
				if err != nil {
					return err
				}
				for _, s := range sessions {
					fmt.Fprintf(out, "%s  %s  %s\n", s.ID, s.Started.Format("2006-01-02 15:04:05"), s.Source)
				}
				return nil
			}

			var channels []protocol.ChannelID
			if len(args) == 1 {
				id, err := strconv.ParseUint(args[0], 10, 8)
				if err != nil {
					return fmt.Errorf("channel must be 0-255: %w", err)
				}
				channels = []protocol.ChannelID{protocol.ChannelID(id)}
			} else if channels, err = store.Channels(session); err != nil {
				return err
			}

			for _, id := range channels {
				schema, err := store.Schema(session, id)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, console.RenderSchema(registry.Channel{ID: id, Data: schema}))

				err = store.Samples(session, id, func(s recorder.Sample) error {
					fmt.Fprintf(out, "%s  %s\n", s.Time().Format("15:04:05"),
						console.RenderValue(registry.Channel{ID: id, Data: s.Data}))
					return nil
				})
				if err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "db", "", "recorder database directory (defaults to recorder.path)")
	cmd.Flags().StringVarP(&session, "session", "s", "", "session id; lists sessions when empty")

	return cmd
}

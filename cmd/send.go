package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hariohmprasath/events-streamlined-with-dedups/internal/config"
	"github.com/hariohmprasath/events-streamlined-with-dedups/internal/pipeline"
)

func newSendCmd() *cobra.Command {
	var partitionKey string

	cmd := &cobra.Command{
		Use:       "send [queue|stream] <payload>",
		Short:     "Publish one payload to the JetStream-backed queue or stream",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{string(pipeline.KindQueue), string(pipeline.KindStream)},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			payload := []byte(args[1])

			c := &components{}
			defer c.close()

			switch pipeline.SourceKind(args[0]) {
			case pipeline.KindQueue:
				if cfg.Queue.Backend != config.BackendJetStream {
					return errors.New("send needs queue.backend=jetstream; use POST /queue/messages on a running service instead")
				}
				q, err := c.buildQueue(ctx)
				if err != nil {
					return err
				}
				id, err := q.Send(ctx, payload)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "message_id=%s\n", id)
			case pipeline.KindStream:
				if cfg.Stream.Backend != config.BackendJetStream {
					return errors.New("send needs stream.backend=jetstream; use POST /stream/records on a running service instead")
				}
				s, err := c.buildStream(ctx)
				if err != nil {
					return err
				}
				key := partitionKey
				if key == "" {
					key = args[1]
				}
				partition, seq, err := s.Put(ctx, key, payload)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "partition=%s sequence_number=%d\n", partition, seq)
			default:
				return fmt.Errorf("unknown source %q", args[0])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&partitionKey, "partition-key", "", "stream partition key (defaults to the payload)")
	return cmd
}

package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"

	"github.com/spf13/cobra"

	"github.com/pribylovaa/go-marketplace-client/internal/models"
	"github.com/pribylovaa/go-marketplace-client/internal/realtime"
)

func (a *app) chatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Realtime chat and notifications",
	}

	cmd.AddCommand(a.chatListenCmd(), a.chatSendCmd())

	return cmd
}

func (a *app) realtimeClient() *realtime.Client {
	return realtime.New(realtime.Options{
		URL:         a.cfg.Realtime.URL,
		BaseDelay:   a.cfg.Realtime.BaseDelay,
		MaxAttempts: a.cfg.Realtime.MaxAttempts,
		Logger:      a.log,
		Metrics:     a.metrics,
		TokenSource: a.client.AccessToken,
	})
}

func (a *app) chatListenCmd() *cobra.Command {
	var types []string

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Print incoming messages until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			token, err := a.client.AccessToken(ctx)
			if err != nil {
				return err
			}
			if token == "" {
				return fmt.Errorf("not logged in: run `marketctl login`")
			}

			if a.cfg.Metrics.Enabled {
				ln, err := net.Listen("tcp", a.cfg.Metrics.Addr())
				if err != nil {
					return fmt.Errorf("metrics listen: %w", err)
				}
				defer a.serveMetrics(ln)()
			}

			rt := a.realtimeClient()
			out := cmd.OutOrStdout()

			show := func(m realtime.Message) {
				_ = printJSON(out, models.Envelope{Type: string(m.Type), Payload: m.Payload})
			}
			if len(types) == 0 {
				rt.On(realtime.AnyMessage, show)
			}
			for _, t := range types {
				rt.On(realtime.MessageType(t), show)
			}
			rt.OnDisconnect(func(err error) {
				if err != nil {
					a.log.Warn("chat_connection_lost", slog.String("err", err.Error()))
				}
			})

			if err := rt.Connect(ctx, token); err != nil {
				return err
			}
			defer func() { _ = rt.Disconnect() }()

			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&types, "type", "t", nil, "message types to print (default: all)")

	return cmd
}

func (a *app) chatSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <type> <json>",
		Short: "Send one message envelope",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if !json.Valid([]byte(args[1])) {
				return fmt.Errorf("payload is not valid JSON")
			}

			token, err := a.client.AccessToken(ctx)
			if err != nil {
				return err
			}

			rt := a.realtimeClient()
			if err := rt.Connect(ctx, token); err != nil {
				return err
			}
			defer func() { _ = rt.Disconnect() }()

			return rt.Send(realtime.MessageType(args[0]), json.RawMessage(args[1]))
		},
	}
}

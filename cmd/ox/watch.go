package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/onix/internal/events"
	"github.com/alfredjeanlab/onix/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:   "watch [topic...]",
	Short: "Stream change events as they happen",
	Long: `Stream change events from onix until interrupted.

Topics are NATS-style patterns such as onix.item.* or onix.>. With a NATS
URL (--nats, ONIX_NATS_URL or the active remote) events are read straight
from the broker; otherwise they are streamed from the server over SSE.`,
	GroupID: "graph",
	RunE: func(cmd *cobra.Command, args []string) error {
		topics := args
		if len(topics) == 0 {
			topics = []string{events.TopicAll}
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		out := cmd.OutOrStdout()
		emit := func(m events.Message) error { return printEvent(out, m) }

		natsURL, _ := cmd.Flags().GetString("nats")
		if natsURL != "" {
			return watchNATS(ctx, natsURL, topics, emit)
		}
		since, _ := cmd.Flags().GetString("since")
		return watchSSE(ctx, topics, since, emit)
	},
}

// watchNATS subscribes to every topic on one connection and fans the
// messages into fn.
func watchNATS(ctx context.Context, natsURL string, topics []string, fn func(events.Message) error) error {
	sub, err := events.NewNATSSubscriber(natsURL,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats: disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("nats: reconnected")
		}),
	)
	if err != nil {
		return fmt.Errorf("connecting to NATS: %w", err)
	}
	defer sub.Close()

	merged := make(chan events.Message, 64)
	for _, topic := range topics {
		ch, cancel, err := sub.Subscribe(topic)
		if err != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
		defer cancel()
		go func() {
			for m := range ch {
				select {
				case merged <- m:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-merged:
			if err := fn(m); err != nil {
				return err
			}
		}
	}
}

// watchSSE follows the server's event stream, reconnecting with the last
// seen event ID when the connection drops.
func watchSSE(ctx context.Context, topics []string, lastID string, fn func(events.Message) error) error {
	backoff := time.Second
	for {
		err := oxClient.StreamEvents(ctx, topics, lastID, func(m events.Message) error {
			backoff = time.Second
			if m.ID != "" {
				lastID = m.ID
			}
			return fn(m)
		})
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			slog.Warn("event stream interrupted", "error", err, "retry_in", backoff)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 30*time.Second)
	}
}

// printEvent writes one line per event: time, topic, and the entity it
// names. With --json the topic and raw payload are written instead.
func printEvent(w io.Writer, m events.Message) error {
	if jsonOutput {
		return json.NewEncoder(w).Encode(map[string]any{"topic": m.Topic, "data": json.RawMessage(m.Data)})
	}
	var payload struct {
		Record *struct {
			EntityKey string `json:"entity_key"`
			ChangedBy string `json:"changed_by"`
		} `json:"record"`
		Key       string `json:"key"`
		ChangedBy string `json:"changed_by"`
	}
	_ = json.Unmarshal(m.Data, &payload)

	subject, by := payload.Key, payload.ChangedBy
	if payload.Record != nil {
		subject, by = payload.Record.EntityKey, payload.Record.ChangedBy
	}
	line := fmt.Sprintf("%s  %-24s %s", ui.RenderMuted(time.Now().Format("15:04:05")), ui.RenderAccent(m.Topic), subject)
	if by != "" {
		line += ui.RenderMuted("  by " + by)
	}
	_, err := fmt.Fprintln(w, line)
	return err
}

func init() {
	watchCmd.Flags().String("nats", defaultNATSURL(), "NATS URL to read events from instead of the server stream")
	watchCmd.Flags().String("since", "", "resume the server stream after this event ID")
}

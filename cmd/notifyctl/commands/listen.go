package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"notify-realtime/internal/auth"
	"notify-realtime/internal/realtime"
	"notify-realtime/internal/websocket"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	listenUserID int64
	listenToken  string
	listenLocale string
	listenAll    bool
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Subscribe to a user's private channel and print what arrives",
	Long: `Connect to the broker, subscribe to private-user.<id> and print every
new-notification event until interrupted. Without --token a token is minted
from NOTIFY_JWT_SECRET.

Examples:
  notifyctl listen --user 42
  notifyctl listen --user 42 --token "$JWT" --locale fr
  notifyctl listen --user 42 --all      # print every event, not just notifications`,
	RunE: runListen,
}

func init() {
	listenCmd.Flags().Int64Var(&listenUserID, "user", 0, "User whose channel to follow")
	listenCmd.Flags().StringVar(&listenToken, "token", "", "Bearer token for the authorization endpoint")
	listenCmd.Flags().StringVar(&listenLocale, "locale", "en", "Locale sent with authorization requests")
	listenCmd.Flags().BoolVar(&listenAll, "all", false, "Print every transport event")
	listenCmd.MarkFlagRequired("user")
}

func runListen(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	token := listenToken
	if token == "" {
		token, err = auth.IssueToken(cfg.JWT.Secret, listenUserID, cfg.JWT.ExpirationTime)
		if err != nil {
			return fmt.Errorf("failed to sign token: %w", err)
		}
	}

	tc := realtime.ResolveTransportConfig(cfg.Realtime, logger)
	session := realtime.NewSession(tc,
		realtime.WithLogger(logger),
		realtime.WithFactory(realtime.NewPusherFactory(websocket.Options{
			ActivityTimeout: cfg.Realtime.ActivityTimeout,
			PongTimeout:     cfg.Realtime.PongTimeout,
			Logger:          logger,
		})),
	)
	defer session.Close()

	out := cmd.OutOrStdout()
	session.Observe(func(ev realtime.Event) { printSessionEvent(out, ev) })

	ch, err := session.SubscribePrivateUserChannel(listenUserID, token, listenLocale)
	if err != nil {
		return err
	}
	ch.Bind("new-notification", func(ev websocket.Event) {
		fmt.Fprintf(out, "%s %s\n", color.New(color.FgGreen, color.Bold).Sprint("notification ›"), indent(ev.Data))
	})

	if listenAll {
		all := websocket.NewListener(func(ev websocket.Event) {
			fmt.Fprintln(out, color.New(color.FgHiBlack).Sprintf("[event] %s %s %s", ev.Name, ev.Channel, ev.Data))
		})
		session.BindGlobal(all)
		defer session.UnbindGlobal(all)
	}

	fmt.Fprintln(os.Stderr, color.New(color.FgHiBlack).Sprintf("Listening on %s, Ctrl-C to stop", ch.Name()))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	return nil
}

func printSessionEvent(w io.Writer, ev realtime.Event) {
	switch ev.Kind {
	case realtime.EventSubscriptionSucceeded:
		fmt.Fprintln(w, color.New(color.FgCyan).Sprintf("subscribed to %s", ev.Channel))
	case realtime.EventSubscriptionError:
		fmt.Fprintln(w, color.New(color.FgRed).Sprintf("subscription failed: %v", ev.Err))
	case realtime.EventConfig:
		fmt.Fprintln(w, color.New(color.FgRed).Sprintf("configuration: %v", ev.Err))
	case realtime.EventTransport:
		fmt.Fprintln(w, color.New(color.FgYellow).Sprintf("connection error: %v", ev.Err))
	case realtime.EventLifecycle:
		if ev.Name != websocket.EventStateChange {
			fmt.Fprintln(w, color.New(color.FgHiBlack).Sprintf("connection %s", ev.Name))
		}
	}
}

func indent(data json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return string(data)
	}
	return buf.String()
}

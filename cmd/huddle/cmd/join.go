package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/huddle-rtc/huddle/internal/client"
	"github.com/huddle-rtc/huddle/internal/config"
	"github.com/huddle-rtc/huddle/internal/events"
	"github.com/huddle-rtc/huddle/internal/media"
	"github.com/huddle-rtc/huddle/internal/ui"
)

var (
	flagServer    string
	flagRoom      string
	flagUser      string
	flagName      string
	flagProduce   []string
	flagPlain     bool
	flagReconnect bool
)

var joinCmd = &cobra.Command{
	Use:     "join",
	Aliases: []string{"j"},
	Short:   "Join a room",
	Long: `Join a room on the signaling server and stay in the call until you quit.

Examples:
  huddle join --room standup
  huddle join --room standup --user alice --produce audio,video
  huddle join --room standup --server ws://calls.example.com/ws --reconnect`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return joinRoom()
	},
}

func joinRoom() error {
	userID := flagUser
	if userID == "" {
		userID = "user-" + uuid.NewString()[:8]
	}

	cfg, err := config.LoadClient(config.Options{
		ServerURL:     flagServer,
		AutoReconnect: flagReconnect,
	})
	if err != nil {
		return err
	}

	kinds, err := parseProduceKinds(flagProduce)
	if err != nil {
		return err
	}

	sess, err := client.NewSession(cfg, &client.WebSocketDialer{URL: cfg.ServerURL}, slog.Default())
	if err != nil {
		return err
	}
	defer sess.Close()

	stopSpinner := ui.RunConnectionSpinner("Connecting to " + cfg.ServerURL + "...")
	defer stopSpinner()
	if err := sess.Join(context.Background(), flagRoom, userID, flagName); err != nil {
		return err
	}
	stopSpinner()

	ui.PrintSuccessf("Joined room %s as %s", flagRoom, userID)

	for _, kind := range kinds {
		codec := media.DefaultAudioCodec()
		if kind == media.KindVideo {
			codec = media.DefaultVideoCodec()
		}
		if _, err := sess.Produce(context.Background(), kind, codec); err != nil {
			sess.Leave()
			return fmt.Errorf("publish %s: %w", kind, err)
		}
		ui.PrintInfof("Publishing %s", kind)
	}

	if flagPlain {
		err = watchPlain(sess)
	} else {
		err = ui.NewRoomView(sess, flagRoom, userID).Run()
	}

	sess.Leave()
	ui.PrintInfo("Left room " + flagRoom)
	return err
}

// watchPlain prints session events line by line, for logs and non-TTY use.
func watchPlain(sess *client.Session) error {
	eventCh, cancel := sess.Events()
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)

	for {
		select {
		case <-sig:
			return nil
		case e, ok := <-eventCh:
			if !ok {
				return nil
			}
			printEvent(e)
		}
	}
}

func printEvent(e events.Event) {
	switch p := e.Payload.(type) {
	case events.ConnectionStatusPayload:
		fmt.Printf("status: %s -> %s\n", p.Old, p.New)
	case events.ParticipantPayload:
		if e.Type == events.TypeParticipantJoined {
			fmt.Printf("participant joined: %s\n", p.UserID)
		} else {
			fmt.Printf("participant left: %s\n", p.UserID)
		}
	case events.ProducerPayload:
		if e.Type == events.TypeNewProducer {
			fmt.Printf("new %s producer from %s: %s\n", p.Kind, p.UserID, p.ProducerID)
		} else {
			fmt.Printf("producer closed: %s\n", p.ProducerID)
		}
	case events.ConsumerPayload:
		if e.Type == events.TypeNewConsumer {
			fmt.Printf("receiving %s from %s (consumer %s)\n", p.Kind, p.UserID, p.ConsumerID)
		} else {
			fmt.Printf("stopped receiving from %s (consumer %s)\n", p.UserID, p.ConsumerID)
		}
	case events.ErrorPayload:
		fmt.Printf("error: %v\n", p.Err)
	}
}

func parseProduceKinds(raw []string) ([]media.Kind, error) {
	var kinds []media.Kind
	for _, item := range raw {
		for _, part := range strings.Split(item, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			kind := media.Kind(part)
			if !kind.Valid() {
				return nil, fmt.Errorf("unknown media kind %q (want audio or video)", part)
			}
			kinds = append(kinds, kind)
		}
	}
	return kinds, nil
}

func init() {
	joinCmd.Flags().StringVarP(&flagServer, "server", "s", "", "signaling server URL (ws://...)")
	joinCmd.Flags().StringVarP(&flagRoom, "room", "r", "", "room to join (required)")
	joinCmd.Flags().StringVarP(&flagUser, "user", "u", "", "user id (random when omitted)")
	joinCmd.Flags().StringVarP(&flagName, "name", "n", "", "display name")
	joinCmd.Flags().StringSliceVarP(&flagProduce, "produce", "p", nil, "media kinds to publish (audio,video)")
	joinCmd.Flags().BoolVar(&flagPlain, "plain", false, "print events instead of the live view")
	joinCmd.Flags().BoolVar(&flagReconnect, "reconnect", false, "reconnect automatically when the connection drops")
	joinCmd.MarkFlagRequired("room")

	rootCmd.AddCommand(joinCmd)
}

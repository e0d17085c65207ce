package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/goflock/internal/app"
	"github.com/nextlevelbuilder/goflock/internal/bus"
	"github.com/nextlevelbuilder/goflock/internal/fault"
	"github.com/nextlevelbuilder/goflock/internal/store"
)

func agentCmd() *cobra.Command {
	var (
		roomID     string
		message    string
		session    string
		noMarkdown bool
		showLogs   bool
	)

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Send one message to the team and print the reply",
		RunE: func(cmd *cobra.Command, args []string) error {
			if message == "" {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return err
				}
				message = strings.TrimSpace(string(data))
			}
			if message == "" {
				return fault.New(fault.KindInputValidation, "no message: pass -m or pipe stdin")
			}
			return runAgent(roomID, message, session, noMarkdown, showLogs)
		},
	}
	cmd.Flags().StringVar(&roomID, "room", "", "room to speak in")
	cmd.Flags().StringVarP(&message, "message", "m", "", "message text")
	cmd.Flags().StringVarP(&session, "session", "s", "default", "session id")
	cmd.Flags().BoolVar(&noMarkdown, "no-markdown", false, "strip markdown from the reply")
	cmd.Flags().BoolVar(&showLogs, "logs", false, "print the work log for this exchange")
	return cmd
}

func runAgent(roomID, message, session string, noMarkdown, showLogs bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Stores.Close()

	env := bus.Envelope{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Kind:      bus.KindInbound,
		Channel:   "cli",
		ChatID:    session,
		SenderID:  "user",
		Timestamp: time.Now(),
		Content:   bus.Content{Text: message},
	}

	var room *store.Room
	if roomID != "" {
		room, err = a.Stores.Rooms.Get(roomID)
		if err != nil {
			return err
		}
		env.Metadata = map[string]string{"room": roomID}
	}

	decision := a.Dispatcher.Dispatch(message, room, room == nil, "")
	loop, ok := a.Loops[decision.PrimaryBot]
	if !ok {
		loop = a.Loops[cfg.Bots.Leader]
	}

	reply, err := loop.ProcessMessage(ctx, env, room)
	if err != nil {
		return err
	}

	text := reply.Text
	if noMarkdown {
		text = stripMarkdown(text)
	}
	fmt.Println(text)

	// Delegations are fire-and-forget; wait for them so a one-shot
	// invocation still shows specialist results.
	a.Invoker.Wait()
	for a.Bus.Len(bus.KindSystem) > 0 {
		sysEnv, err := a.Bus.Next(ctx, bus.KindSystem)
		if err != nil {
			break
		}
		if sysEnv.Metadata["event"] == "invocation_complete" {
			fmt.Printf("\n[@%s] %s\n", sysEnv.Metadata["bot"], sysEnv.Content.Text)
		}
		a.Bus.Ack(bus.KindSystem, sysEnv.ID)
	}

	if showLogs {
		printRecentLogs(a, roomID)
	}
	return nil
}

func printRecentLogs(a *app.App, roomID string) {
	logs, err := a.WorkLog.GetAllLogs(1, roomID)
	if err != nil || len(logs) == 0 {
		return
	}
	_, entries, err := a.WorkLog.GetLog(logs[0].ID)
	if err != nil {
		return
	}
	fmt.Println("\n--- work log ---")
	for _, e := range entries {
		fmt.Printf("%2d [%s/%s] %s\n", e.StepNo, e.BotName, e.Level, e.Message)
	}
}

func stripMarkdown(s string) string {
	r := strings.NewReplacer("**", "", "__", "", "`", "")
	return r.Replace(s)
}

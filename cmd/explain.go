package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/goflock/internal/fault"
	"github.com/nextlevelbuilder/goflock/internal/store"
	"github.com/nextlevelbuilder/goflock/internal/worklog"
)

func explainCmd() *cobra.Command {
	var (
		roomID    string
		sessionID string
		mode      string
		bot       string
	)

	cmd := &cobra.Command{
		Use:   "explain",
		Short: "Explain what the team did and why",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch mode {
			case "summary", "detailed", "debug", "coordination", "conversations":
			default:
				return fault.New(fault.KindInputValidation, "unknown mode %q", mode)
			}
			return runExplain(roomID, sessionID, mode, strings.TrimPrefix(bot, "@"))
		},
	}
	cmd.Flags().StringVar(&roomID, "room", "", "restrict to one room")
	cmd.Flags().StringVar(&sessionID, "session", "", "explain one work log session")
	cmd.Flags().StringVar(&mode, "mode", "summary", "summary|detailed|debug|coordination|conversations")
	cmd.Flags().StringVar(&bot, "bot", "", "restrict to one bot (@name)")
	return cmd
}

func runExplain(roomID, sessionID, mode, bot string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	stores, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer stores.Close()
	wl := worklog.NewService(stores.WorkLog, newLogger(cfg))

	if sessionID != "" {
		sess, entries, err := wl.GetLog(sessionID)
		if err != nil {
			return err
		}
		printSession(*sess, entries, mode, bot)
		return nil
	}

	logs, err := wl.GetAllLogs(10, roomID)
	if err != nil {
		return err
	}
	if len(logs) == 0 {
		fmt.Println("No work log sessions yet.")
		return nil
	}

	if mode == "conversations" || mode == "summary" {
		for _, s := range logs {
			line := fmt.Sprintf("%s  %s  %s", s.StartedAt.Format("2006-01-02 15:04"), s.ID, firstLine(s.Query))
			if s.RoomID != "" {
				line += "  (room " + s.RoomID + ")"
			}
			fmt.Println(line)
			if mode == "summary" && s.FinalOutput != "" {
				fmt.Println("    → " + firstLine(s.FinalOutput))
			}
		}
		return nil
	}

	_, entries, err := wl.GetLog(logs[0].ID)
	if err != nil {
		return err
	}
	printSession(logs[0], entries, mode, bot)
	return nil
}

func printSession(sess store.LogSession, entries []store.LogEntry, mode, bot string) {
	fmt.Printf("Session %s: %s\n", sess.ID, firstLine(sess.Query))
	for _, e := range entries {
		if bot != "" && !strings.EqualFold(e.BotName, bot) {
			continue
		}
		if mode == "coordination" {
			switch e.Level {
			case worklog.LevelHandoff, worklog.LevelCoordination, worklog.LevelDecision:
			default:
				continue
			}
		}
		fmt.Printf("%3d [%s/%s/%s] %s\n", e.StepNo, e.BotName, e.Level, e.Category, e.Message)
		if mode == "debug" {
			if e.Extras.ToolName != "" {
				fmt.Printf("      tool=%s status=%s duration=%dms\n", e.Extras.ToolName, e.Extras.ToolStatus, e.Extras.DurationMS)
			}
			if e.Extras.Confidence > 0 {
				fmt.Printf("      confidence=%.2f\n", e.Extras.Confidence)
			}
		}
	}
	if sess.FinalOutput != "" {
		fmt.Println("Final: " + firstLine(sess.FinalOutput))
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:120] + "…"
	}
	return s
}

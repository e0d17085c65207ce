package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/goflock/internal/worklog"
)

func howCmd() *cobra.Command {
	var roomID string

	cmd := &cobra.Command{
		Use:   "how <query>",
		Short: "Answer \"how did the team do X\" from the work log",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHow(strings.Join(args, " "), roomID)
		},
	}
	cmd.Flags().StringVar(&roomID, "room", "", "restrict to one room")
	return cmd
}

func runHow(query, roomID string) error {
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

	entries, err := wl.Search(query, roomID, "", 30)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Printf("Nothing in the work log matches %q.\n", query)
		return nil
	}

	// Group by session so the answer reads as one story per task.
	bySession := map[string]int{}
	var order []string
	for _, e := range entries {
		if _, seen := bySession[e.SessionID]; !seen {
			order = append(order, e.SessionID)
		}
		bySession[e.SessionID]++
	}

	for _, sid := range order {
		sess, all, err := wl.GetLog(sid)
		if err != nil {
			continue
		}
		fmt.Printf("%s  %s\n", sess.StartedAt.Format("2006-01-02 15:04"), firstLine(sess.Query))
		for _, e := range all {
			if !strings.Contains(strings.ToLower(e.Message), strings.ToLower(query)) &&
				e.Level != worklog.LevelDecision && e.Level != worklog.LevelTool {
				continue
			}
			fmt.Printf("  %s (%s): %s\n", e.BotName, e.Level, firstLine(e.Message))
		}
		fmt.Println()
	}
	return nil
}

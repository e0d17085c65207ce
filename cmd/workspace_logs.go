package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/goflock/internal/worklog"
)

func workspaceLogsCmd() *cobra.Command {
	var (
		roomID string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "workspace-logs",
		Short: "List recent work log sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkspaceLogs(roomID, limit)
		},
	}
	cmd.Flags().StringVar(&roomID, "room", "", "restrict to one room")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum sessions to show")
	return cmd
}

func runWorkspaceLogs(roomID string, limit int) error {
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

	logs, err := wl.GetAllLogs(limit, roomID)
	if err != nil {
		return err
	}
	if len(logs) == 0 {
		fmt.Println("No work log sessions yet.")
		return nil
	}
	for _, s := range logs {
		status := "open"
		if !s.EndedAt.IsZero() {
			status = s.EndedAt.Sub(s.StartedAt).Truncate(1e9).String()
		}
		room := s.RoomID
		if room == "" {
			room = "-"
		}
		fmt.Printf("%s  %-10s %-8s %s\n", s.StartedAt.Format("2006-01-02 15:04"), room, status, firstLine(s.Query))
	}
	return nil
}

package cmd

import (
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/goflock/internal/fault"
	"github.com/nextlevelbuilder/goflock/internal/store"
)

func cronCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Manage scheduled messages",
	}
	cmd.AddCommand(cronAddCmd())
	cmd.AddCommand(cronListCmd())
	return cmd
}

func cronAddCmd() *cobra.Command {
	var (
		name    string
		expr    string
		tz      string
		message string
		roomID  string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Schedule a recurring message",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" || expr == "" || message == "" {
				return fault.New(fault.KindInputValidation, "--name, --cron, and --message are required")
			}
			if !gronx.New().IsValid(expr) {
				return fault.New(fault.KindInputValidation, "invalid cron expression %q", expr)
			}
			if tz != "" {
				if _, err := time.LoadLocation(tz); err != nil {
					return fault.New(fault.KindInputValidation, "unknown timezone %q", tz)
				}
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			stores, err := openStores(cfg)
			if err != nil {
				return err
			}
			defer stores.Close()

			id, err := stores.Cron.Add(store.CronJob{
				Name:    name,
				Expr:    expr,
				TZ:      tz,
				Message: message,
				RoomID:  roomID,
				Enabled: true,
			})
			if err != nil {
				return err
			}
			fmt.Printf("cron job %s added (%s)\n", name, id)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "unique job name")
	cmd.Flags().StringVar(&expr, "cron", "", "five-field cron expression")
	cmd.Flags().StringVar(&tz, "tz", "", "timezone (default: local)")
	cmd.Flags().StringVar(&message, "message", "", "message injected when the job fires")
	cmd.Flags().StringVar(&roomID, "room", "", "room the message lands in")
	return cmd
}

func cronListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			stores, err := openStores(cfg)
			if err != nil {
				return err
			}
			defer stores.Close()

			jobs, err := stores.Cron.List()
			if err != nil {
				return err
			}
			for _, j := range jobs {
				state := "enabled"
				if !j.Enabled {
					state = "disabled"
				}
				last := "never"
				if !j.LastRunAt.IsZero() {
					last = j.LastRunAt.Format("2006-01-02 15:04")
				}
				fmt.Printf("%-15s %-15s %-8s last=%s  %s\n", j.Name, j.Expr, state, last, firstLine(j.Message))
			}
			return nil
		},
	}
}

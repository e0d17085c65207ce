package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/goflock/internal/fault"
	"github.com/nextlevelbuilder/goflock/internal/store"
)

func roomCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "room",
		Short: "Manage rooms",
	}
	cmd.AddCommand(roomCreateCmd())
	cmd.AddCommand(roomListCmd())
	return cmd
}

func roomCreateCmd() *cobra.Command {
	var (
		bots     string
		kind     string
		coordMod bool
	)

	cmd := &cobra.Command{
		Use:   "create <id>",
		Short: "Create a room scoping a subset of bots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch kind {
			case store.RoomOpen, store.RoomProject, store.RoomDirect, store.RoomCoordination:
			default:
				return fault.New(fault.KindInputValidation, "unknown room type %q", kind)
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

			participants := cfg.Bots.All()
			if bots != "" {
				participants = nil
				for _, b := range strings.Split(bots, ",") {
					if b = strings.TrimSpace(b); b != "" {
						participants = append(participants, b)
					}
				}
			}

			room := store.Room{
				ID:              args[0],
				Kind:            kind,
				Participants:    participants,
				Owner:           cfg.Bots.Leader,
				CreatedAt:       time.Now(),
				CoordinatorMode: coordMod,
			}
			if err := stores.Rooms.Create(room); err != nil {
				return err
			}
			fmt.Printf("room %s created (%s) with %s\n", room.ID, room.Kind, strings.Join(participants, ", "))
			return nil
		},
	}
	cmd.Flags().StringVar(&bots, "bots", "", "comma-separated participants (default: whole team)")
	cmd.Flags().StringVar(&kind, "type", store.RoomOpen, "open|project|direct|coordination")
	cmd.Flags().BoolVar(&coordMod, "coordinator", false, "route room traffic through the owner")
	return cmd
}

func roomListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List rooms",
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

			rooms, err := stores.Rooms.List()
			if err != nil {
				return err
			}
			for _, r := range rooms {
				fmt.Printf("%-15s %-13s %s\n", r.ID, r.Kind, strings.Join(r.Participants, ", "))
			}
			return nil
		},
	}
}

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/goflock/internal/compaction"
	"github.com/nextlevelbuilder/goflock/internal/providers"
	"github.com/nextlevelbuilder/goflock/internal/sessions"
)

func sessionCmd() *cobra.Command {
	var sid string

	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect and maintain conversation sessions",
	}
	cmd.PersistentFlags().StringVarP(&sid, "session", "s", "default", "session id")

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show session size and compaction state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return sessionStatus(sid)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "compact",
		Short: "Force a compaction pass now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return sessionCompact(sid)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Clear the session history",
		RunE: func(cmd *cobra.Command, args []string) error {
			return sessionReset(sid)
		},
	})
	return cmd
}

func sessionStatus(sid string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	stores, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	key := sessions.Key(cfg.Bots.Leader, "cli", sid)
	data, err := stores.Sessions.GetOrCreate(key)
	if err != nil {
		return err
	}

	tc := compaction.HeuristicCounter{}
	estimate := compaction.EstimateHistory(tc, data.Messages)
	max := cfg.Memory.EnhancedContext.MaxContextTokens

	fmt.Printf("session      %s\n", key)
	fmt.Printf("messages     %d\n", len(data.Messages))
	fmt.Printf("tokens       ~%d of %d (%.0f%%)\n", estimate, max, 100*float64(estimate)/float64(max))
	fmt.Printf("accumulated  in=%d out=%d\n", data.InputTokens, data.OutputTokens)
	fmt.Printf("compactions  %d\n", data.CompactionCount)
	return nil
}

func sessionCompact(sid string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	stores, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer stores.Close()
	log := newLogger(cfg)

	provider := providers.WithRetry(
		providers.NewAnthropicProvider(cfg.Provider.APIKey,
			providers.WithAnthropicModel(cfg.Provider.Model)),
		providers.DefaultRetryConfig(), log)
	compactor := compaction.NewCompactor(stores.Sessions, provider,
		cfg.Memory.SessionCompaction, cfg.Memory.Emergency, compaction.HeuristicCounter{}, log)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	key := sessions.Key(cfg.Bots.Leader, "cli", sid)
	removed, err := compactor.Compact(ctx, key)
	if err != nil {
		return err
	}
	fmt.Printf("compacted %s: %d messages folded\n", key, removed)
	return nil
}

func sessionReset(sid string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	stores, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	key := sessions.Key(cfg.Bots.Leader, "cli", sid)
	if err := stores.Sessions.Reset(key); err != nil {
		return err
	}
	fmt.Printf("reset %s\n", key)
	return nil
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/goflock/internal/store"
)

func exchangeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exchange",
		Short: "Inspect and approve learning packages",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List packages waiting for distribution",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withExchangeStore(func(e *store.ExchangeStore) error {
					queued, err := e.PendingPackages()
					if err != nil {
						return err
					}
					approved, err := e.ApprovedPackages()
					if err != nil {
						return err
					}
					if len(queued)+len(approved) == 0 {
						fmt.Println("No packages waiting.")
						return nil
					}
					for _, p := range append(approved, queued...) {
						printPackage(p)
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "approve <package-id>",
			Short: "Approve a queued package for the next cycle",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withExchangeStore(func(e *store.ExchangeStore) error {
					if err := e.ApprovePackage(args[0]); err != nil {
						return err
					}
					fmt.Printf("approved %s\n", args[0])
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "history",
			Short: "Show recent packages of any status",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withExchangeStore(func(e *store.ExchangeStore) error {
					pkgs, err := e.History(30)
					if err != nil {
						return err
					}
					for _, p := range pkgs {
						printPackage(p)
					}
					return nil
				})
			},
		},
	)
	return cmd
}

func withExchangeStore(fn func(*store.ExchangeStore) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	stores, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer stores.Close()
	return fn(stores.Exchange)
}

func printPackage(p store.LearningPackage) {
	fmt.Printf("%s  [%s] %s (%s, %.2f, from %s)\n",
		p.ID, p.Status, p.Title, p.Scope, p.Confidence, p.SourceBot)
	if len(p.DistributedTo) > 0 {
		fmt.Printf("    distributed to: %v\n", p.DistributedTo)
	}
}

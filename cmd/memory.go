package cmd

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/goflock/internal/config"
	"github.com/nextlevelbuilder/goflock/internal/fault"
	"github.com/nextlevelbuilder/goflock/internal/memory"
	"github.com/nextlevelbuilder/goflock/internal/store"
)

func memoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect and maintain the shared memory",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "init",
			Short: "Create the memory database",
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
				fmt.Println("memory initialized under", config.ExpandHome(cfg.DataDir))
				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show row counts per memory table",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMemoryStore(func(_ *config.Config, m *store.MemoryStore) error {
					stats, err := m.Stats()
					if err != nil {
						return err
					}
					names := make([]string, 0, len(stats))
					for n := range stats {
						names = append(names, n)
					}
					sort.Strings(names)
					for _, n := range names {
						fmt.Printf("%-15s %d\n", n, stats[n])
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "search <query>",
			Short: "Recall memory for a query",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return memorySearch(strings.Join(args, " "))
			},
		},
		&cobra.Command{
			Use:   "entities",
			Short: "List known entities",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMemoryStore(func(_ *config.Config, m *store.MemoryStore) error {
					ents, err := m.ListEntities(100)
					if err != nil {
						return err
					}
					for _, e := range ents {
						line := fmt.Sprintf("%-30s %s", e.CanonicalName, e.Type)
						if len(e.Aliases) > 0 {
							line += "  (aka " + strings.Join(e.Aliases, ", ") + ")"
						}
						fmt.Println(line)
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "entity <name>",
			Short: "Show one entity with its relations and facts",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return memoryEntity(args[0])
			},
		},
		&cobra.Command{
			Use:   "forget <name>",
			Short: "Delete an entity and its relations",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMemoryStore(func(_ *config.Config, m *store.MemoryStore) error {
					ent, err := m.FindEntityByName(args[0])
					if err != nil {
						return err
					}
					if ent == nil {
						return fault.New(fault.KindNotFound, "entity %q", args[0])
					}
					if err := m.DeleteEntity(ent.ID); err != nil {
						return err
					}
					fmt.Printf("forgot %s\n", ent.CanonicalName)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "doctor",
			Short: "Run the memory integrity pass",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMemoryStore(func(cfg *config.Config, m *store.MemoryStore) error {
					rep, err := m.Doctor(cfg.Memory.EmbeddingDim)
					if err != nil {
						return err
					}
					fmt.Printf("orphan edges        %d\n", rep.OrphanEdges)
					fmt.Printf("bad embedding dims  %d\n", rep.EmbeddingDimErrors)
					fmt.Printf("orphan summaries    %d\n", rep.SummaryOrphans)
					fmt.Printf("pending extraction  %d\n", rep.PendingEvents)
					if rep.OrphanEdges+rep.EmbeddingDimErrors+rep.SummaryOrphans == 0 {
						fmt.Println("memory is healthy")
					}
					return nil
				})
			},
		},
	)
	return cmd
}

func withMemoryStore(fn func(*config.Config, *store.MemoryStore) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	stores, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer stores.Close()
	return fn(cfg, stores.Memory)
}

// memorySearch runs recall with the local embedder only; no provider
// call is needed to read memory.
func memorySearch(query string) error {
	return withMemoryStore(func(cfg *config.Config, m *store.MemoryStore) error {
		svc := memory.NewService(m, memory.NewHashEmbedder(cfg.Memory.EmbeddingDim), nil, nil, cfg.Memory, newLogger(cfg))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		result, err := svc.Recall(ctx, query, "", "", 10)
		if err != nil {
			return err
		}
		text := result.Format()
		if text == "" {
			fmt.Println("Nothing recalled for that query.")
			return nil
		}
		fmt.Println(text)
		return nil
	})
}

func memoryEntity(name string) error {
	return withMemoryStore(func(_ *config.Config, m *store.MemoryStore) error {
		ent, err := m.FindEntityByName(name)
		if err != nil {
			return err
		}
		if ent == nil {
			return fault.New(fault.KindNotFound, "entity %q", name)
		}

		fmt.Printf("%s (%s)\n", ent.CanonicalName, ent.Type)
		if len(ent.Aliases) > 0 {
			fmt.Println("aliases:", strings.Join(ent.Aliases, ", "))
		}
		if !ent.LastSeen.IsZero() {
			fmt.Println("last seen:", ent.LastSeen.Format(time.RFC3339))
		}

		edges, err := m.EdgesForEntity(ent.ID)
		if err != nil {
			return err
		}
		for _, e := range edges {
			subj, obj := e.SubjectEntity, e.ObjectEntity
			if s, err := m.GetEntity(subj); err == nil && s != nil {
				subj = s.CanonicalName
			}
			if o, err := m.GetEntity(obj); err == nil && o != nil {
				obj = o.CanonicalName
			}
			fmt.Printf("  %s %s %s (%.2f)\n", subj, e.Predicate, obj, e.Confidence)
		}

		facts, err := m.FactsForSubjects([]string{ent.CanonicalName})
		if err != nil {
			return err
		}
		for _, f := range facts {
			fmt.Printf("  %s %s %s\n", f.Subject, f.Predicate, f.Object)
		}
		return nil
	})
}

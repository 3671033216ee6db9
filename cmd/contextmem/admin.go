package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/contextmem/contextmem/pkg/store"
)

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Fold duplicate entities across the graph",
	RunE: func(cmd *cobra.Command, args []string) error {
		cm, _, cleanup, err := newOrchestrator()
		if err != nil {
			return err
		}
		defer cleanup()

		merged, err := cm.MergeDuplicates(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("merged %d duplicate entities\n", merged)
		return nil
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Invalidate facts older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		cm, cfg, cleanup, err := newOrchestrator()
		if err != nil {
			return err
		}
		defer cleanup()

		closed, err := cm.Cleanup(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("closed %d facts older than %d days\n", closed, cfg.Store.RetentionDays)
		return nil
	},
}

var searchLimit int

var searchCmd = &cobra.Command{
	Use:   "search <name>",
	Short: "Look up entities by name or alias",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		s, err := store.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer s.Close()

		entities, err := s.SearchEntities(cmd.Context(), args[0], store.EntityFilter{
			OnlyValid: true,
			Limit:     searchLimit,
		})
		if err != nil {
			return err
		}
		for _, e := range entities {
			fmt.Printf("%-30s %-13s confidence=%.2f occurrences=%d last_seen=%s\n",
				e.Name, e.Type, e.Confidence, e.OccurrenceCount, e.LastSeen.Format("2006-01-02 15:04"))
		}
		if len(entities) == 0 {
			fmt.Println("no matching entities")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(cleanupCmd)

	searchCmd.Flags().IntVar(&searchLimit, "limit", 20, "maximum number of results")
	rootCmd.AddCommand(searchCmd)
}

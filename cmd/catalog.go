package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nerdneilsfield/dreamforge/internal/storage"
)

func newCatalogCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "catalog <config.toml>",
		Short:        "Seed and print the model and style catalog",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(args[0])
			if err != nil {
				return err
			}
			logger := newCLILogger()
			db, err := storage.InitDB(cfg.DBPath, logger)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer func() { _ = storage.Close(db) }()

			if err := storage.SeedCatalog(db, cfg.Catalog, logger); err != nil {
				return fmt.Errorf("seed catalog: %w", err)
			}
			catalog, err := storage.LoadCatalog(cmd.Context(), db)
			if err != nil {
				return fmt.Errorf("load catalog: %w", err)
			}
			ms, _ := catalog.ListModels(cmd.Context())
			ss, _ := catalog.ListStyles(cmd.Context())

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL\tNAME\tTIER\tCOST\tBACKING MODEL")
			for _, m := range ms {
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n", m.ID, m.DisplayName, m.Tier, m.CreditCost, m.ModelID)
			}
			fmt.Fprintln(w)
			fmt.Fprintln(w, "STYLE\tNAME\tDESCRIPTION")
			for _, s := range ss {
				fmt.Fprintf(w, "%d\t%s\t%s\n", s.ID, s.Name, s.Description)
			}
			return w.Flush()
		},
	}
}

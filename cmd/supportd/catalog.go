package main

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"support-agent/internal/catalog"
	"support-agent/internal/config"
	"support-agent/internal/domain"
)

func newCatalogCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Maintain the product catalog",
	}
	cmd.PersistentFlags().String("dsn", "", "Catalog database DSN")
	_ = v.BindPFlag(config.KeyCatalogDSN, cmd.PersistentFlags().Lookup("dsn"))

	cmd.AddCommand(
		newCatalogSeedCmd(v),
		newCatalogSearchCmd(v),
	)
	return cmd
}

func newCatalogSeedCmd(v *viper.Viper) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load products from a TOML seed file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadCatalog(v)
			if err != nil {
				return err
			}
			entries, err := catalog.LoadSeedFile(file)
			if err != nil {
				return err
			}

			store, err := catalog.NewStore(cfg.DSN)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.Insert(cmd.Context(), entries)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d products\n", n)
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Seed file path")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newCatalogSearchCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "search <text>",
		Short: "Show the products a chat message would match",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadCatalog(v)
			if err != nil {
				return err
			}
			store, err := catalog.NewStore(cfg.DSN)
			if err != nil {
				return err
			}
			defer store.Close()

			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))
			searcher, err := catalog.NewSearcher(store, cfg.CurrencySymbol, logger)
			if err != nil {
				return err
			}

			results := searcher.Search(cmd.Context(), args[0])
			if len(results) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No matching products")
				return nil
			}
			return printEntries(cmd.OutOrStdout(), results, cfg.CurrencySymbol)
		},
	}
}

func printEntries(w io.Writer, entries []domain.CatalogEntry, currency string) error {
	for _, e := range entries {
		if _, err := fmt.Fprintf(w, "%d\t%s\t%s%s\n", e.ID, e.Name, currency, strconv.FormatFloat(e.Price, 'f', 2, 64)); err != nil {
			return err
		}
	}
	return nil
}

package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/privateness-network/bot-access/access-gateway/internal/catalog"
	"github.com/privateness-network/bot-access/access-gateway/pkg/config"
)

func newProductsCommand() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "products",
		Short: "Inspect the product table",
	}
	cmd.PersistentFlags().StringVarP(&file, "file", "f", "", "Path to the products file (default: $PRODUCTS_FILE)")

	load := func() (*catalog.Catalog, error) {
		cfg := config.Load()
		if file == "" {
			file = cfg.ProductsFile
		}
		return catalog.LoadFile(file, cfg.AccessPeriod)
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "Print every product",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cat, err := load()
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "KEY\tBOT\tPRICE\tMIN BALANCE\tPERIOD")
				for _, p := range cat.All() {
					period := "permanent"
					if p.AccessPeriod > 0 {
						period = p.AccessPeriod.String()
					}
					fmt.Fprintf(w, "%s\t@%s\t%s %s\t%s %s\t%s\n",
						p.Key, p.BotUsername,
						p.RequiredAmount, p.PaymentAsset,
						p.MinimumBalance, p.BalanceAsset,
						period)
				}
				return w.Flush()
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Load and validate the products file",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cat, err := load()
				if err != nil {
					return fmt.Errorf("invalid products file: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d products OK\n", file, cat.Len())
				return nil
			},
		},
	)
	return cmd
}

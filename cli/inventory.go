package cli

import (
	"fmt"
	"io"

	"Gin_postgres_redis_loan_manager/db"
	"Gin_postgres_redis_loan_manager/models"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

func newInventoryCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "inventory",
		Short: "Print the stock of every equipment item",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(false)
			if err != nil {
				return err
			}
			gdb, err := db.Open(cfg)
			if err != nil {
				return err
			}
			if sqlDB, err := gdb.DB(); err == nil {
				defer sqlDB.Close()
			}
			items, err := db.NewRepo(gdb, cfg.StatementTimeout).AllEquipment(cmd.Context())
			if err != nil {
				return err
			}
			return renderInventory(cmd.OutOrStdout(), items, format)
		},
	}
	cmd.Flags().StringVar(&format, "format", "table", "table | csv | markdown")
	return cmd
}

func renderInventory(w io.Writer, items []models.EquipmentItem, format string) error {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.Style().Format.Footer = text.FormatDefault
	t.AppendHeader(table.Row{"Nom", "Catégorie", "État", "Total", "Disponible", "Emprunté"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
	})

	var total, avail int
	for _, it := range items {
		cat := ""
		if it.Category != nil {
			cat = it.Category.Name
		}
		t.AppendRow(table.Row{it.Name, cat, it.Condition, it.TotalQuantity, it.AvailableQuantity, it.CheckedOut()})
		total += it.TotalQuantity
		avail += it.AvailableQuantity
	}
	t.AppendFooter(table.Row{fmt.Sprintf("%d item(s)", len(items)), "", "", total, avail, total - avail})

	switch format {
	case "", "table":
		t.Render()
	case "csv":
		t.RenderCSV()
	case "markdown", "md":
		t.RenderMarkdown()
	default:
		return fmt.Errorf("unknown format %q", format)
	}
	return nil
}

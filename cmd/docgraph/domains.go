package main

import (
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func newDomainsCommand(rf *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "domains",
		Short: "List the available domain schemas",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rf.load()
			if err != nil {
				return err
			}
			reg, err := loadDomains(cfg)
			if err != nil {
				return err
			}
			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.Header("Domain", "Entity types", "Relation types")
			for _, d := range reg.List() {
				table.Append(d.Name,
					strings.Join(d.EntityTypeNames(), ", "),
					strings.Join(d.RelationTypeNames(), ", "))
			}
			return table.Render()
		},
	}
}

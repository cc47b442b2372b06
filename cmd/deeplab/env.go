package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/born-ml/deeplab/internal/config"
)

func newEnvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "List DEEPLAB_* environment variables and their current values",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			table := newTable(cmd.OutOrStdout(), "NAME", "VALUE", "DESCRIPTION")
			for _, v := range config.Load().EnvVars() {
				table.Append([]string{v.Name, fmt.Sprint(v.Value), v.Description})
			}
			table.Render()
		},
	}
}

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nucleus/search-export/internal/workflows"
)

var statusCmd = &cobra.Command{
	Use:   "status <run id | workflow id>",
	Short: "Show the state of a submitted export",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		c, err := dial(cfg)
		if err != nil {
			return err
		}
		defer c.Close()

		id := args[0]
		if !strings.HasPrefix(id, workflowID("")) {
			id = workflowID(id)
		}
		val, err := c.QueryWorkflow(cmd.Context(), id, "", workflows.RunStatusQuery)
		if err != nil {
			return fmt.Errorf("query %s: %w", id, err)
		}
		var status workflows.RunStatus
		if err := val.Get(&status); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), status)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

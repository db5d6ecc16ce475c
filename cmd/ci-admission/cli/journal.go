package cli

import (
	"encoding/json"
	"os"

	"github.com/davarch/ci-admission/internal/infrastructure/cache_fs"
	"github.com/davarch/ci-admission/internal/infrastructure/config"
	"github.com/spf13/cobra"
)

var journalCmd = &cobra.Command{
	Use:   "journal <pipeline_id>",
	Short: "Print the last recorded admission snapshot of a pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}

		s, err := cache_fs.New(cfg.Journal.Dir).Read(cmd.Context(), id)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	},
}

func init() {
	rootCmd.AddCommand(journalCmd)
}

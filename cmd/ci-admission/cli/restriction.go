package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/davarch/ci-admission/internal/infrastructure/config"
	"github.com/davarch/ci-admission/internal/infrastructure/logging"
	"github.com/spf13/cobra"
)

var restrictionJSON bool

var restrictionCmd = &cobra.Command{
	Use:   "restriction <project_id>",
	Short: "Show the effective job cancellation restriction of a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}

		log := logging.New()
		defer func() { _ = log.Sync() }()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), log, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		p, err := a.cancel.Policy(cmd.Context(), id)
		if err != nil {
			return err
		}

		out := struct {
			ProjectID              int64  `json:"project_id"`
			Effective              string `json:"effective"`
			MaintainersOnlyAllowed bool   `json:"maintainers_only_allowed"`
			NoOneAllowed           bool   `json:"no_one_allowed"`
		}{id, string(p.Effective()), p.MaintainersOnlyAllowed(), p.NoOneAllowed()}

		if restrictionJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		}
		fmt.Printf("project %d: %s (maintainers_only=%t no_one=%t)\n",
			out.ProjectID, out.Effective, out.MaintainersOnlyAllowed, out.NoOneAllowed)
		return nil
	},
}

func init() {
	restrictionCmd.Flags().BoolVar(&restrictionJSON, "json", false, "print JSON")
	rootCmd.AddCommand(restrictionCmd)
}

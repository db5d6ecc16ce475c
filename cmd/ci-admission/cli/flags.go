package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/davarch/ci-admission/internal/infrastructure/capabilities_fs"
	"github.com/davarch/ci-admission/internal/infrastructure/config"
	"github.com/spf13/cobra"
)

var (
	flagsJSON    bool
	flagsProject int64
)

var flagsCmd = &cobra.Command{
	Use:   "flags",
	Short: "Inspect and toggle feature flags in the capabilities file",
}

var flagsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List feature flags and licenses",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		caps, err := loadCapabilities()
		if err != nil {
			return err
		}
		items := caps.Entries()

		if flagsJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(items)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "KIND\tNAME\tENABLED\tPROJECTS\tNAMESPACES")
		for _, e := range items {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\n", e.Kind, e.Name, e.Enabled, joinIDs(e.Projects), joinIDs(e.Namespaces))
		}
		_ = w.Flush()
		return nil
	},
}

func newToggleCmd(enable bool) *cobra.Command {
	verb := "disable"
	if enable {
		verb = "enable"
	}
	return &cobra.Command{
		Use:               verb + " <flag>",
		Short:             strings.ToUpper(verb[:1]) + verb[1:] + " a feature flag globally or for one project",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completeFlagNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			caps, err := loadCapabilities()
			if err != nil {
				return err
			}

			changed, err := caps.SetFlag(args[0], enable, flagsProject)
			if err != nil {
				return err
			}

			scope := "globally"
			if flagsProject != 0 {
				scope = fmt.Sprintf("for project %d", flagsProject)
			}
			if !changed {
				fmt.Printf("no change (%s already %sd %s)\n", args[0], verb, scope)
				return nil
			}
			fmt.Printf("%sd: %s %s\n", verb, args[0], scope)
			return nil
		},
	}
}

func loadCapabilities() (*capabilities_fs.Store, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	return capabilities_fs.Load(cfg.Capabilities.Path)
}

func completeFlagNames(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	caps, err := loadCapabilities()
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	var out []string
	for _, e := range caps.Entries() {
		if e.Kind == "flag" && strings.HasPrefix(e.Name, toComplete) {
			out = append(out, e.Name)
		}
	}
	return out, cobra.ShellCompDirectiveNoFileComp
}

func joinIDs(ids []int64) string {
	if len(ids) == 0 {
		return "-"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return strings.Join(parts, ",")
}

func init() {
	flagsListCmd.Flags().BoolVar(&flagsJSON, "json", false, "print JSON")

	for _, c := range []*cobra.Command{newToggleCmd(true), newToggleCmd(false)} {
		c.Flags().Int64Var(&flagsProject, "project", 0, "limit the change to one project id")
		flagsCmd.AddCommand(c)
	}
	flagsCmd.AddCommand(flagsListCmd)

	rootCmd.AddCommand(flagsCmd)
}

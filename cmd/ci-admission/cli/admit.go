package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/davarch/ci-admission/internal/application"
	"github.com/davarch/ci-admission/internal/domain"
	"github.com/davarch/ci-admission/internal/infrastructure/config"
	"github.com/davarch/ci-admission/internal/infrastructure/httpapi"
	"github.com/davarch/ci-admission/internal/infrastructure/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	admitDryRun bool
	admitJSON   bool
	admitAsync  bool
)

var admitCmd = &cobra.Command{
	Use:   "admit <pipeline_id>",
	Short: "Run one admission pass for a pipeline",
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

		if admitAsync {
			ev, err := a.queue.Publish(cmd.Context(), id)
			if err != nil {
				return err
			}
			backlog, err := a.queue.Backlog(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("queued: pipeline %d (event %s, backlog %d)\n", id, ev.ID, backlog)
			return nil
		}

		var rep application.Report
		if admitDryRun {
			rep, err = a.admission.Plan(cmd.Context(), id)
		} else {
			rep, err = a.created.Handle(cmd.Context(), id)
		}
		if err != nil {
			log.Error("admission", zap.Int64("pipeline", id), zap.Error(err))
			if !admitDryRun && !errors.Is(err, domain.ErrPipelineNotFound) {
				if _, perr := a.queue.Publish(context.WithoutCancel(cmd.Context()), id); perr != nil {
					log.Error("requeue failed", zap.Int64("pipeline", id), zap.Error(perr))
				} else {
					log.Warn("pass failed, requeued for the worker", zap.Int64("pipeline", id))
				}
			}
			return err
		}

		return printReport(rep)
	},
}

func printReport(rep application.Report) error {
	dto := httpapi.ToReportDTO(rep)
	if admitJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(dto)
	}

	state := dto.State
	if dto.SkipReason != "" {
		state += " (" + dto.SkipReason + ")"
	}
	fmt.Printf("pipeline %d: %s, applied %d/%d\n", dto.PipelineID, state, dto.Applied, len(dto.Drops))

	reasons := make(map[int64]string, len(dto.Drops))
	for _, d := range dto.Drops {
		reasons[d.BuildID] = string(d.Reason)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TAGS\tPROTECTED\tRUNNER_TYPE\tBUILDS\tDROP")
	for _, m := range dto.Matchers {
		tags := strings.Join(m.Tags, ",")
		if tags == "" {
			tags = "(untagged)"
		}
		rt := m.RunnerType
		if rt == "" {
			rt = "any"
		}
		drop := "-"
		if len(m.BuildIDs) > 0 && reasons[m.BuildIDs[0]] != "" {
			drop = reasons[m.BuildIDs[0]]
		}
		_, _ = fmt.Fprintf(w, "%s\t%t\t%s\t%s\t%s\n", tags, m.Protected, rt, joinIDs(m.BuildIDs), drop)
	}
	_ = w.Flush()
	return nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func init() {
	admitCmd.Flags().BoolVar(&admitDryRun, "dry-run", false, "compute the decision without dropping builds")
	admitCmd.Flags().BoolVar(&admitJSON, "json", false, "print JSON")
	admitCmd.Flags().BoolVar(&admitAsync, "async", false, "publish a pipeline-created event instead of running inline")
	admitCmd.MarkFlagsMutuallyExclusive("dry-run", "async")

	rootCmd.AddCommand(admitCmd)
}

package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/Cascade/internal/domain"
)

// NewRunCmd создаёт группу команд для управления runs.
func NewRunCmd(clientFn func() (*Client, error), outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Manage analysis runs",
	}

	cmd.AddCommand(
		newRunCreateCmd(clientFn, outputFn),
		newRunListCmd(clientFn, outputFn),
		newRunShowCmd(clientFn, outputFn),
		newRunCancelCmd(clientFn, outputFn),
		newRunJobsCmd(clientFn, outputFn),
		newRunNotifyCmd(clientFn, outputFn),
	)

	return cmd
}

func newRunCreateCmd(clientFn func() (*Client, error), outputFn func() *Output) *cobra.Command {
	var stages []string
	var sets []string
	var labels []string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a run and notify the orchestrator",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFn()
			if err != nil {
				return err
			}
			defer client.Close()
			out := outputFn()

			configs, err := parseStageConfigs(stages, sets)
			if err != nil {
				return err
			}
			labelMap, err := parseKeyValues(labels)
			if err != nil {
				return err
			}

			run, err := client.CreateRun(cmd.Context(), configs, labelMap)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Run created: %d", run.ID))
			printRuns(out, *run)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&stages, "stage", nil,
		"Enable a pipeline stage (repeatable): config, analyzer, advisor, scanner, evaluator, reporter, notifier")
	cmd.Flags().StringSliceVar(&sets, "set", nil,
		"Stage configuration value as STAGE.KEY=VALUE (repeatable)")
	cmd.Flags().StringSliceVar(&labels, "label", nil, "Run label as KEY=VALUE (repeatable)")

	return cmd
}

func newRunListCmd(clientFn func() (*Client, error), outputFn func() *Output) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFn()
			if err != nil {
				return err
			}
			defer client.Close()

			runs, err := client.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			printRuns(outputFn(), runs...)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of results")
	return cmd
}

func newRunShowCmd(clientFn func() (*Client, error), outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show run details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRunID(args[0])
			if err != nil {
				return err
			}
			client, err := clientFn()
			if err != nil {
				return err
			}
			defer client.Close()

			run, err := client.GetRun(cmd.Context(), id)
			if err != nil {
				return err
			}
			printRuns(outputFn(), *run)
			return nil
		},
	}
}

func newRunCancelCmd(clientFn func() (*Client, error), outputFn func() *Output) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "cancel ID",
		Short: "Request cancellation of an active run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRunID(args[0])
			if err != nil {
				return err
			}
			client, err := clientFn()
			if err != nil {
				return err
			}
			defer client.Close()
			out := outputFn()

			if err := client.CancelRun(cmd.Context(), id, reason); err != nil {
				return err
			}
			out.Success(fmt.Sprintf("Cancellation requested for run %d", id))
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Cancellation reason")
	return cmd
}

func newRunJobsCmd(clientFn func() (*Client, error), outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "jobs RUN_ID",
		Short: "List jobs of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRunID(args[0])
			if err != nil {
				return err
			}
			client, err := clientFn()
			if err != nil {
				return err
			}
			defer client.Close()
			out := outputFn()

			jobs, err := client.ListJobs(cmd.Context(), id)
			if err != nil {
				return err
			}

			headers := []string{"ID", "STAGE", "STATUS", "ATTEMPT", "SUMMARY", "ERROR"}
			rows := make([][]string, len(jobs))
			for i, j := range jobs {
				rows[i] = []string{
					strconv.FormatInt(j.ID, 10),
					string(j.Stage),
					string(j.Status),
					strconv.Itoa(j.Attempt),
					j.Summary,
					j.Error,
				}
			}
			out.Print(headers, rows, jobs)
			return nil
		},
	}
}

func newRunNotifyCmd(clientFn func() (*Client, error), outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "notify ID",
		Short: "Re-send run.created for a run stuck in CREATED",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRunID(args[0])
			if err != nil {
				return err
			}
			client, err := clientFn()
			if err != nil {
				return err
			}
			defer client.Close()
			out := outputFn()

			if _, err := client.NotifyRun(cmd.Context(), id); err != nil {
				return err
			}
			out.Success(fmt.Sprintf("Orchestrator notified about run %d", id))
			return nil
		},
	}
}

// --- Helpers ---

func parseRunID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid run id %q", arg)
	}
	return id, nil
}

// parseStageConfigs собирает конфигурацию этапов из флагов --stage
// и --set. Этап из --set включается автоматически.
func parseStageConfigs(stages, sets []string) (domain.JobConfigs, error) {
	configs := domain.JobConfigs{}

	for _, name := range stages {
		stage, err := domain.ParseStage(name)
		if err != nil {
			return nil, err
		}
		configs[stage] = map[string]any{}
	}

	for _, kv := range sets {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --set %q, expected STAGE.KEY=VALUE", kv)
		}
		stageName, configKey, ok := strings.Cut(key, ".")
		if !ok {
			return nil, fmt.Errorf("invalid --set key %q, expected STAGE.KEY", key)
		}
		stage, err := domain.ParseStage(stageName)
		if err != nil {
			return nil, err
		}
		if configs[stage] == nil {
			configs[stage] = map[string]any{}
		}
		configs[stage][configKey] = value
	}

	return configs, nil
}

func parseKeyValues(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	m := make(map[string]string, len(pairs))
	for _, kv := range pairs {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("invalid value %q, expected KEY=VALUE", kv)
		}
		m[key] = value
	}
	return m, nil
}

func printRuns(out *Output, runs ...domain.Run) {
	headers := []string{"ID", "STATUS", "STAGES", "ERROR", "CREATED"}
	rows := make([][]string, len(runs))
	for i, r := range runs {
		stageNames := make([]string, 0, len(r.JobConfigs))
		for _, stage := range r.JobConfigs.EnabledStages() {
			stageNames = append(stageNames, string(stage))
		}
		rows[i] = []string{
			strconv.FormatInt(r.ID, 10),
			string(r.Status),
			strings.Join(stageNames, ","),
			r.Error,
			r.CreatedAt.Format(time.RFC3339),
		}
	}
	if len(runs) == 1 {
		out.Print(headers, rows, runs[0])
		return
	}
	out.Print(headers, rows, runs)
}

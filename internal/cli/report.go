package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Voyage-Pet-AI/vwork/pkg/report"
)

var reportName string

var reportCmd = &cobra.Command{
	Use:   "report [prompt]",
	Short: "Generate a report once and print it",
	Long: `Generate a report immediately and print the result. The prompt is
given on the command line, or taken from a configured report with --name.`,
	Args: cobra.ArbitraryArgs,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().StringVar(&reportName, "name", "", "use the prompt of a configured report")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, logg, err := setup()
	if err != nil {
		return err
	}
	defer logg.Close()
	log := logg.Zerolog()

	prompt := strings.TrimSpace(strings.Join(args, " "))
	if reportName != "" {
		if prompt != "" {
			return fmt.Errorf("give either a prompt or --name, not both")
		}
		for _, rep := range cfg.Reports {
			if rep.Name == reportName {
				prompt = rep.Prompt
				break
			}
		}
		if prompt == "" {
			return fmt.Errorf("no configured report named %q", reportName)
		}
	}
	if prompt == "" {
		return fmt.Errorf("a prompt or --name is required")
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	rt, err := buildRuntime(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer rt.close(log)

	run, err := rt.reports.Generate(ctx, prompt)
	if err != nil {
		return err
	}
	if run.Status == report.StatusFailed {
		return fmt.Errorf("report failed: %s", run.Error)
	}

	fmt.Println(run.Text)
	return nil
}

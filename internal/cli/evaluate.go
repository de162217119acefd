package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scalytics/cdcbridge/internal/recommend"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Run the weekly churn-prediction evaluation and generate recommendations",
	RunE:  runEvaluate,
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	printHeader("cdcbridge evaluate")

	svc, err := newServices()
	if err != nil {
		return err
	}
	defer svc.close()

	entries := svc.cat.Enabled()
	if len(entries) == 0 {
		return fmt.Errorf("evaluate: no enabled catalog sources to evaluate against")
	}

	engine := recommend.New(recommend.DefaultConfig(), svc.sourceDB, entries[0], svc.sink)
	results, err := engine.RunWeekly(cmd.Context())
	if err != nil {
		return fmt.Errorf("run weekly evaluation: %w", err)
	}

	fmt.Printf("Churned customers:     %d\n", results.Churn.TotalChurned)
	fmt.Printf("Scored by pipeline:    %d\n", results.Churn.WithScore)
	fmt.Printf("Recall (medium+):      %.2f\n", results.Churn.Recall)
	fmt.Printf("Coverage:              %.2f\n", results.Churn.Coverage)
	fmt.Printf("Recommendations:       %d\n", len(results.Recommendations))
	for _, r := range results.Recommendations {
		fmt.Printf("  %s: %v\n", r.Type, r.Details)
	}
	for _, e := range results.Errors {
		fmt.Printf("Note: %s\n", e)
	}
	return nil
}

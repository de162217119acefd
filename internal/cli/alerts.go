package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/scalytics/cdcbridge/internal/alerts"
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Evaluate enabled alert configs and open alert_history rows for newly triggered ones",
	RunE:  runAlerts,
}

func runAlerts(cmd *cobra.Command, args []string) error {
	printHeader("cdcbridge alerts")

	svc, err := newServices()
	if err != nil {
		return err
	}
	defer svc.close()

	var notifier alerts.Notifier
	if strings.TrimSpace(svc.cfg.Alerts.SlackBotToken) != "" {
		notifier = alerts.NewSlackNotifier(svc.cfg.Alerts.SlackBotToken, svc.cfg.Alerts.SlackAPIBase, svc.cfg.Alerts.SlackChannel)
	}

	evaluator := alerts.New(svc.sink, notifier)
	results, err := evaluator.EvaluateAll(cmd.Context())
	if err != nil {
		return fmt.Errorf("evaluate alerts: %w", err)
	}

	triggered := 0
	for _, r := range results {
		if !r.Triggered {
			continue
		}
		status := "opened"
		if r.AlreadyActive {
			status = "already active"
		}
		fmt.Printf("%-30s value=%.2f threshold=%.2f [%s]\n", r.Name, r.MetricValue, r.Threshold, status)
		if r.AlertCreated {
			triggered++
		}
	}
	fmt.Printf("Evaluated %d config(s), %d new alert(s) opened\n", len(results), triggered)
	return nil
}

package cli

import (
	"fmt"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"github.com/scalytics/cdcbridge/internal/approval"
	"github.com/scalytics/cdcbridge/internal/queue"
)

var approveCmd = &cobra.Command{
	Use:   "approve",
	Short: "Review, approve, reject, and roll out recommendation config changes",
}

var (
	approveApprover  string
	rejectBy         string
	rejectReason     string
	applyTriggeredBy string
	qrOutputPath     string
)

func init() {
	approveRecCmd.Flags().StringVar(&approveApprover, "approver", "", "identity of the person approving the recommendation")
	rejectRecCmd.Flags().StringVar(&rejectBy, "rejected-by", "", "identity of the person rejecting the recommendation")
	rejectRecCmd.Flags().StringVar(&rejectReason, "reason", "", "reason for rejection")
	applyCmd.Flags().StringVar(&applyTriggeredBy, "triggered-by", "cli", "identity recorded as having triggered the reload")
	qrCmd.Flags().StringVar(&qrOutputPath, "out", "./approval-qr.png", "path to write the QR code image to")

	approveCmd.AddCommand(approveRecCmd, rejectRecCmd, applyCmd, qrCmd)
}

var approveRecCmd = &cobra.Command{
	Use:   "run <recommendation-id>",
	Short: "Approve a pending recommendation, mutating the remote config artifact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ch, svc, notifier, err := newApprovalChannel()
		if err != nil {
			return err
		}
		defer svc.close()
		defer notifier.Close()

		if approveApprover == "" {
			return fmt.Errorf("approve: --approver is required")
		}
		if err := ch.Approve(cmd.Context(), args[0], approveApprover); err != nil {
			return err
		}
		fmt.Printf("Approved %s (approver: %s)\n", args[0], approveApprover)
		fmt.Println("Note: approving does not notify the remote service; run 'approve apply' to trigger a reload.")
		return nil
	},
}

var rejectRecCmd = &cobra.Command{
	Use:   "reject <recommendation-id>",
	Short: "Reject a pending recommendation without mutating any config",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ch, svc, notifier, err := newApprovalChannel()
		if err != nil {
			return err
		}
		defer svc.close()
		defer notifier.Close()

		if rejectBy == "" {
			return fmt.Errorf("reject: --rejected-by is required")
		}
		if err := ch.Reject(cmd.Context(), args[0], rejectBy, rejectReason); err != nil {
			return err
		}
		fmt.Printf("Rejected %s (by: %s)\n", args[0], rejectBy)
		return nil
	},
}

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Publish a reload_configs notification so the remote service re-reads the config artifact",
	RunE: func(cmd *cobra.Command, args []string) error {
		ch, svc, notifier, err := newApprovalChannel()
		if err != nil {
			return err
		}
		defer svc.close()
		defer notifier.Close()

		if err := ch.ApplyToService(cmd.Context(), applyTriggeredBy); err != nil {
			return err
		}
		fmt.Println("Published reload_configs notification")
		return nil
	},
}

var qrCmd = &cobra.Command{
	Use:   "qr <url>",
	Short: "Render a QR code encoding an approval URL, for scanning on a phone",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := qrcode.WriteFile(args[0], qrcode.Medium, 512, qrOutputPath); err != nil {
			return fmt.Errorf("write qr code: %w", err)
		}
		fmt.Printf("QR code written to %s\n", qrOutputPath)
		return nil
	},
}

// newApprovalChannel wires an approval.Channel from the same services
// every other pipeline command uses, adding the object store and a
// producer bound to the config-reload topic (distinct from the
// dispatcher's outbound-conversation producer, since a kafka-go Writer
// is bound to one topic at construction).
func newApprovalChannel() (*approval.Channel, *services, *queue.KafkaProducer, error) {
	svc, err := newServices()
	if err != nil {
		return nil, nil, nil, err
	}
	notifier := queue.NewKafkaProducer(svc.cfg.Queue.Brokers, svc.cfg.Notify.Topic)
	ch := approval.New(svc.sink, svc.objectStore(), notifier, svc.cfg.Notify.Topic)
	return ch, svc, notifier, nil
}

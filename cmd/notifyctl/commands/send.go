package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"notify-realtime/internal/ingest"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	sendUserID int64
	sendTitle  string
	sendBody   string
	sendData   string
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Publish a notification record to Kafka",
	Long: `Publish a notification for one user to KAFKA_TOPIC. The server's consumer
delivers it as a new-notification event on private-user.<id>.

Examples:
  notifyctl send --user 42 --title "Order shipped" --body "Arrives Friday"
  notifyctl send --user 42 --data '{"kind":"invoice","id":17}'`,
	RunE: runSend,
}

func init() {
	sendCmd.Flags().Int64Var(&sendUserID, "user", 0, "Recipient user id")
	sendCmd.Flags().StringVar(&sendTitle, "title", "", "Notification title")
	sendCmd.Flags().StringVar(&sendBody, "body", "", "Notification body")
	sendCmd.Flags().StringVar(&sendData, "data", "", "Raw JSON payload, replaces --title and --body")
	sendCmd.MarkFlagRequired("user")
}

type notification struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return errors.New("KAFKA_BROKERS is not set")
	}

	var payload interface{}
	if sendData != "" {
		if !json.Valid([]byte(sendData)) {
			return errors.New("--data is not valid JSON")
		}
		payload = json.RawMessage(sendData)
	} else {
		if sendTitle == "" {
			return errors.New("--title or --data is required")
		}
		payload = notification{
			ID:        uuid.New().String(),
			Title:     sendTitle,
			Body:      sendBody,
			CreatedAt: time.Now().UTC(),
		}
	}

	producer, err := ingest.NewProducer(cfg.Kafka, "notifyctl")
	if err != nil {
		return err
	}
	defer producer.Close()

	partition, offset, err := producer.Send(sendUserID, payload)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), color.New(color.FgGreen).Sprintf(
		"sent to %s (partition %d, offset %d)", cfg.Kafka.Topic, partition, offset))
	return nil
}

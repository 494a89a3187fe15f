package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/openhealth/gho-ingest/internal/config"
)

const footer = "gho-ingest"

// Notifier sends notifications to Slack
type Notifier struct {
	config     *config.SlackConfig
	httpClient *http.Client
}

// SlackMessage represents a Slack webhook message
type SlackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment represents a Slack message attachment
type SlackAttachment struct {
	Color     string       `json:"color,omitempty"`
	Title     string       `json:"title,omitempty"`
	Text      string       `json:"text,omitempty"`
	Fields    []SlackField `json:"fields,omitempty"`
	Footer    string       `json:"footer,omitempty"`
	Timestamp int64        `json:"ts,omitempty"`
}

// SlackField represents a field in a Slack attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// New creates a new Slack notifier
func New(cfg *config.SlackConfig) *Notifier {
	if cfg == nil {
		cfg = &config.SlackConfig{Enabled: false}
	}
	return &Notifier{
		config: cfg,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// IsEnabled returns true if notifications are enabled
func (n *Notifier) IsEnabled() bool {
	return n.config != nil && n.config.Enabled && n.config.WebhookURL != ""
}

func (n *Notifier) getUsername() string {
	if n.config.Username != "" {
		return n.config.Username
	}
	return footer
}

// RunStarted sends notification when an ingest run starts
func (n *Notifier) RunStarted(runID string, partitionCount int) error {
	if !n.IsEnabled() {
		return nil
	}

	msg := SlackMessage{
		Channel:   n.config.Channel,
		Username:  n.getUsername(),
		IconEmoji: ":rocket:",
		Attachments: []SlackAttachment{
			{
				Color: "#36a64f", // green
				Title: "Ingest Run Started",
				Fields: []SlackField{
					{Title: "Run ID", Value: runID, Short: true},
					{Title: "Partitions", Value: fmt.Sprintf("%d", partitionCount), Short: true},
				},
				Footer:    footer,
				Timestamp: time.Now().Unix(),
			},
		},
	}

	return n.send(msg)
}

// RunCompleted sends notification when a run finishes
func (n *Notifier) RunCompleted(runID string, summary Summary) error {
	if !n.IsEnabled() {
		return nil
	}

	color := "#36a64f" // green
	title := "Ingest Run Completed"
	icon := ":white_check_mark:"
	if summary.PartitionsSkipped > 0 {
		color = "#ffc107" // yellow
		title = "Ingest Run Completed With Skipped Partitions"
		icon = ":warning:"
	}

	msg := SlackMessage{
		Channel:   n.config.Channel,
		Username:  n.getUsername(),
		IconEmoji: icon,
		Attachments: []SlackAttachment{
			{
				Color:     color,
				Title:     title,
				Fields:    summaryFields(runID, summary),
				Footer:    footer,
				Timestamp: time.Now().Unix(),
			},
		},
	}

	return n.send(msg)
}

// RunFailed sends notification when a run aborts fatally
func (n *Notifier) RunFailed(runID string, err error, summary Summary) error {
	if !n.IsEnabled() {
		return nil
	}

	errMsg := "Unknown error"
	if err != nil {
		errMsg = err.Error()
	}

	fields := summaryFields(runID, summary)
	fields = append(fields, SlackField{Title: "Error", Value: errMsg, Short: false})

	msg := SlackMessage{
		Channel:   n.config.Channel,
		Username:  n.getUsername(),
		IconEmoji: ":x:",
		Attachments: []SlackAttachment{
			{
				Color:     "#dc3545", // red
				Title:     "Ingest Run Failed",
				Fields:    fields,
				Footer:    footer,
				Timestamp: time.Now().Unix(),
			},
		},
	}

	return n.send(msg)
}

// PartitionSkipped sends notification for a skipped partition
func (n *Notifier) PartitionSkipped(runID, partition string, err error) error {
	if !n.IsEnabled() {
		return nil
	}

	errMsg := "Unknown error"
	if err != nil {
		errMsg = err.Error()
	}

	msg := SlackMessage{
		Channel:   n.config.Channel,
		Username:  n.getUsername(),
		IconEmoji: ":warning:",
		Attachments: []SlackAttachment{
			{
				Color: "#ffc107", // yellow
				Title: "Partition Skipped",
				Fields: []SlackField{
					{Title: "Run ID", Value: runID, Short: true},
					{Title: "Partition", Value: partition, Short: true},
					{Title: "Error", Value: errMsg, Short: false},
				},
				Footer:    footer,
				Timestamp: time.Now().Unix(),
			},
		},
	}

	return n.send(msg)
}

func summaryFields(runID string, summary Summary) []SlackField {
	return []SlackField{
		{Title: "Run ID", Value: runID, Short: true},
		{Title: "Duration", Value: fmt.Sprintf("%.0fs", summary.DurationSecs), Short: true},
		{Title: "Partitions", Value: fmt.Sprintf("%d processed, %d skipped", summary.PartitionsProcessed, summary.PartitionsSkipped), Short: true},
		{Title: "Records", Value: fmt.Sprintf("%d fetched, %d accepted, %d rejected", summary.RecordsFetched, summary.RecordsAccepted, summary.RecordsRejected), Short: true},
	}
}

func (n *Notifier) send(msg SlackMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}

	resp, err := n.httpClient.Post(n.config.WebhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("sending to Slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Slack returned status %d", resp.StatusCode)
	}
	return nil
}

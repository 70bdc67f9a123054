package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SlackNotifier posts invocation outcomes to an incoming webhook
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

type slackMessage struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackAttachment struct {
	Color    string       `json:"color"`
	Fallback string       `json:"fallback"`
	Fields   []slackField `json:"fields,omitempty"`
	Footer   string       `json:"footer,omitempty"`
	Ts       int64        `json:"ts,omitempty"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

var slackColors = map[Severity]string{
	SeverityInfo: "#439FE0",
	SeverityPass: "good",
	SeverityWarn: "warning",
	SeverityFail: "danger",
}

// listed unit names before the rest is summarized
const slackMaxUnits = 6

// NewSlackNotifier creates a notifier; an empty webhook URL disables it
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Send posts the notification
func (s *SlackNotifier) Send(n Notification) error {
	if s.webhookURL == "" {
		return nil
	}

	payload, err := json.Marshal(slackPayload(n))
	if err != nil {
		return err
	}

	resp, err := s.client.Post(s.webhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("posting to slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("slack returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func slackPayload(n Notification) slackMessage {
	a := slackAttachment{
		Color:    slackColors[n.Severity],
		Fallback: n.Title,
		Footer:   "hdl-regress",
	}

	if inv := n.Invocation; inv != nil {
		a.Fallback = n.Title + ": " + n.Headline()
		a.Footer = "hdl-regress invocation " + inv.ID
		if !inv.FinishedAt.IsZero() {
			a.Ts = inv.FinishedAt.Unix()
		}
		a.Fields = []slackField{
			{Title: "Runs", Value: fmt.Sprintf("%d passed, %d failed, %d errored of %d", inv.Passed, inv.Failed, inv.Errored, inv.Total), Short: true},
			{Title: "Setup", Value: fmt.Sprintf("%d runs per unit, width %d, %s", inv.Runs, inv.Width, inv.Duration().Round(time.Second)), Short: true},
			{Title: "Units", Value: unitList(inv.Units)},
		}
		if line := n.CoverageLine(); line != "" {
			a.Fields = append(a.Fields, slackField{Title: "Coverage", Value: line})
		}
	}
	if n.ReportPath != "" {
		a.Fields = append(a.Fields, slackField{Title: "Report", Value: n.ReportPath})
	}

	return slackMessage{Text: n.Title, Attachments: []slackAttachment{a}}
}

func unitList(units []string) string {
	if len(units) == 0 {
		return "none"
	}
	if len(units) <= slackMaxUnits {
		return strings.Join(units, ", ")
	}
	return fmt.Sprintf("%s and %d more", strings.Join(units[:slackMaxUnits], ", "), len(units)-slackMaxUnits)
}

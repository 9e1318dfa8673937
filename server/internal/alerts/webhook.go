package alerts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
)

// renderers build the request body for each webhook type.
var renderers = map[string]func(*Alert) any{
	"slack": slackPayload,
	"teams": teamsPayload,
	"http":  httpPayload,
}

// deliver posts a to every configured target. Failures are logged only.
func (e *Engine) deliver(a *Alert) {
	for _, wh := range e.webhooks {
		render, ok := renderers[wh.Type]
		if !ok {
			slog.Warn("alerts: unknown webhook type, skipping", "type", wh.Type)
			continue
		}
		url := wh.URL()
		if url == "" {
			continue
		}
		if err := e.post(url, render(a)); err != nil {
			slog.Error("alerts: webhook delivery failed",
				"type", wh.Type, "rule", a.RuleName, "job", a.Job, "err", err)
			continue
		}
		slog.Debug("alerts: webhook delivered",
			"type", wh.Type, "rule", a.RuleName, "job", a.Job, "state", a.State)
	}
}

func slackPayload(a *Alert) any {
	if a.State == StateResolved {
		return map[string]string{
			"text": fmt.Sprintf("*[RESOLVED]* %s on %s (build %d)", a.RuleName, a.Job, a.Build),
		}
	}
	return map[string]string{
		"text": fmt.Sprintf("*[%s]* %s", strings.ToUpper(severityOrInfo(a.Severity)), a.Message),
	}
}

type teamsFact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type teamsSection struct {
	Facts []teamsFact `json:"facts"`
}

type teamsCard struct {
	Type       string         `json:"@type"`
	Context    string         `json:"@context"`
	ThemeColor string         `json:"themeColor"`
	Summary    string         `json:"summary"`
	Title      string         `json:"title"`
	Text       string         `json:"text"`
	Sections   []teamsSection `json:"sections"`
}

func teamsPayload(a *Alert) any {
	title := "DefectTrend alert: " + a.RuleName
	if a.State == StateResolved {
		title = "DefectTrend resolved: " + a.RuleName
	}
	return teamsCard{
		Type:       "MessageCard",
		Context:    "http://schema.org/extensions",
		ThemeColor: cardColor(a),
		Summary:    a.RuleName,
		Title:      title,
		Text:       a.Message,
		Sections: []teamsSection{{Facts: []teamsFact{
			{Name: "Job", Value: a.Job},
			{Name: "Build", Value: strconv.Itoa(a.Build)},
			{Name: "Value", Value: strconv.FormatFloat(a.Value, 'f', -1, 64)},
			{Name: "Severity", Value: severityOrInfo(a.Severity)},
		}}},
	}
}

func httpPayload(a *Alert) any {
	return struct {
		Event string `json:"event"`
		Alert *Alert `json:"alert"`
	}{a.State, a}
}

func (e *Engine) post(url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func severityOrInfo(s string) string {
	switch s {
	case "critical", "warning":
		return s
	}
	return "info"
}

func cardColor(a *Alert) string {
	if a.State == StateResolved {
		return "2EB67D"
	}
	switch a.Severity {
	case "critical":
		return "FF4F6A"
	case "warning":
		return "FFAB40"
	}
	return "00D4FF"
}

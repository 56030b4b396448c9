// Package notify renders alerts and delivers them to notification channels.
package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/br00tm/infrawatch/internal/models"
)

// Message is the channel-agnostic rendering of one alert.
type Message struct {
	AlertID  uint
	Title    string
	Severity models.Severity
	Body     string
}

// Marker returns the emoji shown in front of an alert title.
func Marker(s models.Severity) string {
	switch s {
	case models.SeverityInfo:
		return "ℹ️"
	case models.SeverityWarning:
		return "⚠️"
	case models.SeverityError:
		return "🔴"
	case models.SeverityCritical:
		return "🚨"
	default:
		return "⚠️"
	}
}

// TextMarker is the ASCII form of Marker for channels without emoji.
func TextMarker(s models.Severity) string {
	switch s {
	case models.SeverityInfo, models.SeverityWarning, models.SeverityError, models.SeverityCritical:
		return "[" + strings.ToUpper(string(s)) + "]"
	default:
		return "[WARNING]"
	}
}

func RenderMessage(alert models.Alert) Message {
	severity := string(alert.Severity)
	if severity == "" {
		severity = "unknown"
	}
	source := alert.Source
	if source == "" {
		source = "unknown"
	}
	description := alert.Description
	if description == "" {
		description = "No description"
	}
	created := "Unknown"
	if !alert.CreatedAt.IsZero() {
		created = alert.CreatedAt.UTC().Format(time.RFC3339)
	}

	body := fmt.Sprintf("%s **%s**\n\n**Severity:** %s\n**Source:** %s\n**Description:** %s\n**Time:** %s",
		Marker(alert.Severity), alert.Title, strings.ToUpper(severity), source, description, created)

	return Message{
		AlertID:  alert.ID,
		Title:    alert.Title,
		Severity: alert.Severity,
		Body:     body,
	}
}

// PlainBody is Body with the emoji marker swapped for TextMarker and the
// markdown emphasis removed.
func (m Message) PlainBody() string {
	body := strings.Replace(m.Body, Marker(m.Severity), TextMarker(m.Severity), 1)
	return strings.ReplaceAll(body, "**", "")
}

package reminders

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Message is the rendered content of one reminder.
type Message struct {
	Title      string
	Body       string
	CallScript string
	Data       map[string]string
}

// Render builds the push title/body, the voice script and the push data
// payload for owner as seen at now.
func Render(owner *Owner, now time.Time) Message {
	label := kindLabel(owner.Kind)
	when := "soon"
	if owner.StartsAt != nil {
		when = describeLead(owner.StartsAt.Sub(now))
	}
	return Message{
		Title:      label + " Reminder",
		Body:       owner.Title + " " + when,
		CallScript: fmt.Sprintf("Hello! You have an upcoming %s: %s %s.", strings.ToLower(label), owner.Title, when),
		Data: map[string]string{
			"type":  strings.ToLower(label),
			"id":    strconv.FormatUint(uint64(owner.ID), 10),
			"title": owner.Title,
		},
	}
}

func kindLabel(kind string) string {
	if kind == "" {
		return "Item"
	}
	return strings.ToUpper(kind[:1]) + kind[1:]
}

// describeLead renders the time left until the owner starts.
func describeLead(d time.Duration) string {
	if d <= 0 {
		return "now"
	}
	hours := int(d / time.Hour)
	minutes := int((d % time.Hour) / time.Minute)

	switch {
	case hours > 0 && minutes > 0:
		return "in " + plural(hours, "hour") + " and " + plural(minutes, "minute")
	case hours > 0:
		return "in " + plural(hours, "hour")
	case minutes > 0:
		return "in " + plural(minutes, "minute")
	default:
		return "now"
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

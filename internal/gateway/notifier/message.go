package notifier

import (
	"strings"
	"time"
)

const maxMessageLen = 3800

// Message is the uniform shape every push goes out as: an icon-tagged title,
// a code block of detail lines, and an optional timestamp footer.
type Message struct {
	Icon  string
	Title string
	Lines []string
	At    time.Time
}

// Render produces the Markdown body, trimming blank lines and clamping the
// total length under the Telegram limit.
func (m Message) Render() string {
	var b strings.Builder
	header := strings.TrimSpace(m.Icon + " " + m.Title)
	if header != "" {
		b.WriteString(header + "\n\n")
	}
	lines := make([]string, 0, len(m.Lines))
	for _, line := range m.Lines {
		if text := strings.TrimSpace(line); text != "" {
			lines = append(lines, text)
		}
	}
	if len(lines) > 0 {
		b.WriteString("```\n")
		for _, line := range lines {
			b.WriteString("- ")
			b.WriteString(sanitize(line))
			b.WriteString("\n")
		}
		b.WriteString("```\n\n")
	}
	if !m.At.IsZero() {
		b.WriteString("time: " + m.At.UTC().Format("2006-01-02 15:04:05 MST"))
	}
	body := strings.TrimSpace(b.String())
	if len(body) > maxMessageLen {
		body = body[:maxMessageLen] + "..."
	}
	return body
}

func sanitize(s string) string {
	return strings.ReplaceAll(s, "```", "'''")
}

package storage

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ExportMarkdown renders a user's turns, oldest first, as a markdown document.
func ExportMarkdown(userID string, turns []Turn) string {
	var b strings.Builder

	b.WriteString("# Smart DJ history\n\n")
	b.WriteString(fmt.Sprintf("- **User:** %s\n", userID))
	b.WriteString(fmt.Sprintf("- **Turns:** %d\n", len(turns)))
	b.WriteString(fmt.Sprintf("- **Exported:** %s\n", time.Now().UTC().Format("2006-01-02 15:04:05")))
	b.WriteString("\n---\n\n")

	for _, t := range chronological(turns) {
		b.WriteString(fmt.Sprintf("### %s", t.CreatedAt.Format("2006-01-02 15:04:05")))
		if t.Persona != "" {
			b.WriteString(fmt.Sprintf(" (%s)", t.Persona))
		}
		b.WriteString("\n\n")
		b.WriteString(fmt.Sprintf("**You:** %s\n\n", t.Message))
		b.WriteString(fmt.Sprintf("**DJ:** %s\n\n", t.Reply))

		for _, o := range t.Outcomes {
			line := o.Kind
			if o.Detail != "" {
				line += " " + o.Detail
			}
			b.WriteString(fmt.Sprintf("- `%s` → %s\n", line, o.Status))
		}
		if len(t.Outcomes) > 0 {
			b.WriteString("\n")
		}
		if t.Failure != "" {
			b.WriteString(fmt.Sprintf("_degraded: %s_\n\n", t.Failure))
		}
	}

	return b.String()
}

// ExportJSON renders a user's turns as formatted JSON.
func ExportJSON(userID string, turns []Turn) ([]byte, error) {
	export := struct {
		UserID string `json:"user_id"`
		Turns  []Turn `json:"turns"`
	}{
		UserID: userID,
		Turns:  chronological(turns),
	}
	return json.MarshalIndent(export, "", "  ")
}

// chronological returns turns oldest first without modifying the input.
func chronological(turns []Turn) []Turn {
	out := make([]Turn, len(turns))
	copy(out, turns)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

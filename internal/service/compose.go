package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/and161185/crmsync/internal/model"
)

// ActivityDisposition is the call disposition set on published recordings.
const ActivityDisposition = "Completed"

// ComposeActivity renders a recording as a CRM call activity. The output depends
// only on the recording, so republishing yields the same subject and body.
func ComposeActivity(rec *model.Recording) model.Activity {
	title := strings.TrimSpace(rec.Title)
	if title == "" {
		title = "Untitled recording"
	}
	created := rec.CreatedAt.UTC()

	var b strings.Builder
	fmt.Fprintf(&b, "Call recording: %s\n", title)
	fmt.Fprintf(&b, "Date: %s\n", created.Format("2006-01-02 15:04 MST"))
	fmt.Fprintf(&b, "Duration: %s\n", formatDuration(rec.DurationSeconds))

	if s := strings.TrimSpace(rec.Summary); s != "" {
		b.WriteString("\nSummary\n")
		b.WriteString(s)
		b.WriteString("\n")
	}
	if in := rec.Analysis.Insights; in != nil {
		writeList(&b, "Next steps", in.NextSteps)
		writeList(&b, "Key points", in.KeyPoints)
	}
	if c := rec.Analysis.Coaching; c != nil {
		if c.Score != nil {
			fmt.Fprintf(&b, "\nCoaching score: %s/10\n", strconv.FormatFloat(*c.Score, 'f', -1, 64))
		}
		writeList(&b, "Areas to improve", c.Improvements)
	}

	return model.Activity{
		Subject:         "Call recording: " + title,
		Body:            strings.TrimRight(b.String(), "\n"),
		Disposition:     ActivityDisposition,
		DurationSeconds: rec.DurationSeconds,
		OccurredAt:      created,
	}
}

func writeList(b *strings.Builder, heading string, items []string) {
	var kept []string
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			kept = append(kept, it)
		}
	}
	if len(kept) == 0 {
		return
	}
	b.WriteString("\n" + heading + "\n")
	for _, it := range kept {
		b.WriteString("- " + it + "\n")
	}
}

func formatDuration(seconds int) string {
	if seconds <= 0 {
		return "0s"
	}
	return (time.Duration(seconds) * time.Second).String()
}

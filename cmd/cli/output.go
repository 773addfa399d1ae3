package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/and161185/crmsync/internal/model"
)

func writeJSONOut(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeSyncResult(w io.Writer, format string, res model.SyncResult) error {
	if format == "json" {
		return writeJSONOut(w, res)
	}
	fmt.Fprintf(w, "run %s: %s\n", res.RunID, res.Status)
	fmt.Fprintf(w, "processed %d, successful %d, failed %d, skipped %d\n",
		res.Processed, res.Successful, res.Failed, res.Skipped)
	if res.Truncated {
		fmt.Fprintln(w, "warning: remote listing truncated; some calls were not read")
	}
	if res.Message != "" {
		fmt.Fprintln(w, res.Message)
	}
	writeDetails(w, res.Details)
	return nil
}

func writePublishResult(w io.Writer, format string, res model.PublishResult) error {
	if format == "json" {
		return writeJSONOut(w, res)
	}
	fmt.Fprintf(w, "run %s: %s\n", res.RunID, res.Status)
	fmt.Fprintf(w, "prospects synced %d, activities created %d\n", res.ProspectsSynced, res.ActivitiesCreated)
	if res.Message != "" {
		fmt.Fprintln(w, res.Message)
	}
	for _, a := range res.Activities {
		fmt.Fprintf(w, "  prospect %s -> activity %s\n", a.ProspectID, a.ActivityID)
	}
	writeDetails(w, res.Details)
	return nil
}

func writeDetails(w io.Writer, details []model.Detail) {
	for _, d := range details {
		if d.Status != string(model.SyncStatusError) {
			continue
		}
		fmt.Fprintf(w, "  error %s: %s\n", d.Ref, d.Message)
	}
}

func writeRuns(w io.Writer, format string, runs []model.SyncRun) error {
	if format == "json" {
		if runs == nil {
			runs = []model.SyncRun{}
		}
		return writeJSONOut(w, runs)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tOPERATION\tSTATUS\tSTARTED\tPROCESSED\tOK\tFAILED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
			r.ID, r.Operation, r.Status, r.StartedAt.UTC().Format(time.RFC3339),
			r.Counts.Processed, r.Counts.Successful, r.Counts.Failed)
	}
	return tw.Flush()
}

func writeToken(w io.Writer, format, token string, exp time.Time) error {
	if format == "json" {
		return writeJSONOut(w, map[string]any{"access_token": token, "expires_at": exp.UTC()})
	}
	_, err := fmt.Fprintln(w, token)
	return err
}

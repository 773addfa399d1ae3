package crm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const callsPath = "/api/v2/calls"

// CallListing is the bounded result of paginating a prospect's calls.
type CallListing struct {
	// Records holds each call resource exactly as received.
	Records []json.RawMessage
	// Pages is the number of page requests issued.
	Pages int
	// Truncated is set when the page or record cap stopped pagination while
	// the remote still had data.
	Truncated bool
}

// ListCallsForProspect pages through the calls of one prospect that occurred in
// the last lookbackDays, newest first. It stops at the configured record or page
// cap, whichever comes first. Any non-success response aborts the listing and
// nothing is returned.
func (c *Client) ListCallsForProspect(ctx context.Context, token, prospectID string, lookbackDays int) (*CallListing, error) {
	if prospectID == "" {
		return nil, errors.New("validation: empty prospect id")
	}
	q := url.Values{}
	q.Set("filter[prospect][id]", prospectID)
	if lookbackDays > 0 {
		since := c.now().UTC().AddDate(0, 0, -lookbackDays)
		q.Set("filter[occurredAt]", since.Format(time.RFC3339)+"..inf")
	}
	q.Set("sort", "-occurredAt")
	q.Set("page[size]", strconv.Itoa(c.limits.PageSize))

	u := c.endpoint(callsPath)
	u.RawQuery = q.Encode()
	next := u.String()

	out := &CallListing{}
	for next != "" {
		if out.Pages >= c.limits.MaxPages || len(out.Records) >= c.limits.MaxRecords {
			out.Truncated = true
			break
		}

		var page callPage
		if err := c.do(ctx, http.MethodGet, next, token, nil, &page); err != nil {
			return nil, err
		}
		out.Pages++

		room := c.limits.MaxRecords - len(out.Records)
		if len(page.Data) > room {
			out.Records = append(out.Records, page.Data[:room]...)
			out.Truncated = true
			break
		}
		out.Records = append(out.Records, page.Data...)

		if page.Links.Next == "" {
			break
		}
		link, err := c.resolve(page.Links.Next)
		if err != nil {
			return nil, err
		}
		next = link
	}
	return out, nil
}

// CreateCall creates a call activity scoped to in.ProspectID and returns its id.
func (c *Client) CreateCall(ctx context.Context, token string, in CallInput) (string, error) {
	if in.ProspectID == "" {
		return "", errors.New("validation: empty prospect id")
	}
	doc := createCallDocument{Data: createCallData{
		Type: "call",
		Attributes: CallAttributes{
			Subject:             &in.Subject,
			Body:                &in.Body,
			CallDisposition:     &in.CallDisposition,
			CallDurationSeconds: &in.CallDurationSeconds,
			OccurredAt:          &in.OccurredAt,
		},
	}}
	doc.Data.Relationships.Prospect.Data = &ResourceRef{Type: "prospect", ID: ID(in.ProspectID)}

	var created createdDocument
	if err := c.do(ctx, http.MethodPost, c.endpoint(callsPath).String(), token, doc, &created); err != nil {
		return "", err
	}
	if created.Data.ID == "" {
		return "", fmt.Errorf("%w: created call has no id", ErrDecode)
	}
	return string(created.Data.ID), nil
}

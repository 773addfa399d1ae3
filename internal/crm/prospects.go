package crm

import (
	"context"
	"errors"
	"net/http"
	"net/url"
)

const prospectsPath = "/api/v2/prospects"

// SearchProspectsByEmail returns the prospects whose email matches email.
// Zero matches is not an error.
func (c *Client) SearchProspectsByEmail(ctx context.Context, token, email string) ([]ProspectResource, error) {
	if email == "" {
		return nil, errors.New("validation: empty email")
	}
	q := url.Values{}
	q.Set("filter[emails]", email)
	u := c.endpoint(prospectsPath)
	u.RawQuery = q.Encode()

	var page prospectPage
	if err := c.do(ctx, http.MethodGet, u.String(), token, nil, &page); err != nil {
		return nil, err
	}
	return page.Data, nil
}

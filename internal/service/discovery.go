package service

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/and161185/crmsync/internal/convert"
	"github.com/and161185/crmsync/internal/crm"
	"github.com/and161185/crmsync/internal/model"
)

// emailPattern matches addr-spec shaped substrings. It is a heuristic: it misses
// quoted local parts and happily matches addresses that are merely mentioned.
var emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9\-]+(?:\.[A-Za-z0-9\-]+)*\.[A-Za-z]{2,}`)

// DiscoverProspects extracts candidate participant emails from a recording's speaker
// analysis (names, then utterances) and its transcript. Addresses are lower-cased and
// returned once each in first-seen order.
func DiscoverProspects(rec *model.Recording) []string {
	if rec == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	scan := func(text string) {
		for _, m := range emailPattern.FindAllString(text, -1) {
			e := normalizeEmail(m)
			if e == "" {
				continue
			}
			if _, ok := seen[e]; ok {
				continue
			}
			seen[e] = struct{}{}
			out = append(out, e)
		}
	}
	for _, sp := range rec.Analysis.Speakers {
		scan(sp.Name)
		scan(sp.Text)
	}
	scan(rec.Transcript)
	return out
}

func normalizeEmail(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.TrimLeft(s, ".")
}

// ProspectSearcher looks up CRM prospects by email.
type ProspectSearcher interface {
	SearchProspectsByEmail(ctx context.Context, token, email string) ([]crm.ProspectResource, error)
}

// Discovery resolves candidate emails to CRM prospects.
type Discovery struct {
	crm ProspectSearcher
	log *zap.Logger
}

// NewDiscovery constructs a Discovery.
func NewDiscovery(searcher ProspectSearcher, log *zap.Logger) *Discovery {
	if log == nil {
		log = zap.NewNop()
	}
	return &Discovery{crm: searcher, log: log}
}

// ResolveProspects searches the CRM for every email and collects all matches, each
// prospect once. A failed lookup is logged and skipped.
func (d *Discovery) ResolveProspects(ctx context.Context, token string, emails []string) []model.RemoteProspect {
	seen := make(map[string]struct{})
	var out []model.RemoteProspect
	for _, email := range emails {
		if ctx.Err() != nil {
			break
		}
		hits, err := d.crm.SearchProspectsByEmail(ctx, token, email)
		if err != nil {
			d.log.Warn("prospect lookup failed", zap.String("email", email), zap.Error(err))
			continue
		}
		for _, h := range hits {
			p, err := convert.ToRemoteProspect(h)
			if err != nil {
				d.log.Warn("skip malformed prospect", zap.String("email", email), zap.Error(err))
				continue
			}
			if _, ok := seen[p.ID]; ok {
				continue
			}
			seen[p.ID] = struct{}{}
			if p.Email == "" {
				p.Email = email
			}
			out = append(out, p)
		}
	}
	return out
}

package resolver

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

// Kitsu queries the Kitsu characters collection.
type Kitsu struct {
	httpOracle
}

// NewKitsu returns a Kitsu oracle for the characters endpoint.
func NewKitsu(name, endpoint string, client *http.Client) *Kitsu {
	return &Kitsu{httpOracle{name: name, endpoint: endpoint, confidence: 0.8, client: newClient(client)}}
}

type kitsuResponse struct {
	Data []struct {
		Attributes struct {
			Name          string `json:"name"`
			CanonicalName string `json:"canonicalName"`
		} `json:"attributes"`
	} `json:"data"`
}

// Lookup implements Oracle.
func (k *Kitsu) Lookup(ctx context.Context, name string) (*Match, error) {
	q := url.Values{}
	q.Set("filter[name]", name)
	q.Set("page[limit]", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.api+json")

	var out kitsuResponse
	if err := k.do(req, &out); err != nil {
		return nil, err
	}
	if len(out.Data) == 0 {
		return nil, ErrNoMatch
	}
	attrs := out.Data[0].Attributes
	if n := strings.TrimSpace(attrs.Name); n != "" {
		return k.match(n)
	}
	return k.match(attrs.CanonicalName)
}

package resolver

import (
	"context"
	"net/http"
	"net/url"
)

// Jikan queries the Jikan v4 character search.
type Jikan struct {
	httpOracle
}

// NewJikan returns a Jikan oracle for the characters endpoint.
func NewJikan(name, endpoint string, client *http.Client) *Jikan {
	return &Jikan{httpOracle{name: name, endpoint: endpoint, confidence: 0.8, client: newClient(client)}}
}

type jikanResponse struct {
	Data []struct {
		Name string `json:"name"`
	} `json:"data"`
}

// Lookup implements Oracle.
func (j *Jikan) Lookup(ctx context.Context, name string) (*Match, error) {
	q := url.Values{}
	q.Set("q", name)
	q.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, j.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var out jikanResponse
	if err := j.do(req, &out); err != nil {
		return nil, err
	}
	if len(out.Data) == 0 {
		return nil, ErrNoMatch
	}
	return j.match(out.Data[0].Name)
}

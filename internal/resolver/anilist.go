package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

const aniListQuery = `query ($search: String) { Character(search: $search) { name { full native } id } }`

// AniList queries the AniList GraphQL API.
type AniList struct {
	httpOracle
}

// NewAniList returns an AniList oracle posting to endpoint.
func NewAniList(name, endpoint string, client *http.Client) *AniList {
	return &AniList{httpOracle{name: name, endpoint: endpoint, confidence: 0.9, client: newClient(client)}}
}

type aniListResponse struct {
	Data struct {
		Character *struct {
			ID   int `json:"id"`
			Name struct {
				Full   string `json:"full"`
				Native string `json:"native"`
			} `json:"name"`
		} `json:"Character"`
	} `json:"data"`
}

// Lookup implements Oracle.
func (a *AniList) Lookup(ctx context.Context, name string) (*Match, error) {
	body, err := json.Marshal(map[string]any{
		"query":     aniListQuery,
		"variables": map[string]string{"search": name},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var out aniListResponse
	if err := a.do(req, &out); err != nil {
		return nil, err
	}
	c := out.Data.Character
	if c == nil {
		return nil, ErrNoMatch
	}
	if full := strings.TrimSpace(c.Name.Full); full != "" {
		return a.match(full)
	}
	return a.match(c.Name.Native)
}

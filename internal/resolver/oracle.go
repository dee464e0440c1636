package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// UserAgent is sent on every oracle request.
const UserAgent = "namecall/1.0"

const maxBodyBytes = 1 << 20

// ErrNoMatch is returned when an oracle answered but knows no such character.
var ErrNoMatch = errors.New("resolver: no match")

// Match is a resolved character name.
type Match struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

// Oracle looks a name up in one remote catalogue.
type Oracle interface {
	Name() string
	Lookup(ctx context.Context, name string) (*Match, error)
}

// RateLimitedError reports an HTTP 429 from an oracle.
type RateLimitedError struct {
	Oracle     string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s rate limited, retry after %s", e.Oracle, e.RetryAfter)
}

// httpOracle holds the plumbing shared by the HTTP catalogues.
type httpOracle struct {
	name       string
	endpoint   string
	confidence float64
	client     *http.Client
}

func (o *httpOracle) Name() string { return o.name }

// do sends req and decodes a 2xx JSON body into out.
func (o *httpOracle) do(req *http.Request, out any) error {
	req.Header.Set("User-Agent", UserAgent)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return &RateLimitedError{Oracle: o.name, RetryAfter: retryAfter(resp.Header)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return fmt.Errorf("%s http %d", o.name, resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(out); err != nil {
		return fmt.Errorf("%s decode: %w", o.name, err)
	}
	return nil
}

func (o *httpOracle) match(name string) (*Match, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNoMatch
	}
	return &Match{Name: name, Confidence: o.confidence, Source: o.name}, nil
}

// retryAfter reads Retry-After in seconds, defaulting to one second.
func retryAfter(h http.Header) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return time.Second
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return time.Second
	}
	return time.Duration(secs) * time.Second
}

func newClient(client *http.Client) *http.Client {
	if client == nil {
		return &http.Client{Timeout: 10 * time.Second}
	}
	return client
}

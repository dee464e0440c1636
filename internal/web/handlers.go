package web

import (
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/hpungsan/namecall/internal/bot"
	"github.com/hpungsan/namecall/internal/errors"
	"github.com/hpungsan/namecall/internal/ops"
	"github.com/hpungsan/namecall/internal/store"
)

// StatusSource reports the live bot state.
type StatusSource interface {
	Status() bot.Status
}

// Handlers contains HTTP route handlers for the status server.
type Handlers struct {
	store    *store.Store
	status   StatusSource
	renderer *Renderer
}

// HandleStatus handles GET /status.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if h.status == nil {
		h.renderer.renderError(w, r, errors.NewUnavailable("bot", nil))
		return
	}
	st := h.status.Status()

	h.renderer.renderPage(w, r, "status", StatusPageData{
		PageData: PageData{
			Title:   "Status",
			Version: h.renderer.version,
			Nav:     "status",
		},
		Status:       st,
		RenderedHTML: renderMarkdown(statusMarkdown(st)),
	})
}

// HandleStatusJSON handles GET /status.json.
func (h *Handlers) HandleStatusJSON(w http.ResponseWriter, r *http.Request) {
	if h.status == nil {
		h.renderer.renderError(w, r, errors.NewUnavailable("bot", nil))
		return
	}
	renderJSON(w, http.StatusOK, h.status.Status())
}

// HandleNames handles GET /names, the paginated mapping listing.
func (h *Handlers) HandleNames(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	source := r.URL.Query().Get("source")

	result, err := ops.List(h.store, ops.ListInput{
		Source: source,
		Query:  query,
		Limit:  parseIntParam(r, "limit", ops.DefaultListLimit),
		Offset: parseIntParam(r, "offset", 0),
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	data := NamesPageData{
		PageData: PageData{
			Title:   "Names",
			Version: h.renderer.version,
			Nav:     "names",
		},
		Items: result.Items,
		Pagination: Pagination{
			Limit:   result.Pagination.Limit,
			Offset:  result.Pagination.Offset,
			HasMore: result.Pagination.HasMore,
			Total:   result.Pagination.Total,
		},
		Query:   query,
		Source:  source,
		Sources: sources(h.store),
	}

	// If htmx targets #results, render only the results fragment
	if r.Header.Get("HX-Target") == "results" {
		h.renderer.renderBlock(w, http.StatusOK, "names", "names-results", data)
		return
	}

	h.renderer.renderPage(w, r, "names", data)
}

// HandleNamesJSON handles GET /names.json.
func (h *Handlers) HandleNamesJSON(w http.ResponseWriter, r *http.Request) {
	result, err := ops.List(h.store, ops.ListInput{
		Source: r.URL.Query().Get("source"),
		Query:  r.URL.Query().Get("q"),
		Limit:  parseIntParam(r, "limit", ops.DefaultListLimit),
		Offset: parseIntParam(r, "offset", 0),
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// HandleLookup handles GET /names/{token}. The response is always JSON.
func (h *Handlers) HandleLookup(w http.ResponseWriter, r *http.Request) {
	result, err := ops.Lookup(h.store, ops.LookupInput{Token: r.PathValue("token")})
	if err != nil {
		r.Header.Set("Accept", "application/json")
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// statusMarkdown is the human summary at the top of the status page.
func statusMarkdown(st bot.Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n\n", st.Summary)
	if st.State.Active {
		fmt.Fprintf(&b, "Replying in **%s**", st.State.GroupName)
		if st.State.ActivatedAt > 0 {
			fmt.Fprintf(&b, " since %s", formatTime(time.Unix(st.State.ActivatedAt, 0)))
		}
		b.WriteString(".\n\n")
	} else {
		b.WriteString("Not replying in any group.\n\n")
	}
	fmt.Fprintf(&b, "- Learned names: %d\n", st.Learned)
	fmt.Fprintf(&b, "- Static names: %d\n", st.Static)
	if st.Delivery.Mistakes > 0 {
		fmt.Fprintf(&b, "- Mistakes: %d (%d corrected)\n", st.Delivery.Mistakes, st.Delivery.Corrections)
	}
	return b.String()
}

// sources lists the distinct mapping sources for the filter dropdown.
func sources(st *store.Store) []string {
	stats := ops.Stats(st)
	out := make([]string, 0, len(stats.BySource))
	for s := range stats.BySource {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

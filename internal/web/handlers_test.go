package web

import (
	"context"
	"encoding/json"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/hpungsan/namecall/internal/bot"
	"github.com/hpungsan/namecall/internal/delivery"
	"github.com/hpungsan/namecall/internal/store"
)

type fakeStatus struct {
	status bot.Status
}

func (f *fakeStatus) Status() bot.Status { return f.status }

func activeStatus() bot.Status {
	return bot.Status{
		State: bot.State{
			Active:      true,
			GroupID:     "123@g.us",
			GroupName:   "Anime Club",
			ActivatedAt: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC).Unix(),
		},
		Summary:   bot.StatusActive,
		Learned:   2,
		Static:    1,
		Received:  10,
		Admitted:  8,
		Replied:   5,
		Delivery:  delivery.Stats{Sent: 5, Mistakes: 1, Corrections: 1},
		StartedAt: time.Date(2026, 5, 1, 11, 0, 0, 0, time.UTC),
	}
}

func setupTest(t *testing.T, status StatusSource) *Handlers {
	t.Helper()

	st := store.New(nil, zaptest.NewLogger(t))
	st.Seed(map[string]string{"ناروتو": "Naruto Uzumaki"})
	st.Remember("غوكو", store.Record{Name: "Son Goku", Confidence: 0.9, Source: "jikan"})
	st.Remember("لوفي", store.Record{Name: "Luffy", Confidence: 0.8, Source: "kitsu"})

	templateSub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		t.Fatalf("template sub-FS: %v", err)
	}

	return &Handlers{
		store:    st,
		status:   status,
		renderer: NewRenderer(templateSub, "test", zaptest.NewLogger(t)),
	}
}

func TestHandleStatus_Page(t *testing.T) {
	h := setupTest(t, &fakeStatus{status: activeStatus()})

	rec := httptest.NewRecorder()
	h.HandleStatus(rec, httptest.NewRequest("GET", "/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "<!DOCTYPE html>")
	require.Contains(t, body, "<h2>"+bot.StatusActive+"</h2>")
	require.Contains(t, body, "<strong>Anime Club</strong>")
	require.Contains(t, body, "Mistakes: 1 (1 corrected)")
	require.Contains(t, body, "2026-05-01 11:00")
}

func TestHandleStatus_HtmxReturnsContentOnly(t *testing.T) {
	h := setupTest(t, &fakeStatus{status: activeStatus()})

	req := httptest.NewRequest("GET", "/status", nil)
	req.Header.Set("HX-Request", "true")
	rec := httptest.NewRecorder()
	h.HandleStatus(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), "<!DOCTYPE html>")
	require.Contains(t, rec.Body.String(), "Anime Club")
}

func TestHandleStatus_Inactive(t *testing.T) {
	h := setupTest(t, &fakeStatus{status: bot.Status{Summary: bot.StatusInactive}})

	rec := httptest.NewRecorder()
	h.HandleStatus(rec, httptest.NewRequest("GET", "/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Not replying in any group.")
	require.NotContains(t, rec.Body.String(), "Mistakes:")
}

func TestHandleStatusJSON(t *testing.T) {
	h := setupTest(t, &fakeStatus{status: activeStatus()})

	rec := httptest.NewRecorder()
	h.HandleStatusJSON(rec, httptest.NewRequest("GET", "/status.json", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got bot.Status
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Equal(t, "Anime Club", got.State.GroupName)
	require.Equal(t, int64(5), got.Replied)
}

func TestHandleStatus_NoBot(t *testing.T) {
	h := setupTest(t, nil)

	rec := httptest.NewRecorder()
	h.HandleStatusJSON(rec, httptest.NewRequest("GET", "/status.json", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	errObj := resp["error"].(map[string]any)
	require.Equal(t, "UNAVAILABLE", errObj["code"])

	rec = httptest.NewRecorder()
	h.HandleStatus(rec, httptest.NewRequest("GET", "/status", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "503")
}

func TestHandleNames_Page(t *testing.T) {
	h := setupTest(t, nil)

	rec := httptest.NewRecorder()
	h.HandleNames(rec, httptest.NewRequest("GET", "/names", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "Naruto Uzumaki")
	require.Contains(t, body, "Son Goku")
	require.Contains(t, body, "90%")
	require.Contains(t, body, `<option value="jikan"`)
}

func TestHandleNames_Filtered(t *testing.T) {
	h := setupTest(t, nil)

	rec := httptest.NewRecorder()
	h.HandleNames(rec, httptest.NewRequest("GET", "/names?source=kitsu", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Luffy")
	require.NotContains(t, rec.Body.String(), "Son Goku")
}

func TestHandleNames_HtmxTargetResults_ReturnsFragment(t *testing.T) {
	h := setupTest(t, nil)

	req := httptest.NewRequest("GET", "/names?q=luffy", nil)
	req.Header.Set("HX-Request", "true")
	req.Header.Set("HX-Target", "results")
	rec := httptest.NewRecorder()
	h.HandleNames(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.True(t, strings.HasPrefix(strings.TrimSpace(body), `<div id="results">`), body)
	require.NotContains(t, body, "<form")
}

func TestHandleNames_Pagination(t *testing.T) {
	h := setupTest(t, nil)

	rec := httptest.NewRecorder()
	h.HandleNames(rec, httptest.NewRequest("GET", "/names?limit=1&offset=1", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "Previous")
	require.Contains(t, body, "Next")
	require.Contains(t, body, "of 3")
}

func TestHandleNamesJSON(t *testing.T) {
	h := setupTest(t, nil)

	rec := httptest.NewRecorder()
	h.HandleNamesJSON(rec, httptest.NewRequest("GET", "/names.json?limit=2", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Items      []store.Entry `json:"items"`
		Pagination struct {
			Total   int  `json:"total"`
			HasMore bool `json:"has_more"`
		} `json:"pagination"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Items, 2)
	require.True(t, resp.Items[0].Static)
	require.Equal(t, 3, resp.Pagination.Total)
	require.True(t, resp.Pagination.HasMore)
}

func TestHandleLookup(t *testing.T) {
	h := setupTest(t, nil)

	req := httptest.NewRequest("GET", "/names/x", nil)
	req.SetPathValue("token", "غوكو")
	rec := httptest.NewRecorder()
	h.HandleLookup(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Equal(t, "Son Goku", got["name"])

	req = httptest.NewRequest("GET", "/names/x", nil)
	req.SetPathValue("token", "زورو")
	rec = httptest.NewRecorder()
	h.HandleLookup(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Equal(t, "NOT_FOUND", got["error"].(map[string]any)["code"])
}

func TestMux_RoutesAndHeaders(t *testing.T) {
	h := setupTest(t, &fakeStatus{status: activeStatus()})
	staticSub, err := fs.Sub(staticFS, "static")
	require.NoError(t, err)

	srv := httptest.NewServer(securityHeaders(newMux(h, staticSub)))
	defer srv.Close()

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}

	resp, err := client.Get(srv.URL + "/")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "/status", resp.Header.Get("Location"))
	require.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))

	resp, err = client.Get(srv.URL + "/static/style.css")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = client.Get(srv.URL + "/status.json")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = client.Post(srv.URL+"/status", "text/plain", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	h := setupTest(t, nil)
	staticSub, err := fs.Sub(staticFS, "static")
	require.NoError(t, err)

	srv := &http.Server{Addr: "127.0.0.1:0", Handler: newMux(h, staticSub)}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- Run(ctx, srv, zaptest.NewLogger(t)) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(ShutdownTimeout + time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestFormatConfidence(t *testing.T) {
	require.Equal(t, "100%", formatConfidence(1))
	require.Equal(t, "66%", formatConfidence(0.66))
	require.Equal(t, "-", formatTime(time.Time{}))
}

func TestParseIntParam(t *testing.T) {
	req := httptest.NewRequest("GET", "/names?limit=5&offset=abc", nil)
	require.Equal(t, 5, parseIntParam(req, "limit", 20))
	require.Equal(t, 0, parseIntParam(req, "offset", 0))
	require.Equal(t, 7, parseIntParam(req, "missing", 7))
}

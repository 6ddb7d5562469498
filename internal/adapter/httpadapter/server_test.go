package httpadapter_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/civicfix-service/internal/adapter/filestore"
	"github.com/couchcryptid/civicfix-service/internal/adapter/httpadapter"
	"github.com/couchcryptid/civicfix-service/internal/adapter/memory"
	"github.com/couchcryptid/civicfix-service/internal/domain"
	"github.com/couchcryptid/civicfix-service/internal/duplicate"
	"github.com/couchcryptid/civicfix-service/internal/observability"
	"github.com/couchcryptid/civicfix-service/internal/offline"
	"github.com/couchcryptid/civicfix-service/internal/pipeline"
	"github.com/couchcryptid/civicfix-service/internal/triage"
)

// --- mocks ---

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

type fakeConn struct{ online atomic.Bool }

func (f *fakeConn) Online() bool { return f.online.Load() }

type countingGeocoder struct{ reverseCalls atomic.Int32 }

func (g *countingGeocoder) ForwardGeocode(context.Context, string) (domain.GeocodingResult, error) {
	return domain.GeocodingResult{}, nil
}

func (g *countingGeocoder) ReverseGeocode(context.Context, float64, float64) (domain.GeocodingResult, error) {
	g.reverseCalls.Add(1)
	return domain.GeocodingResult{FormattedAddress: "MG Road, Bengaluru"}, nil
}

// --- harness ---

type testEnv struct {
	srv   *httpadapter.Server
	store *memory.IssueStore
	conn  *fakeConn
}

func newTestEnv(t *testing.T, readyErr error) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetricsForTesting()

	store := memory.NewIssueStore()
	assets, err := filestore.New(t.TempDir(), "/assets")
	require.NoError(t, err)
	queue := offline.NewQueue(memory.NewKV(), metrics)
	conn := &fakeConn{}
	conn.online.Store(true)

	detector := duplicate.NewDetector(store, duplicate.Config{}, clockwork.NewRealClock(), logger, metrics)
	pipe := pipeline.New(pipeline.Deps{
		Store:      store,
		Assets:     assets,
		Duplicates: detector,
		Drafts:     queue,
		Conn:       conn,
	}, pipeline.Config{}, logger, metrics)
	tri := triage.NewService(store, assets, nil, nil, logger, metrics)

	srv := httpadapter.NewServer(":0", httpadapter.API{
		Pipeline:   pipe,
		Triage:     tri,
		Duplicates: detector,
		Drafts:     queue,
		Replayer:   offline.NewReplayer(queue, pipe, conn, nil, logger, metrics),
		Conn:       conn,
		Assets:     assets,
	}, &mockReadiness{err: readyErr}, logger)

	return &testEnv{srv: srv, store: store, conn: conn}
}

func (e *testEnv) do(t *testing.T, method, target string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) doJSON(t *testing.T, method, target string, v any) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if v != nil {
		data, err := json.Marshal(v)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}
	return e.do(t, method, target, body, "application/json")
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func payload(lat, lng float64) map[string]any {
	return map[string]any{
		"title":       "Overflowing bin",
		"description": "Not collected for days",
		"category":    "Garbage",
		"fullAddress": "Brigade Road, Bengaluru",
		"city":        "Bengaluru",
		"state":       "Karnataka",
		"pincode":     "560025",
		"country":     "India",
		"lat":         lat,
		"lng":         lng,
		"userId":      "citizen-1",
	}
}

type part struct {
	field, name, contentType string
	data                     []byte
}

func multipartBody(t *testing.T, fields map[string]string, files ...part) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.field, f.name))
		h.Set("Content-Type", f.contentType)
		w, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = w.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

type submitResult struct {
	Outcome   string `json:"outcome"`
	IssueID   string `json:"issueId"`
	DraftID   string `json:"draftId"`
	Message   string `json:"message"`
	Duplicate *struct {
		Issue          domain.IssueRecord `json:"issue"`
		DistanceMeters float64            `json:"distanceMeters"`
	} `json:"duplicate"`
}

// --- health ---

func TestHealthzReturns200(t *testing.T) {
	rec := newTestEnv(t, nil).do(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReflectsChecker(t *testing.T) {
	assert.Equal(t, http.StatusOK, newTestEnv(t, nil).do(t, http.MethodGet, "/readyz", nil, "").Code)
	notReady := newTestEnv(t, fmt.Errorf("connectivity not probed yet"))
	assert.Equal(t, http.StatusServiceUnavailable, notReady.do(t, http.MethodGet, "/readyz", nil, "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := newTestEnv(t, nil).do(t, http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

// --- issues ---

func TestSubmitIssue_JSONCreatesAndFetches(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.doJSON(t, http.MethodPost, "/v1/issues", payload(12.9716, 77.5946))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decode[submitResult](t, rec)
	assert.Equal(t, "created", res.Outcome)

	rec = env.do(t, http.MethodGet, "/v1/issues/"+res.IssueID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	issue := decode[domain.IssueRecord](t, rec)
	assert.Equal(t, domain.StatusSubmitted, issue.Status)
	assert.Equal(t, "Sanitation", issue.Department)
	assert.Len(t, issue.StatusHistory, 1)
}

func TestSubmitIssue_DuplicateThenForce(t *testing.T) {
	env := newTestEnv(t, nil)
	first := decode[submitResult](t, env.doJSON(t, http.MethodPost, "/v1/issues", payload(12.9716, 77.5946)))

	rec := env.doJSON(t, http.MethodPost, "/v1/issues", payload(12.97165, 77.59465))
	require.Equal(t, http.StatusConflict, rec.Code)
	res := decode[submitResult](t, rec)
	require.NotNil(t, res.Duplicate)
	assert.Equal(t, first.IssueID, res.Duplicate.Issue.ID)

	rec = env.doJSON(t, http.MethodPost, "/v1/issues?force=true", payload(12.97165, 77.59465))
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestSubmitIssue_ValidationErrorListsFields(t *testing.T) {
	env := newTestEnv(t, nil)
	p := payload(12.9716, 77.5946)
	delete(p, "city")
	p["title"] = ""

	rec := env.doJSON(t, http.MethodPost, "/v1/issues", p)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[struct {
		Fields []domain.FieldError `json:"fields"`
	}](t, rec)
	fields := make([]string, 0, len(body.Fields))
	for _, f := range body.Fields {
		fields = append(fields, f.Field)
	}
	assert.ElementsMatch(t, []string{"title", "city"}, fields)
}

func TestSubmitIssue_MalformedBody(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodPost, "/v1/issues", strings.NewReader("{"), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitIssue_MultipartPhotoIsServed(t *testing.T) {
	env := newTestEnv(t, nil)
	raw, err := json.Marshal(payload(12.9716, 77.5946))
	require.NoError(t, err)
	photo := []byte{0xff, 0xd8, 0xff, 0xe0}
	body, ct := multipartBody(t, map[string]string{"payload": string(raw)},
		part{field: "photo", name: "bin.jpg", contentType: "image/jpeg", data: photo})

	rec := env.do(t, http.MethodPost, "/v1/issues", body, ct)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decode[submitResult](t, rec)

	issue, err := env.store.GetIssue(context.Background(), res.IssueID)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(issue.BeforeImageURL, "/assets/issue-images/citizen-1/"))

	rec = env.do(t, http.MethodGet, issue.BeforeImageURL, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, photo, rec.Body.Bytes())
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
}

func TestSubmitIssue_RejectsGIF(t *testing.T) {
	env := newTestEnv(t, nil)
	raw, err := json.Marshal(payload(12.9716, 77.5946))
	require.NoError(t, err)
	body, ct := multipartBody(t, map[string]string{"payload": string(raw)},
		part{field: "photo", name: "bin.gif", contentType: "image/gif", data: []byte("GIF89a")})

	rec := env.do(t, http.MethodPost, "/v1/issues", body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetIssue_NotFound(t *testing.T) {
	rec := newTestEnv(t, nil).do(t, http.MethodGet, "/v1/issues/missing", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListIssues_FiltersAndRejectsUnknownStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	env.doJSON(t, http.MethodPost, "/v1/issues", payload(12.9716, 77.5946))
	env.doJSON(t, http.MethodPost, "/v1/issues", payload(13.0827, 80.2707))

	rec := env.do(t, http.MethodGet, "/v1/issues?category=Garbage&status=Submitted,In%20Progress&limit=1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Issues []domain.IssueRecord `json:"issues"`
	}](t, rec)
	assert.Len(t, list.Issues, 1)

	rec = env.do(t, http.MethodGet, "/v1/issues?status=Closed", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateStatus_ResolveNeedsPhoto(t *testing.T) {
	env := newTestEnv(t, nil)
	res := decode[submitResult](t, env.doJSON(t, http.MethodPost, "/v1/issues", payload(12.9716, 77.5946)))
	target := "/v1/issues/" + res.IssueID + "/status"

	rec := env.doJSON(t, http.MethodPatch, target, map[string]string{"status": "Resolved", "staffId": "s1"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body, ct := multipartBody(t, map[string]string{"status": "Resolved", "staffId": "s1", "staffName": "Asha"},
		part{field: "afterImage", name: "clean.png", contentType: "image/png", data: []byte("\x89PNG")})
	rec = env.do(t, http.MethodPatch, target, body, ct)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	issue := decode[domain.IssueRecord](t, rec)
	assert.Equal(t, domain.StatusResolved, issue.Status)
	assert.Len(t, issue.StatusHistory, 4)
	assert.NotEmpty(t, issue.AfterImageURL)
}

func TestToggleUpvote(t *testing.T) {
	env := newTestEnv(t, nil)
	res := decode[submitResult](t, env.doJSON(t, http.MethodPost, "/v1/issues", payload(12.9716, 77.5946)))
	target := "/v1/issues/" + res.IssueID + "/upvote"

	up := decode[domain.UpvoteResult](t, env.doJSON(t, http.MethodPost, target, map[string]string{"userId": "u2"}))
	assert.Equal(t, domain.UpvoteResult{Upvoted: true, Upvotes: 1}, up)

	down := decode[domain.UpvoteResult](t, env.doJSON(t, http.MethodPost, target, map[string]string{"userId": "u2"}))
	assert.Equal(t, domain.UpvoteResult{Upvoted: false, Upvotes: 0}, down)
}

func TestFindDuplicate(t *testing.T) {
	env := newTestEnv(t, nil)
	first := decode[submitResult](t, env.doJSON(t, http.MethodPost, "/v1/issues", payload(12.9716, 77.5946)))

	rec := env.do(t, http.MethodGet, "/v1/duplicates?category=Garbage&lat=12.97165&lng=77.59465", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), first.IssueID)

	rec = env.do(t, http.MethodGet, "/v1/duplicates?category=Pothole&lat=12.97165&lng=77.59465", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"duplicate":null}`, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/v1/duplicates?category=Garbage&lat=north&lng=1", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// --- offline drafts ---

func TestOfflineSubmitQueuesThenReplays(t *testing.T) {
	env := newTestEnv(t, nil)
	env.conn.online.Store(false)

	rec := env.doJSON(t, http.MethodPost, "/v1/issues", payload(12.9716, 77.5946))
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.NotEmpty(t, decode[submitResult](t, rec).DraftID)

	drafts := decode[struct {
		Drafts []domain.Draft `json:"drafts"`
	}](t, env.do(t, http.MethodGet, "/v1/drafts", nil, ""))
	assert.Len(t, drafts.Drafts, 1)

	conn := decode[map[string]bool](t, env.do(t, http.MethodGet, "/v1/connectivity", nil, ""))
	assert.False(t, conn["online"])

	env.conn.online.Store(true)
	rec = env.do(t, http.MethodPost, "/v1/drafts/replay", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	replay := decode[offline.ReplayResult](t, rec)
	assert.Len(t, replay.Delivered, 1)
	assert.Equal(t, 0, replay.Remaining)

	issues, err := env.store.QueryIssues(context.Background(), domain.IssueQuery{})
	require.NoError(t, err)
	assert.Len(t, issues, 1)
}

func TestDrafts_QueueAndRemove(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.doJSON(t, http.MethodPost, "/v1/drafts", payload(12.9716, 77.5946))
	require.Equal(t, http.StatusCreated, rec.Code)
	draft := decode[domain.Draft](t, rec)

	rec = env.do(t, http.MethodDelete, "/v1/drafts/"+draft.ID, nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	drafts := decode[struct {
		Drafts []domain.Draft `json:"drafts"`
	}](t, env.do(t, http.MethodGet, "/v1/drafts", nil, ""))
	assert.Empty(t, drafts.Drafts)
}

func TestFindDuplicate_RejectsUnusableCoordinates(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name  string
		query string
	}{
		{name: "NaN latitude", query: "lat=NaN&lng=77.59"},
		{name: "infinite longitude", query: "lat=12.97&lng=Inf"},
		{name: "negative infinity", query: "lat=-Inf&lng=77.59"},
		{name: "latitude past the pole", query: "lat=200&lng=77.59"},
		{name: "longitude past the antimeridian", query: "lat=12.97&lng=181"},
		{name: "NaN radius", query: "lat=12.97&lng=77.59&radius=NaN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, "/v1/duplicates?category=Garbage&"+tt.query, nil, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestReverseGeocode_RejectsUnusableCoordinates(t *testing.T) {
	geocoder := &countingGeocoder{}
	srv := httpadapter.NewServer(":0", httpadapter.API{Geocoder: geocoder}, &mockReadiness{},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	env := &testEnv{srv: srv}

	for _, q := range []string{"lat=NaN&lng=1", "lat=1&lng=-Inf", "lat=-91&lng=1"} {
		rec := env.do(t, http.MethodGet, "/v1/geocode/reverse?"+q, nil, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
	assert.Zero(t, geocoder.reverseCalls.Load())

	rec := env.do(t, http.MethodGet, "/v1/geocode/reverse?lat=12.97&lng=77.59", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int32(1), geocoder.reverseCalls.Load())
}

func TestGeocodeWithoutProviderIsNotImplemented(t *testing.T) {
	rec := newTestEnv(t, nil).do(t, http.MethodGet, "/v1/geocode/reverse?lat=1&lng=2", nil, "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

// --- streaming ---

func TestStreamIssues_SendsSnapshotAndUpdates(t *testing.T) {
	env := newTestEnv(t, nil)
	ts := httptest.NewServer(env.srv)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/issues/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan string, 4)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			if data, ok := strings.CutPrefix(scanner.Text(), "data: "); ok {
				events <- data
			}
		}
		close(events)
	}()

	assert.Equal(t, "[]", <-events)

	env.doJSON(t, http.MethodPost, "/v1/issues", payload(12.9716, 77.5946))
	var issues []domain.IssueRecord
	require.NoError(t, json.Unmarshal([]byte(<-events), &issues))
	assert.Len(t, issues, 1)
}

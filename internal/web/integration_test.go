package web_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/nutrilog/internal/db"
	"github.com/vbonduro/nutrilog/internal/domain"
	"github.com/vbonduro/nutrilog/internal/generation"
	"github.com/vbonduro/nutrilog/internal/nutrition"
	"github.com/vbonduro/nutrilog/internal/store"
	"github.com/vbonduro/nutrilog/internal/web"
	"github.com/vbonduro/nutrilog/internal/web/templates"
)

// minimalJPEG is 512 bytes with the JPEG magic bytes header followed by zeros.
// http.DetectContentType identifies JPEG from the leading 0xFF 0xD8 bytes.
var minimalJPEG = func() []byte {
	b := make([]byte, 512)
	b[0] = 0xFF
	b[1] = 0xD8
	b[2] = 0xFF
	b[3] = 0xE0
	return b
}()

// scriptedModel answers per-meal prompts with numbered meals and every other
// prompt with a fixed text. It records each request.
type scriptedModel struct {
	mu       sync.Mutex
	requests []domain.GenerationRequest
	fail     error
}

func (m *scriptedModel) Generate(_ context.Context, req domain.GenerationRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.fail != nil {
		return "", m.fail
	}
	if strings.Contains(req.Instruction, nutrition.MealNameLabel) {
		n := len(m.requests)
		return fmt.Sprintf("%s Meal %d\n%s summary %d", nutrition.MealNameLabel, n, nutrition.MealSummaryLabel, n), nil
	}
	return fmt.Sprintf("generated text %d", len(m.requests)), nil
}

func (m *scriptedModel) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

func (m *scriptedModel) Requests() []domain.GenerationRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.GenerationRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

type scriptedConnector struct{ model *scriptedModel }

func (c scriptedConnector) Connect(_ context.Context, credential string) (generation.Client, error) {
	if _, err := generation.RequireCredential("scripted", credential); err != nil {
		return nil, err
	}
	return c.model, nil
}

func (c scriptedConnector) Name() string { return "scripted" }

type testEnv struct {
	srv    *httptest.Server
	client *http.Client
	model  *scriptedModel
	days   *store.DayStore
}

// newTestEnv sets up a real web.Server backed by in-memory SQLite and the
// scripted model, plus a cookie-keeping client.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test")
	}
	database, err := db.OpenForTesting()
	require.NoError(t, err)

	model := &scriptedModel{}
	days := store.NewDayStore(database)
	pipeline := nutrition.NewPipeline(scriptedConnector{model: model}, days, 1, slog.Default())
	sessions := nutrition.NewSessionStore(time.Hour, nil, slog.Default())

	srv := httptest.NewServer(web.NewServer(pipeline, sessions, days, templates.FS, slog.Default()))
	t.Cleanup(func() {
		srv.Close()
		_ = database.Close()
	})

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &testEnv{srv: srv, client: &http.Client{Jar: jar}, model: model, days: days}
}

func (e *testEnv) postForm(t *testing.T, path string, values url.Values) (int, string) {
	t.Helper()
	resp, err := e.client.PostForm(e.srv.URL+path, values)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func (e *testEnv) get(t *testing.T, path string) (int, string) {
	t.Helper()
	resp, err := e.client.Get(e.srv.URL + path)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

type filePart struct {
	name        string
	contentType string
	data        []byte
}

func (e *testEnv) postFiles(t *testing.T, path, field string, files []filePart, extra map[string]string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range extra {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, field, f.name))
		h.Set("Content-Type", f.contentType)
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, e.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := e.client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

type sseEvent struct {
	name string
	data map[string]any
}

func readEvents(t *testing.T, resp *http.Response) []sseEvent {
	t.Helper()
	var events []sseEvent
	var current sseEvent
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &current.data))
		case line == "":
			if current.name != "" {
				events = append(events, current)
			}
			current = sseEvent{}
		}
	}
	require.NoError(t, scanner.Err())
	return events
}

func (e *testEnv) ready(t *testing.T) {
	t.Helper()
	status, _ := e.postForm(t, "/session/credential", url.Values{"api_key": {"test-key"}})
	require.Equal(t, http.StatusOK, status)
	status, _ = e.postForm(t, "/session/goal", url.Values{"goal": {"eat more protein"}})
	require.Equal(t, http.StatusOK, status)
}

func jpegParts(names ...string) []filePart {
	parts := make([]filePart, 0, len(names))
	for _, n := range names {
		parts = append(parts, filePart{name: n, contentType: "image/jpeg", data: minimalJPEG})
	}
	return parts
}

func TestIndexSetsSessionCookie(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.get(t, "/")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `name="api_key"`)
	assert.Contains(t, body, "Enter your API key")

	u, _ := url.Parse(env.srv.URL)
	cookies := env.client.Jar.Cookies(u)
	require.Len(t, cookies, 1)
	assert.Equal(t, "nutrilog_session", cookies[0].Name)
}

func TestSecurityHeaders(t *testing.T) {
	env := newTestEnv(t)
	resp, err := env.client.Get(env.srv.URL + "/")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.NotEmpty(t, resp.Header.Get("Content-Security-Policy"))
}

func TestAnalyzeWithoutCredentialShowsNotice(t *testing.T) {
	env := newTestEnv(t)

	resp := env.postFiles(t, "/meals", "images", jpegParts("a.jpg"), nil)
	body := readAll(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `class="notice error"`)
	assert.Contains(t, body, "valid API key")
	assert.Empty(t, env.model.Requests())
}

func TestAnalyzeWithoutGoalShowsWarning(t *testing.T) {
	env := newTestEnv(t)
	status, _ := env.postForm(t, "/session/credential", url.Values{"api_key": {"k"}})
	require.Equal(t, http.StatusOK, status)

	resp := env.postFiles(t, "/meals", "images", jpegParts("a.jpg"), nil)
	body := readAll(t, resp)
	assert.Contains(t, body, `class="notice warning"`)
}

func TestBlankCredentialShowsNotice(t *testing.T) {
	env := newTestEnv(t)
	status, body := env.postForm(t, "/session/credential", url.Values{"api_key": {"  "}})
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "valid API key")
}

func TestAnalyzeMealsAndLedger(t *testing.T) {
	env := newTestEnv(t)
	env.ready(t)

	resp := env.postFiles(t, "/meals", "images", jpegParts("breakfast.jpg", "lunch.jpg"), nil)
	body := readAll(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Meal 1")
	assert.Contains(t, body, "Meal 2")
	assert.Contains(t, body, "2 meal(s) logged today")

	reqs := env.model.Requests()
	require.Len(t, reqs, 2)
	assert.Contains(t, reqs[0].Instruction, "eat more protein")
	assert.Equal(t, minimalJPEG, reqs[0].Images[0].Data())

	_, page := env.get(t, "/")
	assert.Contains(t, page, "summary 1")
	assert.Contains(t, page, "eat more protein")
}

func TestAnalyzeRejectsUnsupportedType(t *testing.T) {
	env := newTestEnv(t)
	env.ready(t)

	resp := env.postFiles(t, "/meals", "images", []filePart{{name: "doc.pdf", contentType: "application/pdf", data: []byte("%PDF-1.4")}}, nil)
	body := readAll(t, resp)
	assert.Contains(t, body, "unsupported image type, use jpg, png or heif: doc.pdf")
	assert.Empty(t, env.model.Requests())
}

func TestAnalyzeWithoutFiles(t *testing.T) {
	env := newTestEnv(t)
	env.ready(t)

	resp := env.postFiles(t, "/meals", "images", nil, nil)
	body := readAll(t, resp)
	assert.Contains(t, body, "no image uploaded, please try again")
}

func TestStreamMeals(t *testing.T) {
	env := newTestEnv(t)
	env.ready(t)

	resp := env.postFiles(t, "/meals/stream", "images", jpegParts("a.jpg", "b.jpg", "c.jpg"), nil)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := readEvents(t, resp)
	require.Len(t, events, 4)
	for i := 0; i < 3; i++ {
		assert.Equal(t, "meal", events[i].name)
		assert.EqualValues(t, i+1, events[i].data["number"])
		assert.Equal(t, fmt.Sprintf("Meal %d", i+1), events[i].data["meal_name"])
		assert.Equal(t, true, events[i].data["inserted"])
	}
	assert.Equal(t, "done", events[3].name)
	assert.EqualValues(t, 3, events[3].data["ledger_size"])
}

func TestStreamMealsUpstreamFailure(t *testing.T) {
	env := newTestEnv(t)
	env.ready(t)
	env.model.Fail(domain.Upstream(fmt.Errorf("503 service unavailable")))

	resp := env.postFiles(t, "/meals/stream", "images", jpegParts("a.jpg"), nil)
	events := readEvents(t, resp)
	require.Len(t, events, 2)
	assert.Equal(t, "error", events[0].data["level"])
	assert.Contains(t, events[0].data["notice"], "503 service unavailable")
}

func TestRecommendations(t *testing.T) {
	env := newTestEnv(t)
	env.ready(t)

	status, body := env.postForm(t, "/recommendations/home", url.Values{"dietary_preference": {"vegetarian"}})
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Dishes to cook at home")
	assert.Contains(t, body, "generated text 1")

	resp := env.postFiles(t, "/recommendations/menu", "menus", jpegParts("p1.jpg", "p2.jpg"), map[string]string{"dietary_preference": "vegan"})
	body = readAll(t, resp)
	assert.Contains(t, body, "Best picks on this menu")

	reqs := env.model.Requests()
	require.Len(t, reqs, 2)
	assert.Empty(t, reqs[0].Images)
	assert.Len(t, reqs[1].Images, 2)
	assert.Contains(t, reqs[1].Instruction, "vegan")

	_, page := env.get(t, "/")
	assert.Contains(t, page, "generated text 1", "last home suggestion is shown again")
}

func TestCloseDayStreamsSectionsAndArchives(t *testing.T) {
	env := newTestEnv(t)
	env.ready(t)

	resp := env.postFiles(t, "/meals", "images", jpegParts("a.jpg", "b.jpg"), nil)
	readAll(t, resp)

	closeResp, err := env.client.Post(env.srv.URL+"/day/close", "", nil)
	require.NoError(t, err)
	defer func() { _ = closeResp.Body.Close() }()

	events := readEvents(t, closeResp)
	require.Len(t, events, 4)
	assert.Equal(t, "summary", events[0].data["kind"])
	assert.Equal(t, "gap_filling", events[1].data["kind"])
	assert.Equal(t, "gut_health", events[2].data["kind"])
	assert.Equal(t, "done", events[3].name)
	assert.Equal(t, true, events[3].data["cleared"])
	assert.Len(t, env.model.Requests(), 5)

	days, err := env.days.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, days, 1)
	assert.Len(t, days[0].Meals, 2)

	_, journal := env.get(t, "/journal")
	assert.Contains(t, journal, "eat more protein")
	assert.Contains(t, journal, "Meal 1")

	_, page := env.get(t, "/")
	assert.Contains(t, page, "Nothing logged yet.")
}

func TestCloseDayWithEmptyLedger(t *testing.T) {
	env := newTestEnv(t)
	env.ready(t)

	resp, err := env.client.Post(env.srv.URL+"/day/close", "", nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	events := readEvents(t, resp)
	require.Len(t, events, 2)
	assert.Equal(t, "notice", events[0].name)
	assert.Equal(t, "warning", events[0].data["level"])
	assert.Equal(t, false, events[1].data["cleared"])
	assert.Empty(t, env.model.Requests())
}

func TestResetKeepsCredential(t *testing.T) {
	env := newTestEnv(t)
	env.ready(t)
	resp := env.postFiles(t, "/meals", "images", jpegParts("breakfast.jpg"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	u, _ := url.Parse(env.srv.URL)
	before := env.client.Jar.Cookies(u)
	require.Len(t, before, 1)

	status, _ := env.postForm(t, "/session/reset", nil)
	require.Equal(t, http.StatusOK, status)

	after := env.client.Jar.Cookies(u)
	require.Len(t, after, 1)
	assert.NotEqual(t, before[0].Value, after[0].Value, "reset starts a new session")

	_, page := env.get(t, "/")
	assert.Contains(t, page, "What is your goal for today?")
	assert.NotContains(t, page, `name="api_key"`)
	assert.NotContains(t, page, "Meal 1")
}

func TestHTMXRedirect(t *testing.T) {
	env := newTestEnv(t)
	req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/session/goal", strings.NewReader("goal=stay+fit"))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("HX-Request", "true")

	resp, err := env.client.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("HX-Redirect"))
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.get(t, "/")

	status, body := env.get(t, "/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "nutrilog_http_requests_total")
}

type mcpResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	IsError bool `json:"isError"`
}

func (e *testEnv) callTool(t *testing.T, name string, args map[string]any) (int, mcpResult) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{"name": name, "arguments": args})
	require.NoError(t, err)

	resp, err := http.Post(e.srv.URL+"/mcp", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var result mcpResult
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	}
	return resp.StatusCode, result
}

func TestMCPFlow(t *testing.T) {
	env := newTestEnv(t)

	status, res := env.callTool(t, "supply_credential", map[string]any{"credential": "key"})
	require.Equal(t, http.StatusOK, status)
	require.False(t, res.IsError)
	require.Len(t, res.Content, 1)

	var state struct {
		SessionID string `json:"session_id"`
		State     string `json:"state"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.Content[0].Text), &state))
	require.NotEmpty(t, state.SessionID)
	assert.Equal(t, "awaiting_goal", state.State)
	sid := state.SessionID

	_, res = env.callTool(t, "set_goal", map[string]any{"session_id": sid, "goal": "more fibre"})
	require.False(t, res.IsError)
	assert.Contains(t, res.Content[0].Text, `"ready"`)

	_, res = env.callTool(t, "analyze_meal", map[string]any{
		"session_id":   sid,
		"image_base64": base64.StdEncoding.EncodeToString(minimalJPEG),
		"mime_type":    "image/jpeg",
	})
	require.False(t, res.IsError, res.Content)
	assert.Contains(t, res.Content[0].Text, `"meal_name":"Meal 1"`)

	_, res = env.callTool(t, "list_meals", map[string]any{"session_id": sid})
	assert.Contains(t, res.Content[0].Text, "summary 1")

	_, res = env.callTool(t, "rank_menu", map[string]any{"session_id": sid, "menus": []any{}})
	assert.True(t, res.IsError)

	_, res = env.callTool(t, "close_day", map[string]any{"session_id": sid})
	require.False(t, res.IsError)
	assert.Contains(t, res.Content[0].Text, `"cleared":true`)

	_, res = env.callTool(t, "close_day", map[string]any{"session_id": sid})
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content[0].Text, "No meals logged")
}

func TestMCPFailedCallKeepsSession(t *testing.T) {
	env := newTestEnv(t)

	_, res := env.callTool(t, "supply_credential", map[string]any{"credential": " "})
	require.True(t, res.IsError)
	require.Len(t, res.Content, 1)

	var failed struct {
		SessionID string `json:"session_id"`
		Error     string `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.Content[0].Text), &failed))
	require.NotEmpty(t, failed.SessionID)
	assert.Contains(t, failed.Error, "valid API key")

	_, res = env.callTool(t, "supply_credential", map[string]any{"session_id": failed.SessionID, "credential": "key"})
	require.False(t, res.IsError)
	assert.Contains(t, res.Content[0].Text, `"session_id":"`+failed.SessionID+`"`)
	assert.Contains(t, res.Content[0].Text, `"awaiting_goal"`)
}

func TestMCPErrors(t *testing.T) {
	env := newTestEnv(t)

	status, _ := env.callTool(t, "order_pizza", nil)
	assert.Equal(t, http.StatusNotFound, status)

	_, res := env.callTool(t, "analyze_meal", map[string]any{"image_base64": "not base64!"})
	assert.True(t, res.IsError)

	var failed struct {
		SessionID string `json:"session_id"`
		Level     string `json:"level"`
		Error     string `json:"error"`
	}
	require.NotEmpty(t, res.Content)
	require.NoError(t, json.Unmarshal([]byte(res.Content[0].Text), &failed))
	assert.NotEmpty(t, failed.SessionID)
	assert.Equal(t, "error", failed.Level)
	assert.Contains(t, failed.Error, "invalid base64 in image")

	resp, err := http.Post(env.srv.URL+"/mcp", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pocketllm/internal/engine"
	"pocketllm/internal/profile"
	"pocketllm/internal/session"
	"pocketllm/pkg/types"
)

type fakeEngine struct {
	mu      sync.Mutex
	gate    chan struct{}
	genErr  error
	loadErr error
	prompts []string
	params  []types.ParameterSet
}

func (f *fakeEngine) Fetch(ctx context.Context, url, dest string, onProgress func(float64)) error {
	onProgress(0)
	onProgress(1)
	return os.WriteFile(dest, []byte("gguf"), 0o644)
}

func (f *fakeEngine) Load(path string, opts engine.LoadOptions) error { return f.loadErr }

func (f *fakeEngine) SetParameters(p types.ParameterSet) error {
	f.mu.Lock()
	f.params = append(f.params, p)
	f.mu.Unlock()
	return nil
}

func (f *fakeEngine) Generate(ctx context.Context, prompt string, onToken func(string) bool) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if f.genErr != nil {
		return "", f.genErr
	}
	onToken("echo")
	return "echo: " + prompt, nil
}

func (f *fakeEngine) Unload() error { return nil }

type harness struct {
	mux   http.Handler
	sess  *session.Session
	store *profile.Store
	eng   *fakeEngine
	bus   *session.Broadcaster
	dir   string
}

func newHarness(t *testing.T, eng *fakeEngine) *harness {
	t.Helper()
	store, err := profile.NewStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	bus := session.NewBroadcaster()
	sess, err := session.New(session.Config{Engine: eng, Publisher: bus, Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = sess.Close(ctx)
	})
	dir := t.TempDir()
	mux := NewMux(Deps{Profiles: store, Session: sess, Events: bus, ModelsDir: dir})
	return &harness{mux: mux, sess: sess, store: store, eng: eng, bus: bus, dir: dir}
}

func (h *harness) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.mux.ServeHTTP(w, req)
	return w
}

// ready loads a local file through the API and waits for the session.
func (h *harness) ready(t *testing.T) {
	t.Helper()
	p := filepath.Join(h.dir, "m.gguf")
	require.NoError(t, os.WriteFile(p, []byte("gguf"), 0o644))
	w := h.do(http.MethodPost, "/session/load", `{"path":"`+p+`"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	require.Eventually(t, func() bool { return h.sess.Ready() }, 2*time.Second, 5*time.Millisecond)
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) types.ErrorResponse {
	t.Helper()
	var e types.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e))
	return e
}

func TestProfiles_ListIncludesDefault(t *testing.T) {
	h := newHarness(t, &fakeEngine{})
	w := h.do(http.MethodGet, "/profiles", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body types.ProfilesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, []string{"default"}, body.Profiles)
}

func TestProfiles_PutGetDelete(t *testing.T) {
	h := newHarness(t, &fakeEngine{})

	w := h.do(http.MethodPut, "/profiles/creative", `{"name":"ignored","temp":1.3,"topK":80}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = h.do(http.MethodGet, "/profiles/creative", "")
	require.Equal(t, http.StatusOK, w.Code)
	var c profile.Configuration
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &c))
	assert.Equal(t, "creative", c.Name)
	assert.InDelta(t, 1.3, c.Temperature, 1e-9)
	assert.Equal(t, 80, c.TopK)
	assert.Equal(t, profile.Default().ContextSize, c.ContextSize, "missing fields take defaults")

	w = h.do(http.MethodDelete, "/profiles/creative", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = h.do(http.MethodGet, "/profiles/creative", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = h.do(http.MethodDelete, "/profiles/creative", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProfiles_Errors(t *testing.T) {
	h := newHarness(t, &fakeEngine{})

	w := h.do(http.MethodDelete, "/profiles/default", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = h.do(http.MethodPut, "/profiles/bad", `{"nCtx":0}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeError(t, w).Error, "nCtx")

	w = h.do(http.MethodPut, "/profiles/bad", `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	require.NoError(t, os.WriteFile(filepath.Join(h.store.Dir(), "broken.json"), []byte("{"), 0o644))
	w = h.do(http.MethodGet, "/profiles/broken", "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestSession_StatusStartsUnloaded(t *testing.T) {
	h := newHarness(t, &fakeEngine{})
	w := h.do(http.MethodGet, "/session", "")
	require.Equal(t, http.StatusOK, w.Code)
	var st types.SessionStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, "unloaded", st.State)

	w = h.do(http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "unloaded", w.Body.String())
}

func TestSession_GenerateBeforeLoadIsConflict(t *testing.T) {
	h := newHarness(t, &fakeEngine{})
	w := h.do(http.MethodPost, "/session/generate", `{"input":"hello"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestSession_GenerateRendersTemplate(t *testing.T) {
	eng := &fakeEngine{}
	h := newHarness(t, eng)
	require.NoError(t, h.store.Save(func() profile.Configuration {
		c := profile.New("chat")
		c.PromptTemplate = "<u>{USER_INPUT}</u>"
		return c
	}()))
	h.ready(t)

	w := h.do(http.MethodPost, "/session/generate", `{"profile":"chat","input":"hello"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res types.GenerateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "echo: <u>hello</u>", res.Text)
	assert.NotEmpty(t, res.OperationID)

	w = h.do(http.MethodPost, "/session/generate", `{"input":"plain","raw":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "echo: plain", res.Text)
}

func TestSession_GenerateWhileBusyIs429(t *testing.T) {
	eng := &fakeEngine{gate: make(chan struct{})}
	h := newHarness(t, eng)
	h.ready(t)

	op, err := h.sess.Generate("first")
	require.NoError(t, err)
	w := h.do(http.MethodPost, "/session/generate", `{"input":"second","raw":true}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	close(eng.gate)
	_, err = op.Wait(context.Background())
	require.NoError(t, err)
}

func TestSession_EngineErrorIs502(t *testing.T) {
	h := newHarness(t, &fakeEngine{genErr: errors.New("decode failed")})
	h.ready(t)
	w := h.do(http.MethodPost, "/session/generate", `{"input":"x","raw":true}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "decode failed", decodeError(t, w).Error)
	assert.True(t, h.sess.Ready())
}

func TestSession_LoadFailureNeedsUnload(t *testing.T) {
	h := newHarness(t, &fakeEngine{loadErr: engine.ErrUnavailable("llama runtime not built")})
	p := filepath.Join(h.dir, "m.gguf")
	require.NoError(t, os.WriteFile(p, []byte("gguf"), 0o644))
	w := h.do(http.MethodPost, "/session/load", `{"path":"`+p+`"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Eventually(t, func() bool { return h.sess.State() == session.StateFailed }, 2*time.Second, 5*time.Millisecond)

	w = h.do(http.MethodPost, "/session/load", `{"path":"`+p+`"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	w = h.do(http.MethodPost, "/session/unload", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, session.StateUnloaded, h.sess.State())
}

func TestSession_LoadRequiresPath(t *testing.T) {
	h := newHarness(t, &fakeEngine{})
	w := h.do(http.MethodPost, "/session/load", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/session/load", strings.NewReader(`{"path":"x"}`))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	h.mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestSession_OpenDownloadsLoadsAndPushesParameters(t *testing.T) {
	eng := &fakeEngine{}
	h := newHarness(t, eng)
	c := profile.New("tiny")
	c.ModelURL = "https://example.com/models/tiny.gguf?download=true"
	c.Temperature = 0.2
	require.NoError(t, h.store.Save(c))

	w := h.do(http.MethodPost, "/session/open", `{"profile":"tiny"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var res types.OperationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "acquire", res.Kind)

	require.Eventually(t, func() bool {
		eng.mu.Lock()
		defer eng.mu.Unlock()
		return len(eng.params) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.InDelta(t, 0.2, eng.params[0].Temperature, 1e-6)
	assert.FileExists(t, filepath.Join(h.dir, "tiny.gguf"))
	assert.Equal(t, filepath.Join(h.dir, "tiny.gguf"), h.sess.Snapshot().ArtifactPath)
}

func TestSession_ParametersAndUnload(t *testing.T) {
	eng := &fakeEngine{}
	h := newHarness(t, eng)
	h.ready(t)

	w := h.do(http.MethodPost, "/session/parameters", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, eng.params, 1)

	w = h.do(http.MethodPost, "/session/unload", "")
	require.Equal(t, http.StatusOK, w.Code)
	w = h.do(http.MethodPost, "/session/unload", "")
	require.Equal(t, http.StatusOK, w.Code, "unload is idempotent")
	w = h.do(http.MethodPost, "/session/parameters", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestEvents_StreamsNDJSON(t *testing.T) {
	h := newHarness(t, &fakeEngine{})
	srv := httptest.NewServer(h.mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))
	require.Eventually(t, func() bool { return h.bus.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	h.ready(t)

	sc := bufio.NewScanner(resp.Body)
	var got []string
	for len(got) < 2 && sc.Scan() {
		var m types.EventMessage
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		if m.Type == "state_changed" {
			got = append(got, m.State)
		}
	}
	assert.Equal(t, []string{"loading", "ready"}, got)
}

func TestHealthzAndMetrics(t *testing.T) {
	h := newHarness(t, &fakeEngine{})
	w := h.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	h.do(http.MethodGet, "/profiles", "")
	w = h.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "pocketllm_http_requests_total")
	assert.Contains(t, body, "pocketllm_session_state")
}

func TestModels_ListsArtifacts(t *testing.T) {
	h := newHarness(t, &fakeEngine{})
	require.NoError(t, os.WriteFile(filepath.Join(h.dir, "a.gguf"), []byte("gguf"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(h.dir, "b.gguf.partial"), []byte("gg"), 0o644))

	w := h.do(http.MethodGet, "/models", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body types.ModelsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Models, 2)
	assert.True(t, body.Models[0].Complete)
	assert.False(t, body.Models[1].Complete)
}

func TestProfiles_PutForm(t *testing.T) {
	h := newHarness(t, &fakeEngine{})
	req := httptest.NewRequest(http.MethodPut, "/profiles/form", strings.NewReader("nCtx=4096&temp=abc&topK=12&promptTemplate="))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	h.mux.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	c, err := h.store.Load("form")
	require.NoError(t, err)
	assert.Equal(t, 4096, c.ContextSize)
	assert.Equal(t, 12, c.TopK)
	assert.InDelta(t, profile.Default().Temperature, c.Temperature, 1e-9, "unparseable field keeps its default")
	assert.Equal(t, profile.Default().PromptTemplate, c.PromptTemplate)
}

func TestSession_OpenIsReadyOnlyAfterParameters(t *testing.T) {
	eng := &fakeEngine{}
	h := newHarness(t, eng)
	c := profile.New("tiny")
	c.ModelURL = "https://example.com/models/tiny.gguf"
	c.TopK = 7
	require.NoError(t, h.store.Save(c))

	for i := 0; i < 20; i++ {
		w := h.do(http.MethodPost, "/session/open", `{"profile":"tiny"}`)
		require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
		require.Eventually(t, func() bool { return h.sess.Ready() }, 2*time.Second, time.Millisecond)

		eng.mu.Lock()
		pushed := len(eng.params)
		eng.mu.Unlock()
		require.Equal(t, i+1, pushed, "ready before parameters on open %d", i)

		w = h.do(http.MethodPost, "/session/generate", `{"profile":"tiny","input":"x","raw":true}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		eng.mu.Lock()
		assert.Equal(t, 7, eng.params[len(eng.params)-1].TopK)
		eng.mu.Unlock()

		w = h.do(http.MethodPost, "/session/unload", "")
		require.Equal(t, http.StatusOK, w.Code)
	}
}

func TestSession_CorruptProfileLoadsOnDefaults(t *testing.T) {
	eng := &fakeEngine{}
	h := newHarness(t, eng)
	require.NoError(t, os.WriteFile(filepath.Join(h.store.Dir(), "broken.json"), []byte("{"), 0o644))
	p := filepath.Join(h.dir, "m.gguf")
	require.NoError(t, os.WriteFile(p, []byte("gguf"), 0o644))

	w := h.do(http.MethodPost, "/session/load", `{"path":"`+p+`","profile":"broken"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	require.Eventually(t, func() bool { return h.sess.Ready() }, 2*time.Second, 5*time.Millisecond)

	w = h.do(http.MethodPost, "/session/parameters", `{"profile":"broken"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	eng.mu.Lock()
	assert.Equal(t, profile.New("broken").Parameters(), eng.params[len(eng.params)-1])
	eng.mu.Unlock()

	w = h.do(http.MethodGet, "/profiles/broken", "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

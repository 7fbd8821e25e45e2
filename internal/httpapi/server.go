package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pocketllm/internal/engine"
	"pocketllm/internal/profile"
	"pocketllm/internal/registry"
	"pocketllm/internal/session"
	"pocketllm/pkg/types"
)

// ProfileStore is the profile persistence the API needs.
type ProfileStore interface {
	List() ([]string, error)
	Load(name string) (profile.Configuration, error)
	LoadOrDefault(name string) (profile.Configuration, error)
	Save(c profile.Configuration) error
	Delete(name string) (bool, error)
}

// Session is the lifecycle surface the API drives.
type Session interface {
	Snapshot() session.Snapshot
	Ready() bool
	Open(url, modelsDir string, lo engine.LoadOptions, opts ...session.LoadOption) (*session.Operation, error)
	Load(path string, lo engine.LoadOptions, opts ...session.LoadOption) (*session.Operation, error)
	ApplyParameters(p types.ParameterSet) (*session.Operation, error)
	Generate(prompt string) (*session.Operation, error)
	Unload() (*session.Operation, error)
}

// EventSource feeds GET /events.
type EventSource interface {
	Subscribe(buf int) (<-chan session.Event, func())
}

// Deps wires the handlers.
type Deps struct {
	Profiles       ProfileStore
	Session        Session
	Events         EventSource
	ModelsDir      string
	DefaultProfile string
	Started        time.Time
}

var errGenerateTimeout = errors.New("generation still running; follow /events for the result")

type api struct {
	Deps
}

func NewMux(d Deps) http.Handler {
	if d.DefaultProfile == "" {
		d.DefaultProfile = profile.DefaultName
	}
	if d.Started.IsZero() {
		d.Started = time.Now()
	}
	a := &api{Deps: d}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: orDefault(corsAllowedOrigins, []string{"*"}),
			AllowedMethods: orDefault(corsAllowedMethods, []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
			AllowedHeaders: orDefault(corsAllowedHeaders, []string{"Accept", "Content-Type", "X-Log-Level"}),
			MaxAge:         300,
		}))
	}
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Route("/profiles", func(r chi.Router) {
		r.Get("/", a.listProfiles)
		r.Get("/{name}", a.getProfile)
		r.Put("/{name}", a.putProfile)
		r.Delete("/{name}", a.deleteProfile)
	})

	r.Route("/session", func(r chi.Router) {
		r.Get("/", a.sessionStatus)
		r.Post("/open", a.openSession)
		r.Post("/load", a.loadSession)
		r.Post("/parameters", a.applyParameters)
		r.Post("/generate", a.generate)
		r.Post("/unload", a.unload)
	})

	r.Get("/models", a.listModels)
	r.Get("/events", a.events)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if a.Session.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(a.Session.Snapshot().State))
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	return r
}

func orDefault(v, def []string) []string {
	if len(v) == 0 {
		return def
	}
	return v
}

// decodeJSON enforces the content type and body limit. An empty body
// decodes to the zero value.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if r.ContentLength != 0 && (ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json")) {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// profileFor loads name, or the server default when name is empty. A
// corrupt record runs on default values; GET /profiles/{name} still reports it.
func (a *api) profileFor(name string) (profile.Configuration, error) {
	if name == "" {
		name = a.DefaultProfile
	}
	return a.Profiles.LoadOrDefault(name)
}

// @Summary      List profiles
// @Tags         profiles
// @Produce      json
// @Success      200  {object}  types.ProfilesResponse
// @Router       /profiles [get]
func (a *api) listProfiles(w http.ResponseWriter, r *http.Request) {
	names, err := a.Profiles.List()
	if err != nil {
		writeError(w, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, types.ProfilesResponse{Profiles: names})
}

// @Summary      Get a profile
// @Tags         profiles
// @Produce      json
// @Param        name  path  string  true  "Profile name"
// @Success      200  {object}  profile.Configuration
// @Failure      404  {object}  types.ErrorResponse
// @Failure      422  {object}  types.ErrorResponse
// @Router       /profiles/{name} [get]
func (a *api) getProfile(w http.ResponseWriter, r *http.Request) {
	c, err := a.Profiles.Load(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// @Summary      Create or replace a profile
// @Description  Missing fields take their defaults. The path name wins over any name in the body.
// @Tags         profiles
// @Accept       json,x-www-form-urlencoded
// @Produce      json
// @Param        name  path  string  true  "Profile name"
// @Param        body  body  profile.Configuration  true  "Profile"
// @Success      200  {object}  profile.Configuration
// @Failure      400  {object}  types.ErrorResponse
// @Router       /profiles/{name} [put]
func (a *api) putProfile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if strings.HasPrefix(strings.ToLower(r.Header.Get("Content-Type")), "application/x-www-form-urlencoded") {
		a.putProfileForm(w, r, name)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if len(body) == 0 {
		body = []byte("{}")
	}
	c, err := profile.Decode(body, profile.FormatJSON, name)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	c.Name = name
	if err := a.Profiles.Save(c); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// putProfileForm saves a settings-form submission. Fields that are missing
// or fail to parse take their defaults.
func (a *api) putProfileForm(w http.ResponseWriter, r *http.Request, name string) {
	if err := r.ParseForm(); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid form body")
		return
	}
	values := make(map[string]string, len(r.PostForm))
	for k := range r.PostForm {
		values[k] = r.PostForm.Get(k)
	}
	values["name"] = name
	c := profile.FromForm(values)
	if err := a.Profiles.Save(c); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// @Summary      Delete a profile
// @Tags         profiles
// @Param        name  path  string  true  "Profile name"
// @Success      204
// @Failure      404  {object}  types.ErrorResponse
// @Failure      409  {object}  types.ErrorResponse
// @Router       /profiles/{name} [delete]
func (a *api) deleteProfile(w http.ResponseWriter, r *http.Request) {
	if _, err := a.Profiles.Delete(chi.URLParam(r, "name")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// @Summary      List downloaded model artifacts
// @Tags         models
// @Produce      json
// @Success      200  {object}  types.ModelsResponse
// @Router       /models [get]
func (a *api) listModels(w http.ResponseWriter, r *http.Request) {
	arts, err := registry.LoadDir(a.ModelsDir)
	if err != nil {
		writeError(w, err)
		return
	}
	if arts == nil {
		arts = []types.Artifact{}
	}
	writeJSON(w, http.StatusOK, types.ModelsResponse{Models: arts})
}

// @Summary      Session status
// @Tags         session
// @Produce      json
// @Success      200  {object}  types.SessionStatus
// @Router       /session [get]
func (a *api) sessionStatus(w http.ResponseWriter, r *http.Request) {
	s := a.Session.Snapshot()
	writeJSON(w, http.StatusOK, types.SessionStatus{
		State:         string(s.State),
		ArtifactPath:  s.ArtifactPath,
		InFlight:      string(s.InFlight),
		LastError:     s.LastError,
		Progress:      s.Progress,
		UptimeSeconds: int64(time.Since(a.Started).Seconds()),
	})
}

// @Summary      Acquire and load a profile's model
// @Description  Downloads the model (unless already present) and loads it. Returns immediately; follow /events. The profile's parameters are pushed before the session reports ready.
// @Tags         session
// @Accept       json
// @Produce      json
// @Param        body  body  types.OpenRequest  false  "Profile"
// @Success      202  {object}  types.OperationResponse
// @Failure      409  {object}  types.ErrorResponse
// @Failure      429  {object}  types.ErrorResponse
// @Router       /session/open [post]
func (a *api) openSession(w http.ResponseWriter, r *http.Request) {
	var req types.OpenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	start := logStart(r, "open")
	c, err := a.profileFor(req.Profile)
	if err != nil {
		logEnd(r, "open", writeError(w, err), start, err)
		return
	}
	params := c.Parameters()
	op, err := a.Session.Open(c.ModelURL, a.ModelsDir, engine.LoadOptionsFrom(params), session.WithParameters(params))
	if err != nil {
		logEnd(r, "open", writeError(w, err), start, err)
		return
	}
	writeJSON(w, http.StatusAccepted, types.OperationResponse{OperationID: op.ID, Kind: string(op.Kind)})
	logEnd(r, "open", http.StatusAccepted, start, nil)
}

// @Summary      Load a local model file
// @Tags         session
// @Accept       json
// @Produce      json
// @Param        body  body  types.LoadRequest  true  "Path and optional sizing profile"
// @Success      202  {object}  types.OperationResponse
// @Failure      400  {object}  types.ErrorResponse
// @Failure      409  {object}  types.ErrorResponse
// @Router       /session/load [post]
func (a *api) loadSession(w http.ResponseWriter, r *http.Request) {
	var req types.LoadRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		writeJSONError(w, http.StatusBadRequest, "path is required")
		return
	}
	start := logStart(r, "load")
	c, err := a.profileFor(req.Profile)
	if err != nil {
		logEnd(r, "load", writeError(w, err), start, err)
		return
	}
	op, err := a.Session.Load(req.Path, engine.LoadOptionsFrom(c.Parameters()))
	if err != nil {
		logEnd(r, "load", writeError(w, err), start, err)
		return
	}
	writeJSON(w, http.StatusAccepted, types.OperationResponse{OperationID: op.ID, Kind: string(op.Kind)})
	logEnd(r, "load", http.StatusAccepted, start, nil)
}

// wait blocks on op for the request, bounded by d when d > 0.
func wait(r *http.Request, op *session.Operation, d time.Duration) (string, error) {
	ctx, stop := requestContext(r)
	defer stop()
	if d > 0 {
		var tcancel context.CancelFunc
		ctx, tcancel = context.WithTimeout(ctx, d)
		defer tcancel()
	}
	res, err := op.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return "", errGenerateTimeout
	}
	return res, err
}

// @Summary      Push a profile's parameters
// @Tags         session
// @Accept       json
// @Produce      json
// @Param        body  body  types.ParametersRequest  false  "Profile"
// @Success      200  {object}  types.OperationResponse
// @Failure      409  {object}  types.ErrorResponse
// @Failure      502  {object}  types.ErrorResponse
// @Router       /session/parameters [post]
func (a *api) applyParameters(w http.ResponseWriter, r *http.Request) {
	var req types.ParametersRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	start := logStart(r, "parameters")
	c, err := a.profileFor(req.Profile)
	if err != nil {
		logEnd(r, "parameters", writeError(w, err), start, err)
		return
	}
	op, err := a.Session.ApplyParameters(c.Parameters())
	if err == nil {
		_, err = wait(r, op, 0)
	}
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		logEnd(r, "parameters", writeError(w, err), start, err)
		return
	}
	writeJSON(w, http.StatusOK, types.OperationResponse{OperationID: op.ID, Kind: string(op.Kind)})
	logEnd(r, "parameters", http.StatusOK, start, nil)
}

// @Summary      Generate a completion
// @Description  Renders input through the profile's prompt template (unless raw) and waits for the full text. Tokens are also published on /events.
// @Tags         session
// @Accept       json
// @Produce      json
// @Param        body  body  types.GenerateRequest  true  "Input"
// @Success      200  {object}  types.GenerateResponse
// @Failure      409  {object}  types.ErrorResponse
// @Failure      429  {object}  types.ErrorResponse
// @Failure      502  {object}  types.ErrorResponse
// @Router       /session/generate [post]
func (a *api) generate(w http.ResponseWriter, r *http.Request) {
	var req types.GenerateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	start := logStart(r, "generate")
	prompt := req.Input
	if !req.Raw {
		c, err := a.profileFor(req.Profile)
		if err != nil {
			logEnd(r, "generate", writeError(w, err), start, err)
			return
		}
		prompt = c.Render(req.Input)
	}
	op, err := a.Session.Generate(prompt)
	if err != nil {
		logEnd(r, "generate", writeError(w, err), start, err)
		return
	}
	text, err := wait(r, op, generateTimeout)
	if err != nil {
		// client went away; the generation finishes on its own
		if r.Context().Err() != nil || serverContext().Err() != nil {
			return
		}
		logEnd(r, "generate", writeError(w, err), start, err)
		return
	}
	writeJSON(w, http.StatusOK, types.GenerateResponse{OperationID: op.ID, Text: text})
	logEnd(r, "generate", http.StatusOK, start, nil)
}

// @Summary      Unload the model
// @Tags         session
// @Produce      json
// @Success      200  {object}  types.OperationResponse
// @Failure      429  {object}  types.ErrorResponse
// @Router       /session/unload [post]
func (a *api) unload(w http.ResponseWriter, r *http.Request) {
	start := logStart(r, "unload")
	op, err := a.Session.Unload()
	if err == nil {
		_, err = wait(r, op, 0)
	}
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		logEnd(r, "unload", writeError(w, err), start, err)
		return
	}
	writeJSON(w, http.StatusOK, types.OperationResponse{OperationID: op.ID, Kind: string(op.Kind)})
	logEnd(r, "unload", http.StatusOK, start, nil)
}

// @Summary      Session event stream
// @Description  NDJSON stream of progress, state, token and completion events.
// @Tags         session
// @Produce      application/x-ndjson
// @Success      200  {object}  types.EventMessage
// @Router       /events [get]
func (a *api) events(w http.ResponseWriter, r *http.Request) {
	if a.Events == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "events unavailable")
		return
	}
	ch, cancel := a.Events.Subscribe(256)
	defer cancel()
	eventSubscribers.Inc()
	defer eventSubscribers.Dec()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	ctx, stop := requestContext(r)
	defer stop()
	enc := json.NewEncoder(w)
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if err := enc.Encode(eventMessage(e)); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

func eventMessage(e session.Event) types.EventMessage {
	return types.EventMessage{
		Type:        string(e.Type),
		OperationID: e.OperationID,
		Kind:        string(e.Kind),
		State:       string(e.State),
		Progress:    e.Progress,
		Result:      e.Result,
		Error:       e.Err,
		Token:       e.Token,
		TimeUnix:    e.Time.Unix(),
	}
}

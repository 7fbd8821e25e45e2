package types

import "time"

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: profile not found: chat
	Error string `json:"error" example:"profile not found: chat"`
	// HTTP status code.
	// example: 404
	Code int `json:"code" example:"404"`
}

// ProfilesResponse wraps the list of stored profile names returned by GET /profiles.
type ProfilesResponse struct {
	// Names of stored profiles, sorted.
	// example: ["default","creative"]
	Profiles []string `json:"profiles" example:"default,creative"`
}

// OpenRequest asks the session to acquire (if needed) and load a profile's model.
type OpenRequest struct {
	// Profile whose model_url is opened. Empty means the server default profile.
	// example: default
	Profile string `json:"profile,omitempty" example:"default"`
}

// LoadRequest asks the session to load a model file already on disk.
type LoadRequest struct {
	// Absolute path to a GGUF file.
	// example: /home/user/models/tinyllama-1.1b-chat-v1.0.Q4_K_M.gguf
	Path string `json:"path" example:"/home/user/models/tinyllama-1.1b-chat-v1.0.Q4_K_M.gguf"`
	// Optional profile supplying context/batch sizing.
	// example: default
	Profile string `json:"profile,omitempty" example:"default"`
}

// ParametersRequest pushes a profile's sampling parameters to the loaded model.
type ParametersRequest struct {
	// example: default
	Profile string `json:"profile,omitempty" example:"default"`
}

// GenerateRequest runs one generation. Input is rendered through the
// profile's prompt template before it reaches the engine.
type GenerateRequest struct {
	// example: default
	Profile string `json:"profile,omitempty" example:"default"`
	// Raw user text substituted for {USER_INPUT}.
	// example: Write a haiku about the ocean.
	Input string `json:"input" example:"Write a haiku about the ocean."`
	// If true, the input is sent to the engine verbatim, skipping the template.
	Raw bool `json:"raw,omitempty"`
}

// GenerateResponse carries the completed generation.
type GenerateResponse struct {
	// example: 3f1c2a9e-8d4b-4f53-9e0b-1b7f0b6f5d10
	OperationID string `json:"operation_id" example:"3f1c2a9e-8d4b-4f53-9e0b-1b7f0b6f5d10"`
	// Generated text.
	Text string `json:"text"`
}

// OperationResponse is returned by endpoints that start a session operation.
type OperationResponse struct {
	// example: 3f1c2a9e-8d4b-4f53-9e0b-1b7f0b6f5d10
	OperationID string `json:"operation_id" example:"3f1c2a9e-8d4b-4f53-9e0b-1b7f0b6f5d10"`
	// example: load
	Kind string `json:"kind" example:"load"`
	// Result of the operation once it completed (e.g. loaded path).
	Result string `json:"result,omitempty"`
}

// SessionStatus is returned by GET /session.
type SessionStatus struct {
	// Lifecycle state: unloaded, acquiring, loading, ready, generating, unloading, failed.
	// example: ready
	State string `json:"state" example:"ready"`
	// Path of the artifact backing the current handle (if any).
	ArtifactPath string `json:"artifact_path,omitempty"`
	// Kind of operation currently in flight (if any).
	// example: generate
	InFlight string `json:"in_flight,omitempty" example:"generate"`
	// Last native error string, kept until the session is unloaded.
	LastError string `json:"last_error,omitempty"`
	// Fraction of the current download in [0,1].
	// example: 0.5
	Progress float64 `json:"progress" example:"0.5"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
}

// EventMessage is one NDJSON line on GET /events.
type EventMessage struct {
	// example: state_changed
	Type string `json:"type" example:"state_changed"`
	// Operation the event belongs to, empty for plain state changes.
	OperationID string `json:"operation_id,omitempty"`
	// example: generate
	Kind string `json:"kind,omitempty" example:"generate"`
	// example: ready
	State    string  `json:"state,omitempty" example:"ready"`
	Progress float64 `json:"progress,omitempty"`
	Result   string  `json:"result,omitempty"`
	Error    string  `json:"error,omitempty"`
	Token    string  `json:"token,omitempty"`
	// example: 1700000000
	TimeUnix int64 `json:"time_unix" example:"1700000000"`
}

// Artifact is a model file found in the models directory.
type Artifact struct {
	// example: tinyllama-1.1b-chat-v1.0.Q4_K_M.gguf
	Name string `json:"name" example:"tinyllama-1.1b-chat-v1.0.Q4_K_M.gguf"`
	Path string `json:"path"`
	// Size in bytes on disk.
	Size int64 `json:"size"`
	// False for interrupted downloads (.partial) and empty files.
	Complete bool      `json:"complete"`
	ModTime  time.Time `json:"mod_time"`
}

// ModelsResponse wraps GET /models.
type ModelsResponse struct {
	Models []Artifact `json:"models"`
}

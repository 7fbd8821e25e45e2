package session

// State is the lifecycle state of a session.
type State string

const (
	StateUnloaded   State = "unloaded"
	StateAcquiring  State = "acquiring"
	StateLoading    State = "loading"
	StateReady      State = "ready"
	StateGenerating State = "generating"
	StateUnloading  State = "unloading"
	StateFailed     State = "failed"
)

var allStates = []State{StateUnloaded, StateAcquiring, StateLoading, StateReady, StateGenerating, StateUnloading, StateFailed}

// Kind names a session operation.
type Kind string

const (
	KindAcquire    Kind = "acquire"
	KindLoad       Kind = "load"
	KindParameters Kind = "parameters"
	KindGenerate   Kind = "generate"
	KindUnload     Kind = "unload"
)

// Snapshot is a read-only projection of the session.
type Snapshot struct {
	State        State
	InFlight     Kind
	HasHandle    bool
	ArtifactPath string
	LastError    string
	Progress     float64
}

package profile

import (
	"pocketllm/internal/prompt"
	"pocketllm/pkg/types"
)

// DefaultName is the reserved profile that always exists and cannot be deleted.
const DefaultName = "default"

// DefaultModelURL is the artifact the default profile points at.
const DefaultModelURL = "https://huggingface.co/TheBloke/TinyLlama-1.1B-Chat-v1.0-GGUF/resolve/main/tinyllama-1.1b-chat-v1.0.Q4_K_M.gguf"

// DefaultSequenceBreakers is stored escaped, exactly as existing records carry it.
const DefaultSequenceBreakers = `\n,:,",*`

// Configuration is a named parameter profile. Key names match the records
// already on disk, so they must stay stable.
type Configuration struct {
	Name     string `json:"name" yaml:"name" toml:"name"`
	ModelURL string `json:"modelUrl" yaml:"modelUrl" toml:"modelUrl"`

	ContextSize int `json:"nCtx" yaml:"nCtx" toml:"nCtx"`
	ThreadCount int `json:"nThreads" yaml:"nThreads" toml:"nThreads"`
	BatchSize   int `json:"nBatch" yaml:"nBatch" toml:"nBatch"`

	Temperature    float64 `json:"temp" yaml:"temp" toml:"temp"`
	TopP           float64 `json:"topP" yaml:"topP" toml:"topP"`
	TopK           int     `json:"topK" yaml:"topK" toml:"topK"`
	PromptTemplate string  `json:"promptTemplate" yaml:"promptTemplate" toml:"promptTemplate"`

	PenaltyLastN   int     `json:"penaltyLastN" yaml:"penaltyLastN" toml:"penaltyLastN"`
	PenaltyRepeat  float64 `json:"penaltyRepeat" yaml:"penaltyRepeat" toml:"penaltyRepeat"`
	PenaltyFreq    float64 `json:"penaltyFreq" yaml:"penaltyFreq" toml:"penaltyFreq"`
	PenaltyPresent float64 `json:"penaltyPresent" yaml:"penaltyPresent" toml:"penaltyPresent"`

	MirostatMode int     `json:"mirostat" yaml:"mirostat" toml:"mirostat"`
	MirostatTau  float64 `json:"mirostatTau" yaml:"mirostatTau" toml:"mirostatTau"`
	MirostatEta  float64 `json:"mirostatEta" yaml:"mirostatEta" toml:"mirostatEta"`

	MinP             float64 `json:"minP" yaml:"minP" toml:"minP"`
	TypicalP         float64 `json:"typicalP" yaml:"typicalP" toml:"typicalP"`
	DynatempRange    float64 `json:"dynatempRange" yaml:"dynatempRange" toml:"dynatempRange"`
	DynatempExponent float64 `json:"dynatempExponent" yaml:"dynatempExponent" toml:"dynatempExponent"`
	XTCProbability   float64 `json:"xtcProbability" yaml:"xtcProbability" toml:"xtcProbability"`
	XTCThreshold     float64 `json:"xtcThreshold" yaml:"xtcThreshold" toml:"xtcThreshold"`
	TopNSigma        float64 `json:"topNSigma" yaml:"topNSigma" toml:"topNSigma"`

	DryMultiplier       float64 `json:"dryMultiplier" yaml:"dryMultiplier" toml:"dryMultiplier"`
	DryBase             float64 `json:"dryBase" yaml:"dryBase" toml:"dryBase"`
	DryAllowedLength    int     `json:"dryAllowedLength" yaml:"dryAllowedLength" toml:"dryAllowedLength"`
	DryPenaltyLastN     int     `json:"dryPenaltyLastN" yaml:"dryPenaltyLastN" toml:"dryPenaltyLastN"`
	DrySequenceBreakers string  `json:"drySequenceBreakers" yaml:"drySequenceBreakers" toml:"drySequenceBreakers"`
}

// Default returns the built-in default profile.
func Default() Configuration { return New(DefaultName) }

// New returns a profile with every field at its default and the given name.
func New(name string) Configuration {
	return Configuration{
		Name:           name,
		ModelURL:       DefaultModelURL,
		ContextSize:    2048,
		ThreadCount:    2,
		BatchSize:      16,
		Temperature:    0.7,
		TopP:           0.9,
		TopK:           40,
		PromptTemplate: prompt.DefaultTemplate,

		PenaltyLastN:   64,
		PenaltyRepeat:  1.0,
		PenaltyFreq:    0.0,
		PenaltyPresent: 0.0,

		MirostatMode: 0,
		MirostatTau:  5.0,
		MirostatEta:  0.1,

		MinP:             0.05,
		TypicalP:         1.0,
		DynatempRange:    0.0,
		DynatempExponent: 1.0,
		XTCProbability:   0.0,
		XTCThreshold:     0.1,
		TopNSigma:        -1.0,

		DryMultiplier:       0.0,
		DryBase:             1.75,
		DryAllowedLength:    2,
		DryPenaltyLastN:     -1,
		DrySequenceBreakers: DefaultSequenceBreakers,
	}
}

// Parameters projects the profile onto the engine parameter vector.
func (c Configuration) Parameters() types.ParameterSet {
	return types.ParameterSet{
		ContextSize: c.ContextSize,
		ThreadCount: c.ThreadCount,
		BatchSize:   c.BatchSize,

		Temperature: float32(c.Temperature),
		TopP:        float32(c.TopP),
		TopK:        c.TopK,

		PenaltyLastN:   c.PenaltyLastN,
		PenaltyRepeat:  float32(c.PenaltyRepeat),
		PenaltyFreq:    float32(c.PenaltyFreq),
		PenaltyPresent: float32(c.PenaltyPresent),

		MirostatMode: c.MirostatMode,
		MirostatTau:  float32(c.MirostatTau),
		MirostatEta:  float32(c.MirostatEta),

		MinP:             float32(c.MinP),
		TypicalP:         float32(c.TypicalP),
		DynatempRange:    float32(c.DynatempRange),
		DynatempExponent: float32(c.DynatempExponent),
		XTCProbability:   float32(c.XTCProbability),
		XTCThreshold:     float32(c.XTCThreshold),
		TopNSigma:        float32(c.TopNSigma),

		DryMultiplier:       float32(c.DryMultiplier),
		DryBase:             float32(c.DryBase),
		DryAllowedLength:    c.DryAllowedLength,
		DryPenaltyLastN:     c.DryPenaltyLastN,
		DrySequenceBreakers: c.DrySequenceBreakers,
	}
}

// Render applies the profile's prompt template to userInput.
func (c Configuration) Render(userInput string) string {
	return prompt.Render(c.PromptTemplate, userInput)
}

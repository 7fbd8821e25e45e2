package types

import "strings"

// ParameterSet is the full sampling/runtime vector handed to the engine in a
// single SetParameters call. Values follow llama.cpp conventions: -1 for a
// window length means "whole context", 0 disables DRY, -1 disables top-n-sigma.
type ParameterSet struct {
	ContextSize int `json:"context_size"`
	ThreadCount int `json:"thread_count"`
	BatchSize   int `json:"batch_size"`

	Temperature float32 `json:"temperature"`
	TopP        float32 `json:"top_p"`
	TopK        int     `json:"top_k"`

	PenaltyLastN   int     `json:"penalty_last_n"`
	PenaltyRepeat  float32 `json:"penalty_repeat"`
	PenaltyFreq    float32 `json:"penalty_freq"`
	PenaltyPresent float32 `json:"penalty_present"`

	MirostatMode int     `json:"mirostat_mode"`
	MirostatTau  float32 `json:"mirostat_tau"`
	MirostatEta  float32 `json:"mirostat_eta"`

	MinP             float32 `json:"min_p"`
	TypicalP         float32 `json:"typical_p"`
	DynatempRange    float32 `json:"dynatemp_range"`
	DynatempExponent float32 `json:"dynatemp_exponent"`
	XTCProbability   float32 `json:"xtc_probability"`
	XTCThreshold     float32 `json:"xtc_threshold"`
	TopNSigma        float32 `json:"top_n_sigma"`

	DryMultiplier       float32 `json:"dry_multiplier"`
	DryBase             float32 `json:"dry_base"`
	DryAllowedLength    int     `json:"dry_allowed_length"`
	DryPenaltyLastN     int     `json:"dry_penalty_last_n"`
	DrySequenceBreakers string  `json:"dry_sequence_breakers"`
}

// SequenceBreakers splits DrySequenceBreakers on commas and unescapes the
// \n, \t and \" forms the profile records carry. Empty entries are dropped.
func (p ParameterSet) SequenceBreakers() []string {
	if p.DrySequenceBreakers == "" {
		return nil
	}
	r := strings.NewReplacer(`\n`, "\n", `\t`, "\t", `\"`, `"`)
	var out []string
	for _, s := range strings.Split(p.DrySequenceBreakers, ",") {
		if s == "" {
			continue
		}
		out = append(out, r.Replace(s))
	}
	return out
}

// DRYEnabled reports whether DRY repetition control is active.
func (p ParameterSet) DRYEnabled() bool { return p.DryMultiplier != 0 }

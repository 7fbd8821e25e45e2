package profile

import (
	"strconv"
	"strings"

	"pocketllm/internal/prompt"
)

// FromForm builds a profile from loosely typed text fields keyed by record
// key (nCtx, temp, ...). A field that is missing or fails to parse keeps
// its default, and an empty template becomes the default template.
func FromForm(values map[string]string) Configuration {
	c := New(strings.TrimSpace(values["name"]))
	if v, ok := values["modelUrl"]; ok {
		c.ModelURL = strings.TrimSpace(v)
	}
	ints := map[string]*int{
		"nCtx":             &c.ContextSize,
		"nThreads":         &c.ThreadCount,
		"nBatch":           &c.BatchSize,
		"topK":             &c.TopK,
		"penaltyLastN":     &c.PenaltyLastN,
		"mirostat":         &c.MirostatMode,
		"dryAllowedLength": &c.DryAllowedLength,
		"dryPenaltyLastN":  &c.DryPenaltyLastN,
	}
	for k, dst := range ints {
		if n, err := strconv.Atoi(strings.TrimSpace(values[k])); err == nil {
			*dst = n
		}
	}
	floats := map[string]*float64{
		"temp":             &c.Temperature,
		"topP":             &c.TopP,
		"penaltyRepeat":    &c.PenaltyRepeat,
		"penaltyFreq":      &c.PenaltyFreq,
		"penaltyPresent":   &c.PenaltyPresent,
		"mirostatTau":      &c.MirostatTau,
		"mirostatEta":      &c.MirostatEta,
		"minP":             &c.MinP,
		"typicalP":         &c.TypicalP,
		"dynatempRange":    &c.DynatempRange,
		"dynatempExponent": &c.DynatempExponent,
		"xtcProbability":   &c.XTCProbability,
		"xtcThreshold":     &c.XTCThreshold,
		"topNSigma":        &c.TopNSigma,
		"dryMultiplier":    &c.DryMultiplier,
		"dryBase":          &c.DryBase,
	}
	for k, dst := range floats {
		if f, err := strconv.ParseFloat(strings.TrimSpace(values[k]), 64); err == nil {
			*dst = f
		}
	}
	if v, ok := values["promptTemplate"]; ok {
		c.PromptTemplate = v
	}
	if c.PromptTemplate == "" {
		c.PromptTemplate = prompt.DefaultTemplate
	}
	if v, ok := values["drySequenceBreakers"]; ok && v != "" {
		c.DrySequenceBreakers = v
	}
	return c
}

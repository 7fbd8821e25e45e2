//go:build llama

package engine

import (
	"context"
	"errors"
	"strings"

	llama "github.com/go-skynet/go-llama.cpp"
	"github.com/rs/zerolog"

	"pocketllm/pkg/types"
)

// llamaBuilt indicates this binary was compiled with real llama support.
const llamaBuilt = true

// llamaEngine owns at most one go-llama.cpp model handle.
type llamaEngine struct {
	*Fetcher
	opts    Options
	log     zerolog.Logger
	model   *llama.LLama
	threads int
	params  types.ParameterSet
	hasSet  bool
}

// New returns the in-process llama.cpp engine.
func New(opts Options) Engine {
	log := opts.Logger.With().Str("component", "engine").Logger()
	return &llamaEngine{
		Fetcher: NewFetcher(opts.HTTPClient, opts.AuthToken, log),
		opts:    opts,
		log:     log,
	}
}

func (e *llamaEngine) Load(path string, lo LoadOptions) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("model path is empty")
	}
	if e.model != nil {
		return ErrAlreadyLoaded
	}
	mo := []llama.ModelOption{
		llama.SetContext(max(1, lo.ContextSize)),
		llama.SetNBatch(max(1, lo.BatchSize)),
		llama.SetMMap(e.opts.MMap),
	}
	if e.opts.GPULayers > 0 {
		mo = append(mo, llama.SetGPULayers(e.opts.GPULayers))
	}
	if e.opts.F16Memory {
		mo = append(mo, llama.EnableF16Memory)
	}
	m, err := llama.New(path, mo...)
	if err != nil {
		return err
	}
	e.model = m
	e.threads = max(1, lo.Threads)
	return nil
}

func (e *llamaEngine) SetParameters(p types.ParameterSet) error {
	if e.model == nil {
		return ErrNotLoaded
	}
	e.params = p
	e.hasSet = true
	if p.MinP != 0 || p.DynatempRange != 0 || p.XTCProbability != 0 || p.TopNSigma >= 0 || p.DRYEnabled() {
		// go-llama.cpp exposes no setters for these samplers.
		e.log.Debug().
			Float32("min_p", p.MinP).
			Float32("xtc_probability", p.XTCProbability).
			Float32("dry_multiplier", p.DryMultiplier).
			Strs("dry_sequence_breakers", p.SequenceBreakers()).
			Msg("min_p, dynatemp, xtc, top_n_sigma and dry are not forwarded by this runtime")
	}
	return nil
}

func (e *llamaEngine) Generate(ctx context.Context, prompt string, onToken func(string) bool) (string, error) {
	if e.model == nil {
		return "", ErrNotLoaded
	}
	e.model.SetTokenCallback(func(tok string) bool {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		if onToken != nil {
			return onToken(tok)
		}
		return true
	})

	text, err := e.model.Predict(prompt, e.predictOptions()...)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}
	return text, nil
}

func (e *llamaEngine) Unload() error {
	if e.model != nil {
		e.model.Free()
		e.model = nil
	}
	e.hasSet = false
	return nil
}

// predictOptions converts the pushed parameter vector into go-llama.cpp
// options. Before any SetParameters call the library defaults apply.
func (e *llamaEngine) predictOptions() []llama.PredictOption {
	threads := e.threads
	if e.hasSet && e.params.ThreadCount > 0 {
		threads = e.params.ThreadCount
	}
	po := []llama.PredictOption{
		llama.SetThreads(max(1, threads)),
		llama.SetTokens(max(1, e.opts.MaxTokens)),
	}
	if e.opts.Seed != 0 {
		po = append(po, llama.SetSeed(e.opts.Seed))
	}
	if !e.hasSet {
		return po
	}
	p := e.params
	po = append(po,
		llama.SetTemperature(p.Temperature),
		llama.SetTopP(p.TopP),
		llama.SetTopK(p.TopK),
		llama.SetTypicalP(p.TypicalP),
		llama.SetPenalty(p.PenaltyRepeat),
		llama.SetRepeat(repeatWindow(p.PenaltyLastN, e.params.ContextSize)),
		llama.SetFrequencyPenalty(p.PenaltyFreq),
		llama.SetPresencePenalty(p.PenaltyPresent),
		llama.SetMirostat(p.MirostatMode),
		llama.SetMirostatTAU(p.MirostatTau),
		llama.SetMirostatETA(p.MirostatEta),
	)
	if p.BatchSize > 0 {
		po = append(po, llama.SetBatch(p.BatchSize))
	}
	return po
}

// repeatWindow resolves -1 ("whole context") to the context size.
func repeatWindow(lastN, ctxSize int) int {
	if lastN < 0 {
		return max(0, ctxSize)
	}
	return lastN
}

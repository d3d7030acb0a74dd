package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/HatmanStack/plot-palette-sub000/internal/breaker"
	"github.com/HatmanStack/plot-palette-sub000/internal/domain"
	"github.com/HatmanStack/plot-palette-sub000/internal/retry"
)

// Usage is the token accounting for one executed record, per model.
type Usage struct {
	InputTokens  map[string]int64
	OutputTokens map[string]int64
}

func newUsage() *Usage {
	return &Usage{
		InputTokens:  make(map[string]int64),
		OutputTokens: make(map[string]int64),
	}
}

// TotalTokens sums input and output tokens across all models.
func (u *Usage) TotalTokens() int64 {
	var total int64
	for _, v := range u.InputTokens {
		total += v
	}
	for _, v := range u.OutputTokens {
		total += v
	}
	return total
}

// Engine executes pipelines against the inference service through the
// retry/circuit-breaker layer.
type Engine struct {
	client   InferenceClient
	breakers *breaker.Registry
	policy   retry.Policy
	models   *ModelTable
	logger   *slog.Logger
}

func NewEngine(
	client InferenceClient,
	breakers *breaker.Registry,
	policy retry.Policy,
	models *ModelTable,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		client:   client,
		breakers: breakers,
		policy:   policy,
		models:   models,
		logger:   logger,
	}
}

// Execute runs every step of the pipeline in order against seed, threading
// prior outputs into later steps as steps.<id>.output.
//
// A single step's render or provider error is recorded in that step's result
// and execution continues: one bad step must not lose the whole record. The
// one exception is an open circuit breaker — once a target fails fast there
// is no point attempting the remaining steps of this record, so they are
// left unvisited and ErrCircuitOpen is returned alongside the partial
// results.
func (e *Engine) Execute(ctx context.Context, p *Pipeline, seed map[string]any) (map[string]domain.StepResult, *Usage, error) {
	results := make(map[string]domain.StepResult, len(p.Steps))
	usage := newUsage()

	for _, step := range p.Steps {
		model, err := e.models.Resolve(step)
		if err != nil {
			results[step.ID] = domain.StepResult{StepID: step.ID, Error: err.Error()}
			continue
		}

		prompt, err := RenderStep(step, seed, results)
		if err != nil {
			e.logger.Warn("step render failed",
				"step", step.ID, "model", model, "err", err)
			results[step.ID] = domain.StepResult{StepID: step.ID, Model: model, Error: err.Error()}
			continue
		}

		var completion Completion
		br := e.breakers.For(model)
		err = retry.Do(ctx, e.policy, br, func(ctx context.Context) error {
			var invokeErr error
			completion, invokeErr = e.client.Invoke(ctx, model, prompt)
			return invokeErr
		})
		if errors.Is(err, retry.ErrCircuitOpen) {
			results[step.ID] = domain.StepResult{StepID: step.ID, Model: model, Error: err.Error()}
			return results, usage, err
		}
		if err != nil {
			e.logger.Warn("step invocation failed",
				"step", step.ID, "model", model, "err", err)
			results[step.ID] = domain.StepResult{StepID: step.ID, Model: model, Prompt: prompt, Error: err.Error()}
			continue
		}

		usage.InputTokens[model] += completion.InputTokens
		usage.OutputTokens[model] += completion.OutputTokens
		results[step.ID] = domain.StepResult{
			StepID: step.ID,
			Model:  model,
			Prompt: prompt,
			Output: completion.Text,
		}
	}
	return results, usage, nil
}

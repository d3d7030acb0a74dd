package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/HatmanStack/plot-palette-sub000/internal/breaker"
	"github.com/HatmanStack/plot-palette-sub000/internal/retry"
)

// scriptedClient fails invocations whose prompt matches failOn and echoes
// everything else.
type scriptedClient struct {
	failOn  func(model, prompt string) error
	invoked []string
}

func (c *scriptedClient) Invoke(_ context.Context, model, prompt string) (Completion, error) {
	c.invoked = append(c.invoked, model)
	if c.failOn != nil {
		if err := c.failOn(model, prompt); err != nil {
			return Completion{}, err
		}
	}
	return Completion{
		Text:         "echo:" + prompt,
		InputTokens:  int64(len(prompt)),
		OutputTokens: 5,
	}, nil
}

func testEngine(client InferenceClient) *Engine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := breaker.NewRegistry(breaker.Config{FailureThreshold: 2, RecoveryTimeout: time.Hour})
	policy := retry.Policy{MaxRetries: 0}
	return NewEngine(client, reg, policy, DefaultModelTable(), logger)
}

func twoStepPipeline(t *testing.T) *Pipeline {
	t.Helper()
	p, err := Parse([]byte(`
name: qa
steps:
  - id: question
    prompt: 'Ask about {{.seed.topic}}'
    tier: cheap
  - id: answer
    prompt: 'Answer: {{.steps.question.output}}'
    model: palette-chat-v2
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return p
}

func TestExecuteThreadsOutputsBetweenSteps(t *testing.T) {
	client := &scriptedClient{}
	e := testEngine(client)

	results, usage, err := e.Execute(context.Background(), twoStepPipeline(t),
		map[string]any{"topic": "tides"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	q := results["question"]
	if q.Output != "echo:Ask about tides" {
		t.Fatalf("question output = %q", q.Output)
	}
	a := results["answer"]
	if a.Output != "echo:Answer: echo:Ask about tides" {
		t.Fatalf("answer did not see question output: %q", a.Output)
	}
	if a.Model != "palette-chat-v2" || q.Model != "palette-lite-v1" {
		t.Fatalf("models = %q, %q", q.Model, a.Model)
	}
	if usage.TotalTokens() == 0 {
		t.Fatal("usage not accounted")
	}
}

// One step's provider error is stored in that step's result and execution
// continues; it must not abort the record.
func TestExecuteStepErrorIsIsolated(t *testing.T) {
	client := &scriptedClient{
		failOn: func(model, _ string) error {
			if model == "palette-lite-v1" {
				return errors.New("malformed request")
			}
			return nil
		},
	}
	e := testEngine(client)

	results, _, err := e.Execute(context.Background(), twoStepPipeline(t),
		map[string]any{"topic": "tides"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if results["question"].Error == "" {
		t.Fatal("failing step must carry an error marker")
	}
	// The answer step depends on the failed question, so its render fails,
	// but it is still present as an errored result, not missing.
	if _, ok := results["answer"]; !ok {
		t.Fatal("dependent step missing from results")
	}
	if results["answer"].Error == "" {
		t.Fatal("dependent step must carry an error marker")
	}
}

func TestExecuteIndependentStepsSurviveFailure(t *testing.T) {
	p, err := Parse([]byte(`
steps:
  - id: broken
    prompt: 'p1'
    tier: cheap
  - id: standalone
    prompt: 'p2'
    model: palette-chat-v2
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	client := &scriptedClient{
		failOn: func(model, _ string) error {
			if model == "palette-lite-v1" {
				return errors.New("boom")
			}
			return nil
		},
	}
	e := testEngine(client)

	results, _, err := e.Execute(context.Background(), p, map[string]any{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if results["standalone"].Output == "" || results["standalone"].Error != "" {
		t.Fatalf("independent step must succeed: %+v", results["standalone"])
	}
}

// An open circuit breaker aborts the remaining steps of the record instead
// of attempting and failing each one.
func TestExecuteBreakerOpenAbortsRemainingSteps(t *testing.T) {
	p, err := Parse([]byte(`
steps:
  - id: s1
    prompt: 'p1'
    model: flaky-model
  - id: s2
    prompt: 'p2'
    model: flaky-model
  - id: s3
    prompt: 'p3'
    model: flaky-model
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	client := &scriptedClient{
		failOn: func(string, string) error {
			return retry.Transient(fmt.Errorf("service unavailable"))
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	// Threshold 2 with one retry: step s1 records two failures and opens the
	// breaker; s2 fails fast without an attempt; s3 is never visited.
	reg := breaker.NewRegistry(breaker.Config{FailureThreshold: 2, RecoveryTimeout: time.Hour})
	e := NewEngine(client, reg, retry.Policy{MaxRetries: 1, BaseDelay: time.Millisecond}, DefaultModelTable(), logger)

	results, _, err := e.Execute(context.Background(), p, map[string]any{})
	if !errors.Is(err, retry.ErrCircuitOpen) {
		t.Fatalf("got %v, want ErrCircuitOpen", err)
	}
	if len(client.invoked) != 2 {
		t.Fatalf("got %d invocations, want 2 (s1's attempts only)", len(client.invoked))
	}
	if _, ok := results["s3"]; ok {
		t.Fatal("steps after the fast abort must be left unvisited")
	}
}

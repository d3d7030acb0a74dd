// Package budget tracks per-job cost against a hard limit: inference token
// cost from a per-model price table, compute time, and storage operations.
package budget

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// WouldExceed reports whether cost has reached limit. The check is
// inclusive: a job that hits the limit exactly is exceeded, not at-limit.
func WouldExceed(cost, limit float64) bool {
	return cost >= limit
}

// ModelPrice is the per-1K-token price for one model.
type ModelPrice struct {
	InputPerKTok  float64 `yaml:"input_per_ktok"`
	OutputPerKTok float64 `yaml:"output_per_ktok"`
}

type PriceTable struct {
	ComputePerHour float64               `yaml:"compute_per_hour"`
	StoragePerOp   float64               `yaml:"storage_per_op"`
	Models         map[string]ModelPrice `yaml:"models"`
	// DefaultModel prices any model missing from the table, so an unlisted
	// model costs something rather than nothing.
	DefaultModel ModelPrice `yaml:"default_model"`
}

func DefaultPriceTable() *PriceTable {
	return &PriceTable{
		ComputePerHour: 0.40,
		StoragePerOp:   0.00002,
		Models: map[string]ModelPrice{
			"palette-lite-v1":       {InputPerKTok: 0.0003, OutputPerKTok: 0.0006},
			"palette-chat-v2":       {InputPerKTok: 0.003, OutputPerKTok: 0.015},
			"palette-chat-v2-large": {InputPerKTok: 0.015, OutputPerKTok: 0.075},
			"palette-complete-v1":   {InputPerKTok: 0.0008, OutputPerKTok: 0.0024},
		},
		DefaultModel: ModelPrice{InputPerKTok: 0.003, OutputPerKTok: 0.015},
	}
}

// LoadPriceTable reads a table from a YAML file, falling back to the default
// table when path is empty.
func LoadPriceTable(path string) (*PriceTable, error) {
	if path == "" {
		return DefaultPriceTable(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read price table: %w", err)
	}
	t := &PriceTable{}
	if err := yaml.Unmarshal(b, t); err != nil {
		return nil, fmt.Errorf("parse price table: %w", err)
	}
	return t, nil
}

func (t *PriceTable) price(model string) ModelPrice {
	if p, ok := t.Models[model]; ok {
		return p
	}
	return t.DefaultModel
}

// TokenCost prices one invocation's token counts for model.
func (t *PriceTable) TokenCost(model string, inputTokens, outputTokens int64) float64 {
	p := t.price(model)
	return float64(inputTokens)/1000*p.InputPerKTok +
		float64(outputTokens)/1000*p.OutputPerKTok
}

// Tracker is the in-memory running cost for one job attempt. Baseline is the
// cost carried over from the checkpoint (or the last persisted snapshot,
// whichever is higher); inference and storage accrue per event and compute
// accrues with wall time since the attempt started.
type Tracker struct {
	mu         sync.Mutex
	prices     *PriceTable
	now        func() time.Time
	baseline   float64
	resumedAt  time.Time
	inference  float64
	storageOps int
}

func NewTracker(prices *PriceTable, baseline float64) *Tracker {
	t := &Tracker{
		prices:   prices,
		now:      time.Now,
		baseline: baseline,
	}
	t.resumedAt = t.now()
	return t
}

// RecordUsage accrues inference cost for one model invocation.
func (t *Tracker) RecordUsage(model string, inputTokens, outputTokens int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inference += t.prices.TokenCost(model, inputTokens, outputTokens)
}

// RecordStorageOps accrues n blob/doc-store writes.
func (t *Tracker) RecordStorageOps(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.storageOps += n
}

func (t *Tracker) computeCost() float64 {
	return t.now().Sub(t.resumedAt).Hours() * t.prices.ComputePerHour
}

func (t *Tracker) storageCost() float64 {
	return float64(t.storageOps) * t.prices.StoragePerOp
}

// Current returns the best available running total for the job.
func (t *Tracker) Current() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.baseline + t.inference + t.computeCost() + t.storageCost()
}

// Categories returns the per-category accrual of this attempt plus the
// cumulative total.
func (t *Tracker) Categories() (inference, compute, storage, total float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	inference = t.inference
	compute = t.computeCost()
	storage = t.storageCost()
	total = t.baseline + inference + compute + storage
	return inference, compute, storage, total
}

// Package collab is the worker's view of data owned by other services:
// pipeline templates, seed datasets, and the export destination.
package collab

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/HatmanStack/plot-palette-sub000/internal/blob"
	"github.com/HatmanStack/plot-palette-sub000/internal/docstore"
	"github.com/HatmanStack/plot-palette-sub000/internal/pipeline"
)

// Templates loads and parses versioned pipeline templates from the doc store.
type Templates struct {
	docs docstore.Store
}

func NewTemplates(docs docstore.Store) *Templates {
	return &Templates{docs: docs}
}

func (t *Templates) Get(ctx context.Context, id string, version int) (*pipeline.Pipeline, error) {
	body, err := t.docs.GetTemplate(ctx, id, version)
	if err != nil {
		return nil, fmt.Errorf("template %s v%d: %w", id, version, err)
	}
	p, err := pipeline.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("template %s v%d: %w", id, version, err)
	}
	return p, nil
}

// Seeds reads seed datasets out of blob storage. A seed object is NDJSON,
// one JSON object per record.
type Seeds struct {
	blobs blob.Store
}

func NewSeeds(blobs blob.Store) *Seeds {
	return &Seeds{blobs: blobs}
}

func (s *Seeds) Load(ctx context.Context, location string) ([]map[string]any, error) {
	data, err := s.blobs.Get(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("seed data %s: %w", location, err)
	}
	seeds, err := blob.DecodeNDJSON[map[string]any](data)
	if err != nil {
		return nil, fmt.Errorf("seed data %s: %w", location, err)
	}
	if len(seeds) == 0 {
		return nil, fmt.Errorf("seed data %s: empty dataset", location)
	}
	return seeds, nil
}

// Exporter assembles a finished job's output batches into a single dataset
// object under the exports/ prefix.
type Exporter struct {
	blobs blob.Store
}

func NewExporter(blobs blob.Store) *Exporter {
	return &Exporter{blobs: blobs}
}

// Export concatenates every output batch, in batch order, into one object
// and returns its key. Only the ndjson format has a writer today.
func (e *Exporter) Export(ctx context.Context, jobID uuid.UUID, format string) (string, error) {
	if format != "ndjson" {
		return "", fmt.Errorf("export job %s: unsupported format %q", jobID, format)
	}
	keys, err := e.blobs.List(ctx, blob.BatchPrefix(jobID))
	if err != nil {
		return "", fmt.Errorf("export job %s: list batches: %w", jobID, err)
	}
	if len(keys) == 0 {
		return "", fmt.Errorf("export job %s: no output batches", jobID)
	}
	var out []byte
	for _, key := range keys {
		data, err := e.blobs.Get(ctx, key)
		if err != nil {
			return "", fmt.Errorf("export job %s: read %s: %w", jobID, key, err)
		}
		out = append(out, data...)
	}
	dest := blob.ExportKey(jobID, format)
	if err := e.blobs.Put(ctx, dest, out, "application/x-ndjson"); err != nil {
		return "", fmt.Errorf("export job %s: write %s: %w", jobID, dest, err)
	}
	return dest, nil
}

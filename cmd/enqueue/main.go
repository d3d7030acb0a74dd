// cmd/enqueue is a development submission tool: it can register a template
// version, upload a seed dataset, and enqueue a generation job against them.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/HatmanStack/plot-palette-sub000/internal/blob"
	"github.com/HatmanStack/plot-palette-sub000/internal/db"
	"github.com/HatmanStack/plot-palette-sub000/internal/docstore"
	"github.com/HatmanStack/plot-palette-sub000/internal/queue"
)

func main() {
	owner := flag.String("owner", "dev", "owner id for the job")
	templateID := flag.String("template", "", "template id (required)")
	templateVersion := flag.Int("template-version", 1, "template version")
	templateFile := flag.String("template-file", "", "optional pipeline YAML to store as this template version")
	seedLocation := flag.String("seed", "", "blob key of the seed dataset")
	seedFile := flag.String("seed-file", "", "optional local NDJSON seed file to upload to the seed key")
	records := flag.Int("records", 10, "target record count")
	budgetLimit := flag.Float64("budget", 5.0, "budget limit in dollars")
	format := flag.String("format", "ndjson", "output format")
	flag.Parse()

	if *templateID == "" {
		log.Fatal("-template is required")
	}

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, databaseURL)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer pool.Close()
	docs := docstore.NewPostgres(pool)

	if *templateFile != "" {
		body, err := os.ReadFile(*templateFile)
		if err != nil {
			log.Fatalf("read template file: %v", err)
		}
		if err := docs.PutTemplate(ctx, *templateID, *templateVersion, body); err != nil {
			log.Fatalf("store template: %v", err)
		}
		fmt.Printf("stored template %s v%d\n", *templateID, *templateVersion)
	}

	if *seedFile != "" {
		if *seedLocation == "" {
			log.Fatal("-seed is required when uploading with -seed-file")
		}
		data, err := os.ReadFile(*seedFile)
		if err != nil {
			log.Fatalf("read seed file: %v", err)
		}
		blobs, err := blob.NewMinIO(ctx, blob.MinIOConfig{
			Endpoint:  envOr("BLOB_ENDPOINT", "localhost:9000"),
			AccessKey: envOr("BLOB_ACCESS_KEY", "minioadmin"),
			SecretKey: envOr("BLOB_SECRET_KEY", "minioadmin"),
			Bucket:    envOr("BLOB_BUCKET", "palette"),
		})
		if err != nil {
			log.Fatalf("connect to blob store: %v", err)
		}
		if err := blobs.Put(ctx, *seedLocation, data, "application/x-ndjson"); err != nil {
			log.Fatalf("upload seed: %v", err)
		}
		fmt.Printf("uploaded seed data to %s\n", *seedLocation)
	}

	q := queue.New(docs, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	job, err := q.Enqueue(ctx, queue.EnqueueOptions{
		OwnerID:         *owner,
		TemplateID:      *templateID,
		TemplateVersion: *templateVersion,
		SeedLocation:    *seedLocation,
		TargetRecords:   *records,
		OutputFormat:    *format,
		BudgetLimit:     *budgetLimit,
	})
	if err != nil {
		log.Fatalf("enqueue: %v", err)
	}
	fmt.Printf("enqueued job %s (%d records, $%.2f budget)\n",
		job.ID, job.Config.TargetRecords, job.Config.BudgetLimit)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

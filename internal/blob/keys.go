package blob

import (
	"fmt"

	"github.com/google/uuid"
)

func CheckpointKey(jobID uuid.UUID) string {
	return fmt.Sprintf("checkpoints/%s/checkpoint.json", jobID)
}

func BatchPrefix(jobID uuid.UUID) string {
	return fmt.Sprintf("jobs/%s/batches/", jobID)
}

// BatchKey names one output batch. Zero-padded batch numbers keep lexical
// listing order equal to write order.
func BatchKey(jobID uuid.UUID, batch int) string {
	return fmt.Sprintf("jobs/%s/batches/batch-%05d.ndjson", jobID, batch)
}

func ExportKey(jobID uuid.UUID, format string) string {
	return fmt.Sprintf("exports/%s/dataset.%s", jobID, format)
}

package budget

import (
	"fmt"

	"github.com/google/uuid"
)

func LatestCostKey(jobID uuid.UUID) string {
	return fmt.Sprintf("palette:job:%s:cost:latest", jobID)
}

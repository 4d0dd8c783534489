package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func JobStatusKey(jobID uuid.UUID) string {
	return fmt.Sprintf("ocrbatch:job:%s:status", jobID)
}

func RateLimitKey(subject string) string {
	return fmt.Sprintf("ocrbatch:ratelimit:%s", subject)
}

package audit

import (
	"fmt"
	"os"
	"time"
)

// NewConsumerID creates a consumer name for the Redis consumer group,
// unique per process.
func NewConsumerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "dualauth"
	}
	return fmt.Sprintf("%s-%d-%d", host, os.Getpid(), time.Now().UnixNano())
}

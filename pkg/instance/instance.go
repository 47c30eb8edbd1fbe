package instance

import (
	"os"

	"github.com/google/uuid"
)

// GetID returns the configured instance identifier, falling back to the
// hostname and finally to a random id so relay origins never collide.
func GetID(configured string) string {
	if configured != "" {
		return configured
	}
	if id := os.Getenv("HOSTNAME"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "shoppad-" + uuid.NewString()[:8]
}

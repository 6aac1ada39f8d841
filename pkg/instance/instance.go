package instance

import (
	"os"
	"strings"
)

const (
	EnvInstanceID = "LACKMARKT_INSTANCE_ID"
	envDyno       = "DYNO"
)

// ID identifies the running process in logs and lock ownership. It prefers an
// explicit instance id, then the platform dyno name, then the hostname.
func ID() string {
	for _, key := range []string{EnvInstanceID, envDyno} {
		if id := strings.TrimSpace(os.Getenv(key)); id != "" {
			return id
		}
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}

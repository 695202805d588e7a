package instance

import (
	"os"
	"strings"
)

const fallbackID = "natal-0"

// ID names the running process in logs and lock owners. It prefers
// NATAL_INSTANCE_ID, then the Heroku DYNO name, then the hostname.
func ID() string {
	return resolve(os.Getenv, os.Hostname)
}

func resolve(getenv func(string) string, hostname func() (string, error)) string {
	for _, key := range []string{"NATAL_INSTANCE_ID", "DYNO"} {
		if id := strings.TrimSpace(getenv(key)); id != "" {
			return id
		}
	}
	if host, err := hostname(); err == nil && strings.TrimSpace(host) != "" {
		return host
	}
	return fallbackID
}

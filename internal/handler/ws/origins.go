package ws

import (
	"os"
	"strings"
)

// GetAllowedOrigins returns allowed WebSocket origins from environment or defaults
func GetAllowedOrigins() map[string]bool {
	allowedOrigins := map[string]bool{
		"http://localhost:3000": true,
		"http://localhost:5173": true,
	}

	if env := os.Getenv("WS_ALLOWED_ORIGINS"); env != "" {
		allowedOrigins = make(map[string]bool)
		for _, origin := range strings.Split(env, ",") {
			allowedOrigins[strings.TrimSpace(origin)] = true
		}
	}

	return allowedOrigins
}

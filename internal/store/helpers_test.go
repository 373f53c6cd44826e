package store_test

import "github.com/agentoven/agentdesk/internal/config"

func configFor(url string) config.DatabaseConfig {
	return config.DatabaseConfig{URL: url}
}

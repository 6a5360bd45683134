package config

import (
	"log"

	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	DatabasePath string `envconfig:"DATABASE_PATH" default:"/app/data/apimanager.db"`
	ListenAddr   string `envconfig:"LISTEN_ADDR" default:":8080"`
	AdminSecret  string `envconfig:"ADMIN_SECRET" default:""`
	LogPath      string `envconfig:"LOG_PATH" default:""`

	// ConnectionCacheTTL controls how long a brokered database handle stays
	// in the cache before it is reopened on next use.
	ConnectionCacheTTL string `envconfig:"CONNECTION_CACHE_TTL" default:"5m"`

	// LogRetentionDays is how long call/connection/query logs are kept
	// before the nightly prune job deletes them. 0 disables pruning.
	LogRetentionDays int `envconfig:"LOG_RETENTION_DAYS" default:"30"`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("APIMANAGER", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
}

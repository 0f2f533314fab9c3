// Package config loads the CORE's environment surface (spec §6): the
// Catalog path/password, the Credential Pool contents, and the transfer
// tunables. Shaped after the teacher's config.Config/LoadConfig -
// defaults baked in, overridden from os.Getenv, no external file format.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	CatalogPath     string
	CatalogPassword string

	Credentials []string
	ChatID      string

	ChunkSize          int64
	ChunkThreshold      int64
	MaxParallelChunks   int
	MaxRetriesPerChunk  int
	RetryBackoff        time.Duration

	Port string

	SignSecret string

	CookieDomain string
	CookieSecure bool
	AllowOrigins []string
}

// Load reads the environment, filling in spec §6 defaults for anything
// unset.
func Load() Config {
	cfg := Config{
		CatalogPath:        "./corekit.catalog",
		ChatID:             "default",
		ChunkSize:          4 << 20,
		ChunkThreshold:     4 << 20,
		MaxParallelChunks:  5,
		MaxRetriesPerChunk: 3,
		RetryBackoff:       time.Second,
		Port:               "8080",
		CookieDomain:       "localhost",
		CookieSecure:       false,
		AllowOrigins:       []string{"http://localhost:5173"},
	}

	if v := os.Getenv("CATALOG_PATH"); v != "" {
		cfg.CatalogPath = v
	}
	if v := os.Getenv("CATALOG_PASSWORD"); v != "" {
		cfg.CatalogPassword = v
	}
	if v := os.Getenv("CREDENTIALS"); v != "" {
		for _, c := range strings.Split(v, ",") {
			c = strings.TrimSpace(c)
			if c != "" {
				cfg.Credentials = append(cfg.Credentials, c)
			}
		}
	}
	if v := os.Getenv("CHAT_ID"); v != "" {
		cfg.ChatID = v
	}
	if v := os.Getenv("CHUNK_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.ChunkSize = n
		}
	}
	if v := os.Getenv("CHUNK_THRESHOLD"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.ChunkThreshold = n
		}
	}
	if v := os.Getenv("MAX_PARALLEL_CHUNKS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxParallelChunks = n
		}
	}
	if v := os.Getenv("MAX_RETRIES_PER_CHUNK"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.MaxRetriesPerChunk = n
		}
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("SIGN_SECRET"); v != "" {
		cfg.SignSecret = v
	}
	if v := os.Getenv("COOKIE_DOMAIN"); v != "" {
		cfg.CookieDomain = v
	}
	if v := os.Getenv("COOKIE_SECURE"); v != "" {
		cfg.CookieSecure = v == "true" || v == "1"
	}
	if v := os.Getenv("ALLOW_ORIGINS"); v != "" {
		cfg.AllowOrigins = strings.Split(v, ",")
	}

	return cfg
}

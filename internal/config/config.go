// Package config assembles the P2P core's typed Config from
// environment variables, the way every service in this codebase
// builds its own per-service Config from pkgconfig.GetEnv calls.
package config

import (
	"strings"
	"time"

	"github.com/federatedfm/p2pcore/internal/blobcache"
	pkgconfig "github.com/federatedfm/p2pcore/pkg/config"
)

// Config holds the process-wide P2P configuration. It is read once
// at startup and never mutated; operator changes require a restart.
type Config struct {
	Enabled bool

	NodeName string

	DatabaseURL string

	ListenAddr string
	ALPN       string

	CacheMaxBytes uint64

	PingInterval   time.Duration
	PingTimeout    time.Duration
	ConnectionIdle time.Duration
	PoolMaxEntries int

	BloomCapacity uint
	BloomFPRate   float64

	Blocklist []string

	AdminPort string
}

// Load assembles a Config from the environment, applying defaults
// for anything unset.
func Load() Config {
	blocklistRaw := pkgconfig.GetEnv("P2P_BLOCKLIST", "")
	var blocklist []string
	if blocklistRaw != "" {
		for _, entry := range strings.Split(blocklistRaw, ",") {
			entry = strings.TrimSpace(entry)
			if entry != "" {
				blocklist = append(blocklist, entry)
			}
		}
	}

	return Config{
		Enabled: pkgconfig.GetEnvBool("P2P_ENABLED", true),

		NodeName: pkgconfig.GetEnv("P2P_NODE_NAME", ""),

		DatabaseURL: pkgconfig.GetEnv("DATABASE_URL", ""),

		ListenAddr: pkgconfig.GetEnv("P2P_LISTEN_ADDR", ":4433"),
		ALPN:       pkgconfig.GetEnv("P2P_ALPN", "soundtime-p2p/1"),

		CacheMaxBytes: blobcache.ParseSizeOrDefault(pkgconfig.GetEnv("P2P_CACHE_MAX_BYTES", ""), blobcache.DefaultMaxCacheBytes),

		PingInterval:   pkgconfig.GetEnvDuration("P2P_PING_INTERVAL", time.Minute),
		PingTimeout:    pkgconfig.GetEnvDuration("P2P_PING_TIMEOUT", 5*time.Second),
		ConnectionIdle: pkgconfig.GetEnvDuration("P2P_CONNECTION_IDLE", 60*time.Second),
		PoolMaxEntries: pkgconfig.GetEnvInt("P2P_CONNECTION_POOL_MAX", 128),

		BloomCapacity: uint(pkgconfig.GetEnvInt("P2P_BLOOM_CAPACITY", 100_000)),
		BloomFPRate:   pkgconfig.GetEnvFloat("P2P_BLOOM_FP_RATE", 0.01),

		Blocklist: blocklist,

		AdminPort: pkgconfig.GetEnv("ADMIN_PORT", "9090"),
	}
}

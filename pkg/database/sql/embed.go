package sql

import (
	"embed"
)

// Content embeds the schema migrations needed by the P2P core's own
// persistence (peer registry, blocklist, remote-track observations).
// The core does not own or migrate the relational catalog itself.
//
//go:embed schema/*.sql
var Content embed.FS

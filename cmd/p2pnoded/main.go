// Command p2pnoded runs the P2P core as a standalone process: a QUIC
// overlay node that announces a (by default empty) local catalog,
// answers blob and search requests from peers, and exposes a minimal
// admin HTTP surface for health and Prometheus scraping. A host
// application embedding this module as a library would instead
// construct an internal/node.Node directly with its own
// internal/catalog.LocalCatalog implementation.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/federatedfm/p2pcore/internal/blobcache"
	"github.com/federatedfm/p2pcore/internal/blocklist"
	"github.com/federatedfm/p2pcore/internal/catalog"
	"github.com/federatedfm/p2pcore/internal/config"
	"github.com/federatedfm/p2pcore/internal/metrics"
	"github.com/federatedfm/p2pcore/internal/node"
	"github.com/federatedfm/p2pcore/internal/pool"
	"github.com/federatedfm/p2pcore/internal/registry"
	"github.com/federatedfm/p2pcore/internal/search"
	"github.com/federatedfm/p2pcore/internal/transport"

	pkgconfig "github.com/federatedfm/p2pcore/pkg/config"
	"github.com/federatedfm/p2pcore/pkg/database"
	schemafs "github.com/federatedfm/p2pcore/pkg/database/sql"
	"github.com/federatedfm/p2pcore/pkg/logging"
	"github.com/federatedfm/p2pcore/pkg/server"
)

func main() {
	logger := logging.NewLoggerWithService("p2pnoded")
	pkgconfig.LoadEnv(logger)

	cfg := config.Load()
	if !cfg.Enabled {
		logger.Info("P2P core disabled (P2P_ENABLED=false); exiting")
		return
	}

	seedPath := pkgconfig.GetEnv("P2P_IDENTITY_SEED_FILE", "./p2p_identity.seed")
	id, err := loadOrCreateIdentity(seedPath)
	if err != nil {
		logger.WithError(err).Fatal("failed to load or create node identity")
	}
	logger.WithField("node_id", id.String()).Info("node identity loaded")

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		dbConfig := database.DefaultConfig()
		dbConfig.URL = cfg.DatabaseURL
		db = database.MustConnect(dbConfig, logger)
		defer db.Close()
		if err := applySchema(db); err != nil {
			logger.WithError(err).Fatal("failed to apply database schema")
		}
	} else {
		logger.Warn("no DATABASE_URL configured; running with in-memory peer registry only")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := registry.New(logger)
	if db != nil {
		loaded, err := reg.Load(ctx, db)
		if err != nil {
			logger.WithError(err).Warn("failed to load peer registry from database")
		} else {
			logger.WithField("peers", loaded).Info("peer registry restored")
		}
	}

	var remoteStore *catalog.RemoteTrackStore
	if db != nil {
		remoteStore = catalog.NewRemoteTrackStore(db)
	}

	blocked := &blocklist.Composite{Static: blocklist.NewStaticStore(cfg.Blocklist)}
	if db != nil {
		blocked.DB = blocklist.NewDBStore(db)
	}

	blobDir := pkgconfig.GetEnv("P2P_BLOB_DIR", "./p2p_blobs")
	store, err := blobcache.NewFSStore(blobDir)
	if err != nil {
		logger.WithError(err).Fatal("failed to open blob store directory")
	}
	cache := blobcache.New(store, cfg.CacheMaxBytes, logger)

	idx, err := search.New(cfg.BloomCapacity, cfg.BloomFPRate)
	if err != nil {
		logger.WithError(err).Fatal("failed to build search index")
	}

	m := metrics.New()

	tr, err := transport.New(id, cfg.ALPN)
	if err != nil {
		logger.WithError(err).Fatal("failed to build QUIC transport")
	}

	connPool := pool.New(&transport.PoolDialer{Transport: tr}, cfg.PoolMaxEntries, cfg.ConnectionIdle)

	n := node.New(
		id,
		cfg,
		logger,
		&node.PoolPeerDialer{Pool: connPool},
		connPool,
		reg,
		cache,
		store,
		idx,
		catalog.EmptyCatalog{},
		remoteStore,
		blocked,
		m,
	)

	listener, err := tr.Listen(cfg.ListenAddr)
	if err != nil {
		logger.WithError(err).Fatal("failed to listen for peer connections")
	}
	defer listener.Close()
	logger.WithField("addr", listener.Addr()).Info("listening for peer connections")

	go acceptLoop(ctx, listener, n, logger)
	go n.MaintainLiveness(ctx)
	go connPool.Maintain(ctx, cfg.ConnectionIdle)

	health := func() (bool, map[string]string) {
		details := map[string]string{
			"node_id":      id.String(),
			"peers_online": strconv.Itoa(len(reg.Online())),
		}
		if db != nil {
			if err := db.PingContext(ctx); err != nil {
				details["database"] = err.Error()
				return false, details
			}
			details["database"] = "ok"
		}
		return true, details
	}

	router := server.NewAdminRouter(health)
	router.GET("/peers", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"peers": reg.List()})
	})

	serverCfg := server.DefaultConfig("p2pnoded", cfg.AdminPort)

	// server.Start blocks until SIGINT/SIGTERM; once it returns, stop
	// the background maintenance loops and persist final state.
	if err := server.Start(serverCfg, router, logger); err != nil {
		logger.WithError(err).Error("admin server exited with error")
	}
	cancel()

	if db != nil {
		if err := reg.Persist(context.Background(), db); err != nil {
			logger.WithError(err).Warn("failed to persist peer registry on shutdown")
		}
	}
}

// applySchema runs every embedded schema file against the database in
// filename order. All statements are idempotent (CREATE ... IF NOT
// EXISTS), so re-running at each startup is safe.
func applySchema(db *sql.DB) error {
	entries, err := schemafs.Content.ReadDir("schema")
	if err != nil {
		return fmt.Errorf("read embedded schema: %w", err)
	}
	for _, entry := range entries {
		ddl, err := schemafs.Content.ReadFile("schema/" + entry.Name())
		if err != nil {
			return fmt.Errorf("read schema file %s: %w", entry.Name(), err)
		}
		if _, err := db.Exec(string(ddl)); err != nil {
			return fmt.Errorf("apply schema file %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// acceptLoop accepts inbound peer connections and dispatches their
// streams to the node until ctx is canceled.
func acceptLoop(ctx context.Context, listener *transport.Listener, n *node.Node, logger logging.Logger) {
	for {
		conn, err := listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.WithError(err).Warn("failed to accept peer connection")
			continue
		}
		go handleConn(ctx, conn, n)
	}
}

func handleConn(ctx context.Context, conn *transport.Conn, n *node.Node) {
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		go n.HandleStream(ctx, conn.PeerID, stream)
	}
}

// Command nomaid runs the simulation engine: the ECS world, the tick
// orchestrator with its optional physics adapter and script sandbox,
// the manifest pipeline, and the HTTP command surface, wired together
// from pkg/config and shut down gracefully on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nomai-sim/nomai/internal/api"
	"github.com/nomai-sim/nomai/internal/cache"
	"github.com/nomai-sim/nomai/internal/ecs"
	"github.com/nomai-sim/nomai/internal/orchestrator"
	"github.com/nomai-sim/nomai/internal/physics"
	"github.com/nomai-sim/nomai/internal/sandbox"
	"github.com/nomai-sim/nomai/internal/store"
	"github.com/nomai-sim/nomai/pkg/config"
	"github.com/nomai-sim/nomai/pkg/logger"
	"github.com/nomai-sim/nomai/pkg/metrics"
	"github.com/nomai-sim/nomai/pkg/version"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	log := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})

	log.WithField("version", version.FullVersion()).Info("starting nomaid")

	world := buildWorld(log)

	orch := orchestrator.New(world, orchestrator.TickConfig{
		FixedDT:  cfg.Engine.FixedDT(),
		Headless: cfg.Engine.Headless,
	}, cfg.Engine.HistoryWindow)

	if cfg.Physics.SolverIterations > 0 {
		adapter := physics.NewAdapter(cfg.Physics.GravityX, cfg.Physics.GravityY, cfg.Physics.SolverIterations)
		orch.AttachPhysics(adapter)
	}

	sb := sandbox.New(sandbox.Config{
		FuelBudget:       cfg.Sandbox.FuelBudget,
		MemoryLimitBytes: cfg.Sandbox.MemoryLimitBytes,
		WallClockTimeout: time.Duration(cfg.Sandbox.WallClockTimeoutMillis) * time.Millisecond,
	})
	orch.AttachSandbox(sb)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var snapshotRepo *store.SnapshotRepository
	var manifestRepo *store.ManifestRepository
	if cfg.Database.DSN != "" {
		db, err := store.Open(ctx, cfg.Database.DSN)
		if err != nil {
			log.WithError(err).Fatal("open database")
		}
		if cfg.Database.MigrateOnStart {
			if err := store.Migrate(db); err != nil {
				log.WithError(err).Fatal("migrate database")
			}
		}
		snapshotRepo = store.NewSnapshotRepository(db)
		manifestRepo = store.NewManifestRepository(db)
		defer db.Close()
	}

	var manifestCache *cache.ManifestCache
	if cfg.Cache.RedisAddr != "" {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.Addr = cfg.Cache.RedisAddr
		manifestCache = cache.New(cacheCfg)
		defer manifestCache.Close()
	}

	jwtSecret := []byte(os.Getenv("JWT_SECRET"))
	if len(jwtSecret) == 0 {
		log.Warn("JWT_SECRET not set, using an insecure development default")
		jwtSecret = []byte("development-insecure-secret-32bytes-minimum")
	}

	server := api.NewServer(orch, jwtSecret, log)
	if manifestCache != nil {
		server.AttachCache(manifestCache)
	}
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           server.Router(),
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	scheduler := cron.New()
	if snapshotRepo != nil {
		if _, err := scheduler.AddFunc("@every 30s", func() {
			snap, err := orch.Snapshot()
			if err != nil {
				log.WithError(err).Warn("periodic snapshot failed")
				return
			}
			if err := snapshotRepo.Save(ctx, snap); err != nil {
				log.WithError(err).Warn("persist periodic snapshot failed")
			}
		}); err != nil {
			log.WithError(err).Fatal("schedule periodic snapshot job")
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	go func() {
		log.WithField("addr", httpServer.Addr).Info("nomaid listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("http server error")
		}
	}()

	go runTickLoop(ctx, orch, server, manifestRepo, manifestCache, cfg.Engine.FixedDT(), log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server shutdown error")
	}
}

// buildWorld registers the baseline component set every nomaid instance
// ships with — position/velocity/physics_body for the physics adapter,
// plus the collision marker the physics step anchors causal chains to —
// on top of whatever a deployment's own gameplay script declares via
// host component calls at runtime. position/velocity are registered as
// physics.Position/physics.Velocity specifically, since the physics
// adapter type-asserts its ECS reads back to those exact Go types.
func buildWorld(log *logger.Logger) *ecs.World {
	registry := ecs.NewRegistry()
	if _, err := ecs.RegisterComponent[physics.Position](registry, "position"); err != nil {
		log.WithError(err).Fatal("register position component")
	}
	if _, err := ecs.RegisterComponent[physics.Velocity](registry, "velocity"); err != nil {
		log.WithError(err).Fatal("register velocity component")
	}
	if _, err := ecs.RegisterComponent[physics.PhysicsBody](registry, "physics_body"); err != nil {
		log.WithError(err).Fatal("register physics_body component")
	}
	if _, err := ecs.RegisterComponent[physics.CollisionMarker](registry, "_collision_marker"); err != nil {
		log.WithError(err).Fatal("register _collision_marker component")
	}
	return ecs.NewWorld(registry)
}

// runTickLoop drives the fixed-timestep simulation at the configured
// rate until ctx is cancelled, publishing each tick's manifest to
// connected stream clients and, if a manifest repository is attached,
// persisting it for durable history beyond the in-memory window.
func runTickLoop(ctx context.Context, orch *orchestrator.Orchestrator, server *api.Server, manifestRepo *store.ManifestRepository, manifestCache *cache.ManifestCache, fixedDT float64, log *logger.Logger) {
	ticker := time.NewTicker(time.Duration(fixedDT * float64(time.Second)))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tickStart := time.Now()
			m := orch.Tick()
			metrics.TickDuration.Observe(time.Since(tickStart).Seconds())
			metrics.EntityCount.Set(float64(orch.World().EntityCount()))
			metrics.ManifestGenerationMicros.Observe(float64(m.ManifestGenerationMicros))

			server.PublishManifest(m)

			if manifestRepo != nil {
				if err := manifestRepo.Save(ctx, m); err != nil {
					log.WithTick(m.Tick).WithError(err).Warn("persist manifest failed")
				}
			}
			if manifestCache != nil {
				if err := manifestCache.PutManifest(ctx, m.Tick, orch.World().ArchetypeGeneration(), m); err != nil {
					log.WithTick(m.Tick).WithError(err).Warn("cache manifest failed")
				}
			}
		}
	}
}

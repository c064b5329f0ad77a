// Package main runs the encounter daemon: it opens the configured dungeon
// instances, drives their encounter controllers on a fixed tick and serves
// the ops API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cory-johannsen/encounter/internal/api"
	"github.com/cory-johannsen/encounter/internal/config"
	"github.com/cory-johannsen/encounter/internal/game/dice"
	"github.com/cory-johannsen/encounter/internal/game/encounter"
	"github.com/cory-johannsen/encounter/internal/game/host"
	"github.com/cory-johannsen/encounter/internal/game/instance"
	"github.com/cory-johannsen/encounter/internal/game/npc"
	"github.com/cory-johannsen/encounter/internal/gameserver"
	"github.com/cory-johannsen/encounter/internal/observability"
	"github.com/cory-johannsen/encounter/internal/scripting"
	"github.com/cory-johannsen/encounter/internal/server"
	"github.com/cory-johannsen/encounter/internal/sim"
	"github.com/cory-johannsen/encounter/internal/storage/postgres"
	"github.com/cory-johannsen/encounter/internal/storage/redis"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	enc := cfg.Encounter
	logger.Info("starting encounter daemon",
		zap.String("backend", cfg.Storage.Backend),
		zap.Duration("tick_interval", enc.TickInterval),
		zap.String("difficulty", enc.Difficulty),
	)

	persister, storeHealth, closeStore, err := openPersister(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("opening boss state store", zap.Error(err))
	}
	defer closeStore()

	// Load content
	contentStart := time.Now()
	templates, err := npc.LoadTemplates(enc.CreaturesDir)
	if err != nil {
		logger.Fatal("loading creature templates", zap.Error(err))
	}
	defs, err := encounter.LoadDefinitions(enc.DefinitionsDir)
	if err != nil {
		logger.Fatal("loading encounter definitions", zap.Error(err))
	}
	registry := encounter.NewRegistry()
	for _, def := range defs {
		if err := registry.Register(def, encounter.Hooks{}); err != nil {
			logger.Fatal("registering encounter", zap.String("id", def.ID), zap.Error(err))
		}
	}
	var spells map[host.SpellID]sim.Spell
	if enc.SpellsFile != "" {
		if _, statErr := os.Stat(enc.SpellsFile); statErr == nil {
			if spells, err = sim.LoadSpells(enc.SpellsFile); err != nil {
				logger.Fatal("loading spells", zap.Error(err))
			}
		}
	}
	logger.Info("content loaded",
		zap.Int("creatures", len(templates)),
		zap.Int("encounters", len(defs)),
		zap.Int("spells", len(spells)),
		zap.Duration("elapsed", time.Since(contentStart)),
	)

	src := dice.NewCryptoSource()
	zones := gameserver.NewZoneSet()

	var scripts *scripting.Manager
	if enc.ScriptsDir != "" {
		if info, statErr := os.Stat(enc.ScriptsDir); statErr == nil && info.IsDir() {
			scripts = scripting.NewManager(src, logger.Named("lua"))
			scripts.Encounter = zones.Encounter
			defer scripts.Close()
		} else {
			logger.Warn("scripts_dir not found, Lua hooks disabled", zap.String("dir", enc.ScriptsDir))
		}
	}

	// Open instances and build their worlds
	instances := instance.NewManager(persister, logger.Named("instance"), cfg.Storage.WriteTimeout)
	ticks := gameserver.NewTickManager(enc.TickInterval, enc.MaxTickDelta, logger.Named("tick"))
	deps := gameserver.ZoneDeps{
		Templates:        templates,
		Spells:           spells,
		Registry:         registry,
		Scripts:          scripts,
		ScriptsDir:       enc.ScriptsDir,
		InstructionLimit: enc.InstructionLimit,
		Difficulty:       enc.Difficulty,
		Source:           src,
		Logger:           logger,
	}
	for _, ic := range enc.Instances {
		inst, err := instances.Open(ctx, ic.ID)
		if err != nil {
			logger.Fatal("opening instance", zap.String("instance", ic.ID), zap.Error(err))
		}
		z, err := gameserver.BuildZone(ic.ID, ic.Spawns, inst, deps)
		if err != nil {
			logger.Fatal("building zone", zap.String("instance", ic.ID), zap.Error(err))
		}
		if err := zones.Add(z); err != nil {
			logger.Fatal("adding zone", zap.Error(err))
		}
		ticks.Register(z.ID, "world", z.World.Tick)
	}

	// Wire lifecycle
	lifecycle := server.NewLifecycle(logger)
	lifecycle.Add("persistence", server.NewRunService(instances.Run))
	lifecycle.Add("ticks", server.NewRunService(ticks.Run))

	if enc.WatchScripts {
		dirs := []string{enc.DefinitionsDir}
		if scripts != nil {
			dirs = append(dirs, enc.ScriptsDir)
		}
		watcher, err := scripting.NewWatcher(logger.Named("watch"), 0, dirs...)
		if err != nil {
			logger.Fatal("creating content watcher", zap.Error(err))
		}
		reload := newReloader(enc, registry, zones, scripts, ticks, logger)
		lifecycle.Add("watcher", server.NewRunService(func(ctx context.Context) error {
			return watcher.Run(ctx, reload)
		}))
	}

	if cfg.API.Enabled {
		gin.SetMode(cfg.API.Mode)
		var apiOpts []api.Option
		if storeHealth != nil {
			apiOpts = append(apiOpts, api.WithHealthCheck(cfg.Storage.Backend, storeHealth))
		}
		srv := api.NewServer(cfg.API.Addr(), ticks, zones.Roster, instances, logger.Named("api"), apiOpts...)
		lifecycle.Add("api", srv)
	}

	logger.Info("encounter daemon initialized",
		zap.Duration("startup", time.Since(start)),
		zap.Strings("zones", zones.IDs()),
	)

	runErr := lifecycle.Run(ctx)

	flushCtx, cancel := context.WithTimeout(ctx, cfg.Storage.WriteTimeout)
	defer cancel()
	if err := instances.Flush(flushCtx); err != nil {
		logger.Error("final boss state flush", zap.Error(err))
	}
	if runErr != nil {
		logger.Error("encounter daemon exited with error", zap.Error(runErr))
		os.Exit(1)
	}
}

// openPersister builds the boss state store named by cfg.Storage.Backend.
// The returned close function releases its connections; the health check is
// nil for backends with nothing to reach.
func openPersister(ctx context.Context, cfg config.Config, logger *zap.Logger) (instance.Persister, api.HealthCheck, func(), error) {
	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		dbStart := time.Now()
		pool, err := postgres.NewPool(ctx, cfg.Database)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connecting to database: %w", err)
		}
		logger.Info("database connected",
			zap.String("host", cfg.Database.Host),
			zap.Duration("elapsed", time.Since(dbStart)),
		)
		return pool.BossStates(), pool.Health, pool.Close, nil
	case config.BackendRedis:
		client, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, nil, err
		}
		logger.Info("redis connected", zap.String("addr", cfg.Redis.Addr))
		store := redis.NewBossStateStore(client, cfg.Redis.KeyPrefix)
		return store, store.Health, func() { _ = client.Close() }, nil
	case config.BackendMemory:
		logger.Warn("memory backend selected, boss states are lost on exit")
		return instance.NewMemoryPersister(), nil, func() {}, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}

// newReloader returns the watcher callback. Script changes reload every
// zone's VM under that zone's tick lock. Definition changes replace the
// registry entry and rebuild the idle controllers running it, also under
// each zone's tick lock; controllers in combat keep the old definition.
func newReloader(enc config.EncounterConfig, registry *encounter.Registry, zones *gameserver.ZoneSet, scripts *scripting.Manager, ticks *gameserver.TickManager, logger *zap.Logger) func(dir, path string) {
	scriptsDir := filepath.Clean(enc.ScriptsDir)
	defsDir := filepath.Clean(enc.DefinitionsDir)
	return func(dir, path string) {
		switch filepath.Clean(dir) {
		case scriptsDir:
			if scripts == nil || filepath.Ext(path) != ".lua" {
				return
			}
			for _, zoneID := range scripts.Zones() {
				var reloadErr error
				err := ticks.Do(zoneID, func() { reloadErr = scripts.Reload(zoneID) })
				if err = errors.Join(err, reloadErr); err != nil {
					logger.Warn("script reload failed, previous VM kept",
						zap.String("zone", zoneID), zap.Error(err))
					continue
				}
				logger.Info("scripts reloaded", zap.String("zone", zoneID), zap.String("file", path))
			}
		case defsDir:
			def, err := encounter.LoadDefinition(path)
			if err != nil {
				logger.Warn("definition reload failed", zap.String("file", path), zap.Error(err))
				return
			}
			if err := registry.Replace(def, encounter.Hooks{}); err != nil {
				logger.Warn("definition rejected", zap.String("file", path), zap.Error(err))
				return
			}
			logger.Info("definition replaced", zap.String("encounter", def.ID), zap.String("file", path))
			for _, zoneID := range zones.IDs() {
				z, _ := zones.Get(zoneID)
				var rebuildErr error
				err := ticks.Do(zoneID, func() { _, _, rebuildErr = z.Rebuild(def.ID) })
				if err = errors.Join(err, rebuildErr); err != nil {
					logger.Warn("controller rebuild failed",
						zap.String("zone", zoneID), zap.String("encounter", def.ID), zap.Error(err))
				}
			}
		}
	}
}

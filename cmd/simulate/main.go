// Package main runs one configured instance offline with a seeded random
// source and prints every command the encounter controllers issued.
package main

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	mrand "math/rand/v2"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/encounter/internal/config"
	"github.com/cory-johannsen/encounter/internal/game/dice"
	"github.com/cory-johannsen/encounter/internal/game/encounter"
	"github.com/cory-johannsen/encounter/internal/game/host"
	"github.com/cory-johannsen/encounter/internal/game/instance"
	"github.com/cory-johannsen/encounter/internal/game/npc"
	"github.com/cory-johannsen/encounter/internal/gameserver"
	"github.com/cory-johannsen/encounter/internal/observability"
	"github.com/cory-johannsen/encounter/internal/scripting"
	"github.com/cory-johannsen/encounter/internal/sim"
)

func main() {
	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	instanceID := flag.String("instance", "", "instance to simulate; empty = first configured")
	seed := flag.Uint64("seed", 1, "random seed")
	limit := flag.Duration("duration", 10*time.Minute, "simulated time limit")
	step := flag.Duration("step", 0, "tick length; 0 = encounter.tick_interval")
	melee := flag.Bool("melee", false, "include attack and melee commands")
	asJSON := flag.Bool("json", false, "print commands as JSON lines")
	flag.Parse()

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
	ic, ok := pickInstance(enc.Instances, *instanceID)
	if !ok {
		logger.Fatal("no such instance", zap.String("instance", *instanceID))
	}
	if *step <= 0 {
		*step = enc.TickInterval
	}

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
	if _, statErr := os.Stat(enc.SpellsFile); enc.SpellsFile != "" && statErr == nil {
		if spells, err = sim.LoadSpells(enc.SpellsFile); err != nil {
			logger.Fatal("loading spells", zap.Error(err))
		}
	}

	src := dice.NewSeededSource(*seed)
	var key [32]byte
	binary.LittleEndian.PutUint64(key[:], *seed)

	zones := gameserver.NewZoneSet()
	deps := gameserver.ZoneDeps{
		Templates:  templates,
		Spells:     spells,
		Registry:   registry,
		Difficulty: enc.Difficulty,
		Source:     src,
		IDs:        mrand.NewChaCha8(key),
		Logger:     logger,
	}
	if info, statErr := os.Stat(enc.ScriptsDir); enc.ScriptsDir != "" && statErr == nil && info.IsDir() {
		scripts := scripting.NewManager(src, logger.Named("lua"))
		scripts.Encounter = zones.Encounter
		defer scripts.Close()
		deps.Scripts = scripts
		deps.ScriptsDir = enc.ScriptsDir
		deps.InstructionLimit = enc.InstructionLimit
	}

	inst := instance.NewInstance(ic.ID, instance.NewMemoryPersister(), logger.Named("instance"), cfg.Storage.WriteTimeout)
	z, err := gameserver.BuildZone(ic.ID, ic.Spawns, inst, deps)
	if err != nil {
		logger.Fatal("building zone", zap.Error(err))
	}
	if err := zones.Add(z); err != nil {
		logger.Fatal("adding zone", zap.Error(err))
	}

	ticks := gameserver.NewTickManager(*step, *step, logger.Named("tick"))
	ticks.Register(z.ID, "world", z.World.Tick)

	elapsed := run(context.Background(), ticks, z, *step, *limit)

	out := json.NewEncoder(os.Stdout)
	for _, c := range z.World.Commands() {
		if !*melee && (c.Verb == "attack" || c.Verb == "melee") {
			continue
		}
		if *asJSON {
			if err := out.Encode(c); err != nil {
				logger.Fatal("writing command", zap.Error(err))
			}
			continue
		}
		fmt.Println(c.String())
	}
	fmt.Fprintf(os.Stderr, "simulated %s of %s (seed %d)\n", elapsed, ic.ID, *seed)
	for boss, state := range inst.BossStates() {
		fmt.Fprintf(os.Stderr, "  %s: %s\n", boss, state)
	}
}

func pickInstance(all []config.InstanceConfig, id string) (config.InstanceConfig, bool) {
	for _, ic := range all {
		if id == "" || ic.ID == id {
			return ic, true
		}
	}
	return config.InstanceConfig{}, false
}

// run steps the zone until every encounter has ended or limit passes. An
// encounter has ended once it was in combat and no longer is: dead, or
// evaded back to idle.
func run(ctx context.Context, ticks *gameserver.TickManager, z *gameserver.LiveZone, step, limit time.Duration) time.Duration {
	engaged := false
	for z.World.Elapsed() < limit {
		if err := ticks.Step(ctx, step); err != nil {
			break
		}
		inCombat := false
		for _, ctl := range z.World.Roster().Controllers() {
			if ctl.State() == encounter.Combat {
				inCombat = true
			}
		}
		if inCombat {
			engaged = true
		} else if engaged || z.World.Roster().Len() == 0 {
			break
		}
	}
	return z.World.Elapsed()
}

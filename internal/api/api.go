// Package api exposes a small gin-based HTTP surface for operators: zone
// listings, live encounter status, boss state lookups and encounter resets.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cory-johannsen/encounter/internal/game/encounter"
	"github.com/cory-johannsen/encounter/internal/game/host"
	"github.com/cory-johannsen/encounter/internal/game/instance"
	"github.com/cory-johannsen/encounter/internal/gameserver"
)

// Zones runs work against live zones under their tick locks.
type Zones interface {
	Zones() []string
	Do(zoneID string, fn func()) error
}

// Instances resolves the persistent state of a zone.
type Instances interface {
	Get(id string) (*instance.Instance, error)
}

// RosterFunc returns the controller roster of a zone.
type RosterFunc func(zoneID string) (*encounter.Roster, bool)

// healthTimeout bounds each dependency check run by GET /healthz.
const healthTimeout = 2 * time.Second

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type namedCheck struct {
	name  string
	check HealthCheck
}

// Server serves the ops API.
type Server struct {
	zones     Zones
	rosters   RosterFunc
	instances Instances
	checks    []namedCheck
	logger    *zap.Logger
	engine    *gin.Engine
	http      *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithHealthCheck adds a dependency check reported by GET /healthz under name.
// A failing check turns the response into 503 with status "degraded".
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(s *Server) { s.checks = append(s.checks, namedCheck{name: name, check: check}) }
}

// NewServer builds the router.
//
// Precondition: zones, rosters, instances and logger must not be nil.
func NewServer(addr string, zones Zones, rosters RosterFunc, instances Instances, logger *zap.Logger, opts ...Option) *Server {
	if zones == nil || rosters == nil || instances == nil {
		panic("api.NewServer: zones, rosters and instances must not be nil")
	}
	if logger == nil {
		panic("api.NewServer: logger must not be nil")
	}
	s := &Server{zones: zones, rosters: rosters, instances: instances, logger: logger}
	for _, opt := range opts {
		opt(s)
	}

	r := gin.New()
	r.Use(Recovery(logger), Logger(logger))
	r.GET("/healthz", s.health)
	zg := r.Group("/zones")
	{
		zg.GET("", s.listZones)
		zg.GET("/:zone/encounters", s.listEncounters)
		zg.POST("/:zone/encounters/:unit/reset", s.resetEncounter)
		zg.GET("/:zone/bosses", s.bossStates)
	}
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	s.engine = r
	s.http = &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.engine }

// Start serves until Stop.
func (s *Server) Start() error {
	s.logger.Info("api listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the listener down, waiting up to five seconds for requests in
// flight.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		s.logger.Warn("api shutdown", zap.Error(err))
	}
}

func (s *Server) health(c *gin.Context) {
	code, status := http.StatusOK, "ok"
	checks := make(map[string]string, len(s.checks))
	for _, nc := range s.checks {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		err := nc.check(ctx)
		cancel()
		if err != nil {
			s.logger.Warn("health check failed", zap.String("check", nc.name), zap.Error(err))
			checks[nc.name] = err.Error()
			code, status = http.StatusServiceUnavailable, "degraded"
			continue
		}
		checks[nc.name] = "ok"
	}
	c.JSON(code, gin.H{"status": status, "zones": len(s.zones.Zones()), "checks": checks})
}

func (s *Server) listZones(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"zones": s.zones.Zones()})
}

func (s *Server) listEncounters(c *gin.Context) {
	zoneID := c.Param("zone")
	roster, ok := s.rosters(zoneID)
	if !ok {
		notFound(c, "zone", zoneID)
		return
	}
	var out []encounter.Status
	err := s.zones.Do(zoneID, func() {
		for _, ctl := range roster.Controllers() {
			out = append(out, ctl.Status())
		}
	})
	if err != nil {
		s.zoneError(c, zoneID, err)
		return
	}
	if out == nil {
		out = []encounter.Status{}
	}
	c.JSON(http.StatusOK, gin.H{"zone": zoneID, "encounters": out})
}

func (s *Server) resetEncounter(c *gin.Context) {
	zoneID, unit := c.Param("zone"), host.UnitID(c.Param("unit"))
	roster, ok := s.rosters(zoneID)
	if !ok {
		notFound(c, "zone", zoneID)
		return
	}
	var (
		status encounter.Status
		found  bool
	)
	err := s.zones.Do(zoneID, func() {
		ctl, ok := roster.Get(unit)
		if !ok {
			return
		}
		found = true
		ctl.Reset()
		status = ctl.Status()
	})
	if err != nil {
		s.zoneError(c, zoneID, err)
		return
	}
	if !found {
		notFound(c, "encounter", string(unit))
		return
	}
	s.logger.Info("encounter reset via api", zap.String("zone", zoneID), zap.String("unit", string(unit)))
	c.JSON(http.StatusOK, status)
}

func (s *Server) bossStates(c *gin.Context) {
	zoneID := c.Param("zone")
	inst, err := s.instances.Get(zoneID)
	if errors.Is(err, instance.ErrInstanceNotFound) {
		notFound(c, "zone", zoneID)
		return
	}
	if err != nil {
		s.zoneError(c, zoneID, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"zone":           zoneID,
		"bosses":         inst.BossStates(),
		"pending_writes": inst.PendingWrites(),
	})
}

func (s *Server) zoneError(c *gin.Context, zoneID string, err error) {
	if errors.Is(err, gameserver.ErrZoneNotFound) {
		notFound(c, "zone", zoneID)
		return
	}
	s.logger.Error("zone request failed", zap.String("zone", zoneID), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}

func notFound(c *gin.Context, kind, id string) {
	c.JSON(http.StatusNotFound, gin.H{"error": kind + " not found", kind: id})
}

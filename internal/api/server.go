// Package api exposes the scanner over HTTP: stored opportunity history,
// aggregate stats, on-demand scans, and a health probe.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/croswell/dexarb/internal/cache"
	"github.com/croswell/dexarb/internal/conn"
	"github.com/croswell/dexarb/internal/scanner"
	"github.com/croswell/dexarb/internal/store"
	"github.com/croswell/dexarb/pkg/types"
)

// Server is the HTTP API over the scanner and its archive.
type Server struct {
	store   *store.Store
	scanner *scanner.Scanner
	manager *conn.Manager
	cache   *cache.Cache
	http    *http.Server
}

// New builds the router and server. addr is the listen address.
func New(addr string, st *store.Store, sc *scanner.Scanner, mgr *conn.Manager, ca *cache.Cache) *Server {
	s := &Server{store: st, scanner: sc, manager: mgr, cache: ca}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	apiGroup := router.Group("/api")
	{
		apiGroup.GET("/opportunities", s.getOpportunities)
		apiGroup.GET("/opportunities/profitable", s.getProfitable)
		apiGroup.GET("/stats/by-type", s.getStatsByType)
		apiGroup.GET("/stats/hourly", s.getStatsHourly)
		apiGroup.GET("/scan/latest", s.getLatestScan)
		apiGroup.POST("/scan", s.postScan)
		apiGroup.GET("/health", s.getHealth)
	}

	s.http = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	log.Info().Str("addr", s.http.Addr).Msg("HTTP API listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) getOpportunities(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	minProfit, _ := strconv.ParseFloat(c.DefaultQuery("min_profit", "0"), 64)
	kind := c.Query("type")

	opps, err := s.store.Recent(c.Request.Context(), limit, kind, minProfit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to query opportunities")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(opps), "opportunities": opps})
}

func (s *Server) getProfitable(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	threshold, _ := strconv.ParseFloat(c.DefaultQuery("threshold", "0"), 64)

	opps, err := s.store.Profitable(c.Request.Context(), threshold, limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to query profitable opportunities")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(opps), "opportunities": opps})
}

func (s *Server) getStatsByType(c *gin.Context) {
	stats, err := s.store.StatsByKind(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to query stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

func (s *Server) getStatsHourly(c *gin.Context) {
	hours, _ := strconv.Atoi(c.DefaultQuery("hours", "24"))

	stats, err := s.store.StatsHourly(c.Request.Context(), hours)
	if err != nil {
		log.Error().Err(err).Msg("Failed to query hourly stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"hours": hours, "stats": stats})
}

func (s *Server) getLatestScan(c *gin.Context) {
	snap, err := s.cache.GetLatestScan(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to read latest scan from cache")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cache read failed"})
		return
	}
	if snap == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no scan cached"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) postScan(c *gin.Context) {
	opps, err := s.scanner.Scan(c.Request.Context())
	if errors.Is(err, scanner.ErrScanInProgress) {
		c.JSON(http.StatusConflict, gin.H{"error": "scan already in progress"})
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("On-demand scan failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(opps), "opportunities": opps})
}

func (s *Server) getHealth(c *gin.Context) {
	state := s.manager.State()

	health := gin.H{
		"connection": state.String(),
		"time":       time.Now().UTC(),
	}

	if ds, err := s.manager.Provider().Get(); err == nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		if block, err := ds.BlockNumber(ctx); err == nil {
			health["block"] = block
		}
	}
	if count, err := s.store.Count(c.Request.Context()); err == nil {
		health["stored_opportunities"] = count
	}

	status := http.StatusOK
	if state == types.StateFailed {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, health)
}

package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hothotzd123/sensei"
	"github.com/hothotzd123/sensei/engine"
	"github.com/hothotzd123/sensei/indexing"
)

// DefaultSyncTimeout applies when /sync is called without a timeout.
const DefaultSyncTimeout = 5 * time.Second

// PartitionInfo describes one managed engine.
type PartitionInfo struct {
	Name      string `json:"name"`
	Partition int    `json:"partition"`
	Engine    string `json:"engine"`
	Version   string `json:"version"`
	Docs      *int   `json:"docs,omitempty"`
}

// LagInfo is one lagging partition of a timed out sync.
type LagInfo struct {
	Partition int    `json:"partition"`
	Observed  string `json:"observed"`
}

type publishRequest struct {
	Events []engine.Event `json:"events" binding:"required,min=1"`
}

type errorResponse struct {
	Error   string    `json:"error"`
	Lagging []LagInfo `json:"lagging,omitempty"`
}

// Handler returns the admin API.
func (n *Node) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(n.Logger.Logger))

	r.GET("/healthz", n.healthz)
	r.GET("/systeminfo", n.systemInfo)
	r.GET("/partitions", n.partitions)
	r.GET("/partitions/:id", n.partition)
	r.POST("/sync", n.sync)
	r.POST("/prune", n.prune)
	r.POST("/events", n.publish)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(n.Registry, promhttp.HandlerOpts{})))
	return r
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func (n *Node) healthz(c *gin.Context) {
	state := n.Core.State()
	status := http.StatusOK
	if state != sensei.StateStarted {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"status": state.String(),
		"node":   n.Core.NodeID(),
		"cycle":  n.Core.CycleID(),
	})
}

func (n *Node) systemInfo(c *gin.Context) {
	c.JSON(http.StatusOK, n.Core.SystemInfo())
}

func (n *Node) partitions(c *gin.Context) {
	managed := n.Core.ManagedEngines()
	out := make([]PartitionInfo, 0, len(managed))
	for _, m := range managed {
		out = append(out, partitionInfo(m))
	}
	c.JSON(http.StatusOK, out)
}

func (n *Node) partition(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "partition id must be an integer"})
		return
	}
	for _, m := range n.Core.ManagedEngines() {
		if m.Partition == id {
			c.JSON(http.StatusOK, partitionInfo(m))
			return
		}
	}
	c.JSON(http.StatusNotFound, errorResponse{Error: "partition not served by this node"})
}

func partitionInfo(m sensei.ManagedEngine) PartitionInfo {
	info := PartitionInfo{
		Name:      m.Name,
		Partition: m.Partition,
		Engine:    m.Engine.Name(),
		Version:   m.Engine.CurrentVersion(),
	}
	if sp, ok := m.Engine.(engine.StatsProvider); ok {
		docs := sp.Stats().Docs
		info.Docs = &docs
	}
	return info
}

func (n *Node) sync(c *gin.Context) {
	v := c.Query("version")
	timeout := DefaultSyncTimeout
	if raw := c.Query("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid timeout: " + err.Error()})
			return
		}
		timeout = d
	}
	if limit := n.cfg.Server.MaxSyncTimeout; limit > 0 {
		timeout = min(timeout, limit)
	}

	err := n.Core.SyncWithVersion(c.Request.Context(), timeout, v)
	if err == nil {
		c.JSON(http.StatusOK, gin.H{"version": v})
		return
	}

	var ste *engine.SyncTimeoutError
	switch {
	case errors.As(err, &ste):
		resp := errorResponse{Error: err.Error()}
		for _, l := range ste.Lagging {
			resp.Lagging = append(resp.Lagging, LagInfo{Partition: l.Partition, Observed: l.Observed})
		}
		c.JSON(http.StatusGatewayTimeout, resp)
	case errors.Is(err, sensei.ErrNotRunning):
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

func (n *Node) prune(c *gin.Context) {
	if !n.Core.Started() {
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: sensei.ErrNotRunning.Error()})
		return
	}
	removed, err := n.Core.Prune(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"removed": removed, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed, "pruner": n.Core.IndexPruner().Name()})
}

func (n *Node) publish(c *gin.Context) {
	mp, ok := n.Provider.(*indexing.MemoryProvider)
	if !ok {
		c.JSON(http.StatusConflict, errorResponse{Error: "data source does not accept events"})
		return
	}

	var req publishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	for i, ev := range req.Events {
		if ev.Version == "" {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "event " + strconv.Itoa(i) + " has no version"})
			return
		}
	}

	if err := mp.Publish(req.Events...); err != nil {
		switch {
		case errors.Is(err, io.ErrClosedPipe):
			c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
			return
		case errors.Is(err, indexing.ErrQueueFull):
			c.JSON(http.StatusTooManyRequests, errorResponse{Error: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": len(req.Events), "pending": mp.Pending()})
}

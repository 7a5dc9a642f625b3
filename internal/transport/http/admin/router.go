package adminhttp

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"autohelm/internal/controller"
	"autohelm/internal/core"
	"autohelm/internal/store"
	"autohelm/internal/store/eventlog"
	"autohelm/internal/supervisor"
)

// storeTimeout bounds read-only store queries issued by handlers.
const storeTimeout = 2 * time.Second

// maxPageSize caps list endpoints regardless of what the client asks for.
const maxPageSize = 500

// ControlSurface is the slice of the controller the API drives.
type ControlSurface interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Sync(ctx context.Context) (supervisor.Report, error)
	Status(ctx context.Context) controller.Status
	ClosePosition(ctx context.Context, symbol string) error
	UpdatePairs(ctx context.Context, pairs []core.TradingPairConfig) error
}

// RouterParams carries the router's collaborators. Store and Events are
// optional; their routes answer 503 when absent.
type RouterParams struct {
	Control ControlSurface
	Store   store.Store
	Events  *eventlog.EventStore
}

// Router mounts the admin routes.
type Router struct {
	control ControlSurface
	store   store.Store
	events  *eventlog.EventStore
}

func NewRouter(p RouterParams) (*Router, error) {
	if p.Control == nil {
		return nil, &core.ConfigurationError{Field: "control", Msg: "required"}
	}
	return &Router{control: p.Control, store: p.Store, events: p.Events}, nil
}

// Register mounts all admin routes on the given group.
func (r *Router) Register(g *gin.RouterGroup) {
	g.GET("/status", r.getStatus)
	g.POST("/start", r.postStart)
	g.POST("/stop", r.postStop)
	g.POST("/sync", r.postSync)

	g.GET("/positions", r.listPositions)
	g.POST("/positions/:symbol/close", r.closePosition)

	g.GET("/pairs", r.listPairs)
	g.PUT("/pairs", r.putPairs)

	g.GET("/signals", r.listSignals)
	g.GET("/events", r.listEvents)
}

func (r *Router) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, r.control.Status(c.Request.Context()))
}

func (r *Router) postStart(c *gin.Context) {
	if err := r.control.Start(c.Request.Context()); err != nil {
		log.Warnf("start rejected: %v ip=%s", err, c.ClientIP())
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	log.Infof("start accepted ip=%s", c.ClientIP())
	c.JSON(http.StatusOK, r.control.Status(c.Request.Context()))
}

func (r *Router) postStop(c *gin.Context) {
	if err := r.control.Stop(c.Request.Context()); err != nil {
		log.Warnf("stop failed: %v ip=%s", err, c.ClientIP())
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	log.Infof("stop accepted ip=%s", c.ClientIP())
	c.JSON(http.StatusOK, r.control.Status(c.Request.Context()))
}

func (r *Router) postSync(c *gin.Context) {
	rep, err := r.control.Sync(c.Request.Context())
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"consistent":  rep.Consistent,
		"running":     rep.Running,
		"source":      rep.Source,
		"corrections": rep.Strings(),
	})
}

// listPositions serves the live open set by default. status=closed reads
// finished rows from the store instead.
func (r *Router) listPositions(c *gin.Context) {
	if strings.EqualFold(c.Query("status"), "closed") {
		if r.store == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store not available"})
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), storeTimeout)
		defer cancel()
		rows, err := r.store.Positions().ListByStatus(ctx, core.StatusClosed, pageSize(c, 50))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		out := make([]positionPayload, 0, len(rows))
		for _, row := range rows {
			out = append(out, positionPayloadFrom(row))
		}
		c.JSON(http.StatusOK, gin.H{"positions": out, "count": len(out)})
		return
	}

	st := r.control.Status(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"positions": st.OpenPositions, "count": len(st.OpenPositions)})
}

func (r *Router) closePosition(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol required"})
		return
	}
	if err := r.control.ClosePosition(c.Request.Context(), symbol); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	log.Infof("manual close %s accepted ip=%s", symbol, c.ClientIP())
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "closed": true})
}

func (r *Router) listPairs(c *gin.Context) {
	if r.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store not available"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), storeTimeout)
	defer cancel()
	pairs, err := r.store.Pairs().List(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]pairPayload, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, pairPayloadFrom(p))
	}
	c.JSON(http.StatusOK, gin.H{"pairs": out, "count": len(out)})
}

// putPairs replaces the whole pair set. The controller applies it at the
// next cycle boundary, so a 200 here means accepted, not yet traded on.
func (r *Router) putPairs(c *gin.Context) {
	var req updatePairsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.Pairs == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pairs required"})
		return
	}
	pairs := make([]core.TradingPairConfig, 0, len(req.Pairs))
	active := 0
	for _, p := range req.Pairs {
		if strings.TrimSpace(p.Symbol) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "pair symbol required"})
			return
		}
		if p.IsActive {
			active++
		}
		pairs = append(pairs, p.toConfig())
	}
	if err := r.control.UpdatePairs(c.Request.Context(), pairs); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	log.Infof("pairs replaced: %d total, %d active ip=%s", len(pairs), active, c.ClientIP())
	c.JSON(http.StatusOK, gin.H{"total": len(pairs), "active": active})
}

func (r *Router) listSignals(c *gin.Context) {
	if r.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store not available"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), storeTimeout)
	defer cancel()

	var (
		rows []core.TradeSignal
		err  error
	)
	if symbol := strings.ToUpper(strings.TrimSpace(c.Query("symbol"))); symbol != "" {
		rows, err = r.store.Signals().ListBySymbol(ctx, symbol, pageSize(c, 50))
	} else {
		rows, err = r.store.Signals().ListRecent(ctx, pageSize(c, 50))
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]signalPayload, 0, len(rows))
	for _, row := range rows {
		out = append(out, signalPayloadFrom(row))
	}
	c.JSON(http.StatusOK, gin.H{"signals": out, "count": len(out)})
}

func (r *Router) listEvents(c *gin.Context) {
	if r.events == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event log not available"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), storeTimeout)
	defer cancel()
	rows, err := r.events.Recent(ctx, strings.TrimSpace(c.Query("type")), pageSize(c, 50))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": rows, "count": len(rows)})
}

// pageSize parses the limit query parameter, falling back to def and
// clamping at maxPageSize.
func pageSize(c *gin.Context, def int) int {
	raw := c.Query("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > maxPageSize {
		return maxPageSize
	}
	return n
}

// statusFor maps controller errors onto HTTP status codes. Lifecycle
// and command rejections are conflicts, upstream outages are gateway
// errors, a close for a symbol with nothing open is a 404.
func statusFor(err error) int {
	var connErr *core.ConnectivityError
	var execErr *core.ExecutionError
	msg := err.Error()
	switch {
	case errors.As(err, &connErr), errors.As(err, &execErr):
		return http.StatusBadGateway
	case strings.Contains(msg, "cannot start while"),
		strings.Contains(msg, "cannot stop while"),
		strings.Contains(msg, "cannot accept commands while"):
		return http.StatusConflict
	case strings.Contains(msg, "no open position"):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

package server

import (
	"context"
	"database/sql"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"CredLedger/internal/ingestion"
	"CredLedger/internal/observability"
	"CredLedger/internal/persistence"
	"CredLedger/internal/projection"
	"CredLedger/internal/query"
)

// Deps holds everything the HTTP API needs.
type Deps struct {
	DB          *sql.DB
	Query       *query.Service
	Live        *query.LiveView
	Submitter   *ingestion.Submitter
	SnapshotMgr *persistence.SnapshotManager
	Health      *observability.HealthChecker
	Redis       *redis.Client // nil disables the idempotency middleware

	// CoreMu serializes live-view reads with the event apply loop.
	// The orchestrator holds it while the core processes an event.
	CoreMu *sync.Mutex

	Log zerolog.Logger
}

// HTTPServer serves the query and submit API over echo.
type HTTPServer struct {
	echo *echo.Echo
	addr string
	deps *Deps
}

func NewHTTPServer(addr string, deps *Deps) *HTTPServer {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &HTTPServer{echo: e, addr: addr, deps: deps}
	s.routes()
	return s
}

func (s *HTTPServer) routes() {
	e := s.echo

	e.GET("/healthz", echo.WrapHandler(http.HandlerFunc(s.deps.Health.LivenessHandler)))
	e.GET("/readyz", echo.WrapHandler(http.HandlerFunc(s.deps.Health.ReadinessHandler)))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := e.Group("/v1")
	if s.deps.Redis != nil {
		v1.Use(IdempotencyMiddleware(s.deps.Redis, 24*time.Hour))
	}

	// Live state (from the in-memory core)
	v1.GET("/creditlines/:line_id", s.getCreditLine)
	v1.GET("/pools/:pool_id/constants", s.getPoolConstants)
	v1.GET("/pools/:pool_id/variables", s.getPoolVariables)
	v1.GET("/pools/:pool_id/lenders/:lender_id", s.getLenderBalance)
	v1.GET("/users/:user_id/savings/:asset", s.getSavingsBalance)

	// Projections (from Postgres)
	v1.GET("/creditlines", s.listCreditLines)
	v1.GET("/pools", s.listPools)
	v1.GET("/instances/:instance_id/repayments", s.getRepaymentHistory)
	v1.GET("/users/:user_id/journals", s.getJournalHistory)

	// Event submit (admin / low-volume path; NATS carries the bulk)
	v1.POST("/events/:event_type", s.submitEvent)

	// Admin
	v1.GET("/admin/integrity", s.verifyIntegrity)
	v1.GET("/admin/eventlog", s.getEventLogInfo)
	v1.POST("/admin/projections/rebuild", s.rebuildProjections)
}

// Start runs the server until ctx is cancelled (blocking).
func (s *HTTPServer) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			s.deps.Log.Warn().Err(err).Msg("http shutdown")
		}
	}()

	s.deps.Log.Info().Str("addr", s.addr).Msg("http server listening")
	if err := s.echo.Start(s.addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func errJSON(c echo.Context, code int, err error) error {
	return c.JSON(code, map[string]string{"error": err.Error()})
}

// queryTime resolves the as-of timestamp for derived values. "at" is a
// unix second; absent means now.
func queryTime(c echo.Context) (int64, error) {
	raw := c.QueryParam("at")
	if raw == "" {
		return time.Now().Unix(), nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

// ============================================================================
// Live state handlers
// ============================================================================

func (s *HTTPServer) getCreditLine(c echo.Context) error {
	lineID, err := strconv.ParseUint(c.Param("line_id"), 10, 64)
	if err != nil {
		return errJSON(c, http.StatusBadRequest, err)
	}
	now, err := queryTime(c)
	if err != nil {
		return errJSON(c, http.StatusBadRequest, err)
	}

	s.deps.CoreMu.Lock()
	resp, err := s.deps.Live.GetCreditLine(lineID, now)
	s.deps.CoreMu.Unlock()
	if err != nil {
		return errJSON(c, http.StatusNotFound, err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *HTTPServer) getPoolConstants(c echo.Context) error {
	poolID, err := uuid.Parse(c.Param("pool_id"))
	if err != nil {
		return errJSON(c, http.StatusBadRequest, err)
	}

	s.deps.CoreMu.Lock()
	resp, err := s.deps.Live.GetPoolConstants(poolID)
	s.deps.CoreMu.Unlock()
	if err != nil {
		return errJSON(c, http.StatusNotFound, err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *HTTPServer) getPoolVariables(c echo.Context) error {
	poolID, err := uuid.Parse(c.Param("pool_id"))
	if err != nil {
		return errJSON(c, http.StatusBadRequest, err)
	}
	now, err := queryTime(c)
	if err != nil {
		return errJSON(c, http.StatusBadRequest, err)
	}

	s.deps.CoreMu.Lock()
	resp, err := s.deps.Live.GetPoolVariables(poolID, now)
	s.deps.CoreMu.Unlock()
	if err != nil {
		return errJSON(c, http.StatusNotFound, err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *HTTPServer) getLenderBalance(c echo.Context) error {
	poolID, err := uuid.Parse(c.Param("pool_id"))
	if err != nil {
		return errJSON(c, http.StatusBadRequest, err)
	}
	lender, err := uuid.Parse(c.Param("lender_id"))
	if err != nil {
		return errJSON(c, http.StatusBadRequest, err)
	}

	s.deps.CoreMu.Lock()
	resp, err := s.deps.Live.GetLenderBalance(poolID, lender)
	s.deps.CoreMu.Unlock()
	if err != nil {
		return errJSON(c, http.StatusNotFound, err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *HTTPServer) getSavingsBalance(c echo.Context) error {
	userID, err := uuid.Parse(c.Param("user_id"))
	if err != nil {
		return errJSON(c, http.StatusBadRequest, err)
	}
	asset := c.Param("asset")

	s.deps.CoreMu.Lock()
	resp, err := s.deps.Live.GetSavingsBalance(userID, asset)
	s.deps.CoreMu.Unlock()
	if err != nil {
		return errJSON(c, http.StatusNotFound, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// ============================================================================
// Projection handlers
// ============================================================================

func (s *HTTPServer) listCreditLines(c echo.Context) error {
	party, err := uuid.Parse(c.QueryParam("party"))
	if err != nil {
		return errJSON(c, http.StatusBadRequest, err)
	}

	lines, err := s.deps.Query.ListCreditLines(c.Request().Context(), party)
	if err != nil {
		return errJSON(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"credit_lines": lines})
}

func (s *HTTPServer) listPools(c echo.Context) error {
	var status *string
	if raw := c.QueryParam("status"); raw != "" {
		status = &raw
	}

	pools, err := s.deps.Query.ListPools(c.Request().Context(), status)
	if err != nil {
		return errJSON(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"pools": pools})
}

func (s *HTTPServer) getRepaymentHistory(c echo.Context) error {
	instanceID := c.Param("instance_id")
	limit := pageSize(c, 50, 200)

	var afterSeq *int64
	if raw := c.QueryParam("after_sequence"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return errJSON(c, http.StatusBadRequest, err)
		}
		afterSeq = &n
	}

	entries, err := s.deps.Query.GetRepaymentHistory(c.Request().Context(), instanceID, limit, afterSeq)
	if err != nil {
		return errJSON(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"repayments": entries})
}

func (s *HTTPServer) getJournalHistory(c echo.Context) error {
	userID, err := uuid.Parse(c.Param("user_id"))
	if err != nil {
		return errJSON(c, http.StatusBadRequest, err)
	}
	limit := pageSize(c, 100, 500)

	var afterSeq *int64
	if raw := c.QueryParam("after_sequence"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return errJSON(c, http.StatusBadRequest, err)
		}
		afterSeq = &n
	}

	entries, err := s.deps.Query.GetJournalHistory(c.Request().Context(), userID, limit, afterSeq)
	if err != nil {
		return errJSON(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"journals": entries})
}

func pageSize(c echo.Context, def, max int) int {
	raw := c.QueryParam("page_size")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > max {
		return def
	}
	return n
}

// ============================================================================
// Submit handler
// ============================================================================

type submitResponse struct {
	Accepted  bool   `json:"accepted"`
	EventType string `json:"event_type"`
}

// submitEvent accepts one event in the same JSON wire format NATS
// carries; the path parameter names the event type.
func (s *HTTPServer) submitEvent(c echo.Context) error {
	eventType := c.Param("event_type")

	body, err := readBody(c)
	if err != nil {
		return errJSON(c, http.StatusBadRequest, err)
	}

	raw := ingestion.RawEvent{
		Subject:   "http",
		Data:      body,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
	evt, err := ingestion.ParseRawEvent(raw, eventType)
	if err != nil {
		return errJSON(c, http.StatusBadRequest, err)
	}

	if err := s.deps.Submitter.Submit(c.Request().Context(), evt); err != nil {
		return errJSON(c, http.StatusServiceUnavailable, err)
	}
	return c.JSON(http.StatusAccepted, submitResponse{Accepted: true, EventType: eventType})
}

func readBody(c echo.Context) ([]byte, error) {
	defer c.Request().Body.Close()
	return io.ReadAll(io.LimitReader(c.Request().Body, 1<<20))
}

// ============================================================================
// Admin handlers
// ============================================================================

func (s *HTTPServer) verifyIntegrity(c echo.Context) error {
	report, err := s.deps.Query.VerifyIntegrity(c.Request().Context())
	if err != nil {
		return errJSON(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, report)
}

func (s *HTTPServer) getEventLogInfo(c echo.Context) error {
	latestSeq, err := s.deps.SnapshotMgr.GetLatestSequence(c.Request().Context())
	if err != nil {
		return errJSON(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, map[string]int64{"last_sequence": latestSeq})
}

func (s *HTTPServer) rebuildProjections(c echo.Context) error {
	if err := projection.Rebuild(c.Request().Context(), s.deps.DB); err != nil {
		return errJSON(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"rebuilt": true})
}

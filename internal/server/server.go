// Package server exposes the position dashboard over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/boro-labs/borod/internal/assets"
	"github.com/boro-labs/borod/internal/logger"
	"github.com/boro-labs/borod/internal/models"
	"github.com/boro-labs/borod/internal/overlay"
	"github.com/boro-labs/borod/internal/service"
)

// HistoryStore is the read side of the persistence layer used by the
// dashboard endpoints. May be nil when persistence is disabled.
type HistoryStore interface {
	RiskHistory(asset string, limit int) ([]models.RiskSnapshot, error)
	RecentIntents(limit int) ([]models.Intent, error)
}

type Server struct {
	svc    *service.Service
	store  HistoryStore
	engine *gin.Engine
	http   *http.Server
}

func New(svc *service.Service, store HistoryStore, listenAddr string) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		svc:    svc,
		store:  store,
		engine: engine,
		http:   &http.Server{Addr: listenAddr, Handler: engine},
	}
	s.registerRoutes(engine.Group("/api/v1"))
	return s
}

func (s *Server) registerRoutes(r *gin.RouterGroup) {
	r.GET("/positions", s.ListPositions)
	r.GET("/intents", s.RecentIntents)

	g := r.Group("/positions/:asset")
	{
		g.GET("", s.GetPosition)
		g.GET("/stress", s.StressPosition)
		g.GET("/history", s.PositionHistory)
		g.PUT("/hypothetical", s.SetHypothetical)
		g.POST("/actions", s.SubmitAction)
	}
}

// Handler returns the routing tree, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) Run() error {
	logger.Info("HTTP server listening on %s", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) session(c *gin.Context) (*service.Session, bool) {
	asset, err := assets.Parse(c.Param("asset"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return nil, false
	}
	sess, ok := s.svc.Session(asset)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "asset is not being tracked"})
		return nil, false
	}
	return sess, true
}

type positionSummary struct {
	Asset    string              `json:"asset"`
	Snapshot models.RiskSnapshot `json:"snapshot"`
	Intent   *models.Intent      `json:"intent,omitempty"`
}

func (s *Server) ListPositions(c *gin.Context) {
	list := make([]positionSummary, 0)
	for _, asset := range s.svc.Assets() {
		sess, ok := s.svc.Session(asset)
		if !ok {
			continue
		}
		list = append(list, positionSummary{
			Asset:    asset.String(),
			Snapshot: sess.Snapshot(),
			Intent:   sess.Intent(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"positions": list})
}

func (s *Server) GetPosition(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, positionSummary{
		Asset:    sess.Asset().String(),
		Snapshot: sess.Snapshot(),
		Intent:   sess.Intent(),
	})
}

func (s *Server) StressPosition(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	drop, err := strconv.Atoi(c.DefaultQuery("drop", "30"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "drop must be an integer percentage"})
		return
	}
	c.JSON(http.StatusOK, sess.Stress(drop))
}

func (s *Server) PositionHistory(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	if s.store == nil {
		c.JSON(http.StatusOK, gin.H{"history": []models.RiskSnapshot{}})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}
	history, err := s.store.RiskHistory(sess.Asset().String(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": history})
}

func (s *Server) RecentIntents(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusOK, gin.H{"intents": []models.Intent{}})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}
	intents, err := s.store.RecentIntents(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"intents": intents})
}

// HypotheticalReq carries the what-if sliders. Fields left null are not
// touched; percent shortcuts and target_ltv_percent override the absolute
// fields when both are present.
type HypotheticalReq struct {
	SupplyUSD        *string `json:"supply_usd"`
	SupplyPercent    *string `json:"supply_percent"`
	BorrowAmount     *string `json:"borrow_amount"`
	BorrowPercent    *string `json:"borrow_percent"`
	TargetLTVPercent *string `json:"target_ltv_percent"`
}

func (s *Server) SetHypothetical(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	var req HypotheticalReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	apply := func(field string, raw *string, set func(decimal.Decimal)) bool {
		if raw == nil {
			return true
		}
		v, err := decimal.NewFromString(*raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": field + " is not a valid number"})
			return false
		}
		set(v)
		return true
	}

	if !apply("supply_usd", req.SupplyUSD, sess.SetSupplyUSD) ||
		!apply("supply_percent", req.SupplyPercent, sess.SetSupplyPercent) ||
		!apply("borrow_amount", req.BorrowAmount, sess.SetBorrowAmount) ||
		!apply("borrow_percent", req.BorrowPercent, sess.SetBorrowPercent) ||
		!apply("target_ltv_percent", req.TargetLTVPercent, sess.SetTargetLTV) {
		return
	}

	c.JSON(http.StatusOK, sess.Snapshot())
}

type ActionReq struct {
	Action string `json:"action" binding:"required"`
	// Token selects the approval target: "collateral" (default, ahead of a
	// supply) or "loan" (ahead of a repay).
	Token  string `json:"token"`
	Full   bool   `json:"full"`
	Amount string `json:"amount"`
}

func (s *Server) SubmitAction(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	var req ActionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	kind, err := models.ParseActionKind(req.Action)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	amount := decimal.Zero
	if req.Amount != "" {
		amount, err = decimal.NewFromString(req.Amount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "amount is not a valid number"})
			return
		}
	}

	ctx := c.Request.Context()
	var intent *models.Intent
	switch kind {
	case models.ActionApprove:
		var loan bool
		switch req.Token {
		case "", "collateral":
		case "loan":
			loan = true
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown approval token: " + req.Token})
			return
		}
		intent, err = sess.SubmitApprove(ctx, loan)
	case models.ActionSupply:
		intent, err = sess.SubmitSupply(ctx)
	case models.ActionBorrow:
		intent, err = sess.SubmitBorrow(ctx)
	case models.ActionRepay:
		intent, err = sess.SubmitRepay(ctx, req.Full, amount)
	case models.ActionWithdraw:
		intent, err = sess.SubmitWithdraw(ctx, req.Full, amount)
	}
	if err != nil {
		status, code := actionErrorStatus(err)
		c.JSON(status, gin.H{"error": err.Error(), "code": code})
		return
	}
	c.JSON(http.StatusAccepted, intent)
}

// actionErrorStatus maps failed preconditions to stable API codes so the
// frontend can route the user (e.g. show the approve button) without
// string-matching error text.
func actionErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrAllowanceRequired):
		return http.StatusConflict, "allowance_required"
	case errors.Is(err, service.ErrDebtOutstanding):
		return http.StatusConflict, "debt_outstanding"
	case errors.Is(err, overlay.ErrIntentInFlight):
		return http.StatusConflict, "intent_in_flight"
	case errors.Is(err, service.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, "insufficient_balance"
	case errors.Is(err, service.ErrAmountRequired):
		return http.StatusBadRequest, "amount_required"
	case errors.Is(err, service.ErrNoPrice):
		return http.StatusConflict, "price_unavailable"
	case errors.Is(err, service.ErrNoPosition):
		return http.StatusConflict, "state_unavailable"
	case errors.Is(err, service.ErrReadOnly):
		return http.StatusForbidden, "read_only"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"structure-engine/internal/events"
	"structure-engine/internal/market"
	"structure-engine/internal/risk"
)

// handleHealth returns server health status
func (s *Server) handleHealth(c *gin.Context) {
	resp := gin.H{
		"status": "healthy",
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
	}
	if s.hub != nil {
		resp["ws_clients"] = s.hub.GetClientCount()
	}
	c.JSON(http.StatusOK, resp)
}

// AnalyzeRequest carries either inline bars or a series to fetch.
type AnalyzeRequest struct {
	Symbol    string           `json:"symbol" binding:"required"`
	Timeframe market.Timeframe `json:"timeframe" binding:"required"`
	Bars      []market.Bar     `json:"bars"`
	Forming   bool             `json:"forming"`
	Limit     int              `json:"limit"`
}

func (s *Server) handleAnalyze(c *gin.Context) {
	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if _, err := market.ParseTimeframe(string(req.Timeframe)); err != nil {
		errorResponse(c, http.StatusBadRequest, "INVALID_TIMEFRAME", err.Error())
		return
	}

	series := market.Series{Symbol: req.Symbol, Timeframe: req.Timeframe, Bars: req.Bars, Forming: req.Forming}
	if len(req.Bars) == 0 {
		if s.deps.Source == nil {
			errorResponse(c, http.StatusBadRequest, "NO_BARS", "bars are required when no feed is configured")
			return
		}
		limit := req.Limit
		if limit <= 0 {
			limit = s.config.FetchLimit
		}
		fetched, err := s.deps.Source.Bars(c.Request.Context(), req.Symbol, req.Timeframe, limit)
		if err != nil {
			if s.deps.Metrics != nil {
				s.deps.Metrics.FeedErrors.WithLabelValues(req.Symbol, string(req.Timeframe)).Inc()
			}
			errorResponse(c, http.StatusBadGateway, "FEED_ERROR", err.Error())
			return
		}
		series = fetched
	}
	if err := series.Validate(); err != nil {
		errorResponse(c, http.StatusBadRequest, "INVALID_BARS", err.Error())
		return
	}

	start := time.Now()
	snap := s.deps.Analyzer.Analyze(series)
	if s.deps.Metrics != nil {
		s.deps.Metrics.ObserveAnalysis(string(series.Timeframe), time.Since(start))
	}
	successResponse(c, snap)
}

// SizeRequest is a risk.Request whose instrument may be named by symbol
// instead of spelled out.
type SizeRequest struct {
	risk.Request
	Symbol string `json:"symbol"`
}

func (s *Server) handleSize(c *gin.Context) {
	var req SizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if req.Instrument.Symbol == "" && req.Symbol != "" {
		inst, ok := s.deps.Instruments[strings.ToUpper(req.Symbol)]
		if !ok {
			errorResponse(c, http.StatusNotFound, "UNKNOWN_INSTRUMENT", "no instrument configured for "+req.Symbol)
			return
		}
		req.Instrument = inst
	}

	d, err := s.deps.Sizer.Size(req.Request)
	if err != nil {
		s.countSizing(sizingOutcome(err))
		errorResponse(c, http.StatusUnprocessableEntity, sizingOutcome(err), err.Error())
		return
	}
	outcome := "ok"
	if len(d.Warnings) > 0 {
		outcome = string(d.Warnings[0])
	}
	s.countSizing(outcome)

	if s.deps.Bus != nil {
		s.deps.Bus.Publish(events.Event{
			Type: events.EventPositionSized,
			Data: map[string]interface{}{
				"symbol":    req.Instrument.Symbol,
				"side":      d.Side.String(),
				"volume":    d.Volume,
				"stop_loss": d.StopLoss,
				"warnings":  d.Warnings,
			},
		})
	}
	successResponse(c, d)
}

func (s *Server) countSizing(outcome string) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.SizingOutcomes.WithLabelValues(outcome).Inc()
	}
}

func sizingOutcome(err error) string {
	switch {
	case errors.Is(err, risk.ErrInvalidStop):
		return "INVALID_STOP"
	case errors.Is(err, risk.ErrZeroRiskPerUnit):
		return "ZERO_RISK_PER_UNIT"
	case errors.Is(err, risk.ErrVolumeOutOfBounds):
		return "VOLUME_OUT_OF_BOUNDS"
	case errors.Is(err, risk.ErrInvalidInstrument):
		return "INVALID_INSTRUMENT"
	case errors.Is(err, risk.ErrInvalidRisk):
		return "INVALID_RISK"
	}
	return "SIZING_FAILED"
}

func (s *Server) handleSnapshot(c *gin.Context) {
	if s.deps.Snapshots == nil {
		errorResponse(c, http.StatusServiceUnavailable, "CACHE_DISABLED", "snapshot cache is not configured")
		return
	}
	symbol := strings.ToUpper(c.Param("symbol"))
	tf, err := market.ParseTimeframe(c.Param("timeframe"))
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "INVALID_TIMEFRAME", err.Error())
		return
	}

	snap, ok, err := s.deps.Snapshots.Get(c.Request.Context(), symbol, tf)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "CACHE_ERROR", err.Error())
		return
	}
	if !ok {
		errorResponse(c, http.StatusNotFound, "NOT_FOUND", "no snapshot for "+symbol+" "+string(tf))
		return
	}
	successResponse(c, snap)
}

func (s *Server) handleSignals(c *gin.Context) {
	if s.deps.Signals == nil {
		errorResponse(c, http.StatusServiceUnavailable, "JOURNAL_DISABLED", "signal journal is not configured")
		return
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			errorResponse(c, http.StatusBadRequest, "INVALID_LIMIT", "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	signals, err := s.deps.Signals.Recent(c.Request.Context(), strings.ToUpper(c.Param("symbol")), limit)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "JOURNAL_ERROR", err.Error())
		return
	}
	successResponse(c, signals)
}

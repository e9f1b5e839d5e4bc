package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/tripboard/tripstats/internal/db"
	"github.com/tripboard/tripstats/internal/logging"
	"github.com/tripboard/tripstats/internal/metrics"
	"github.com/tripboard/tripstats/internal/stats"
)

// parseStatsRequest reads the stats query parameters. Values are
// passed through as-is; the engine normalises anything invalid.
func parseStatsRequest(r *http.Request, userID string) stats.Request {
	q := r.URL.Query()
	return stats.Request{
		UserID:       userID,
		Mode:         q.Get("mode"),
		Range:        q.Get("range"),
		BoardID:      q.Get("boardId"),
		StartDate:    q.Get("startDate"),
		EndDate:      q.Get("endDate"),
		TargetUserID: q.Get("userId"),
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	userID, err := s.auth.Authenticate(r)
	if err != nil {
		logging.Ctx(r.Context()).Debug().Err(err).Msg("rejecting stats request")
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	req := parseStatsRequest(r, userID)

	start := time.Now()
	rep, err := s.breaker.Execute(r.Context(),
		func(ctx context.Context) (*stats.Report, error) {
			return s.engine.Report(ctx, req)
		},
	)
	metrics.ObserveReport(modeLabel(req.Mode), time.Since(start), err)
	if err != nil {
		if handleContextError(w, err) {
			return
		}
		if errors.Is(err, db.ErrUnavailable) {
			logging.Ctx(r.Context()).Warn().Err(err).Msg("stats storage unavailable")
			writeError(w, http.StatusServiceUnavailable, "storage unavailable")
			return
		}
		logging.Ctx(r.Context()).Error().Err(err).
			Str("user_id", userID).Msg("computing stats report")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	maxAge := int(s.cacheMaxAge() / time.Second)
	w.Header().Set("Cache-Control", "private, max-age="+strconv.Itoa(maxAge))
	writeJSON(w, http.StatusOK, rep)
}

func modeLabel(mode string) string {
	if mode == stats.ModeGroup {
		return stats.ModeGroup
	}
	return stats.ModeSolo
}

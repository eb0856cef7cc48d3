// Package api provides the HTTP handlers for starting, playing and cashing
// out rounds, plus wallet and history queries.
//
// All monetary values use shopspring/decimal — never float64 for money.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/wager-engine/internal/ledger"
	"github.com/atmx/wager-engine/internal/model"
	"github.com/atmx/wager-engine/internal/round"
)

// degradedWarning accompanies results that are final in memory but could not
// be written to the store.
const degradedWarning = "result recorded in memory but not persisted; running degraded"

// Service exposes a round.Coordinator over HTTP. The coordinator already
// serializes commands, so handlers hold no locks of their own.
type Service struct {
	coord *round.Coordinator
}

// NewService creates a new API service.
func NewService(coord *round.Coordinator) *Service {
	return &Service{coord: coord}
}

// Register mounts the game routes on r.
func (s *Service) Register(r chi.Router) {
	r.Get("/state", s.GetState)

	r.Post("/crash/start", s.StartCrash)
	r.Post("/crash/cashout", s.CashOutCrash)

	r.Post("/mines/start", s.StartMines)
	r.Post("/mines/reveal", s.Reveal)
	r.Post("/mines/cashout", s.CashOutMines)

	r.Post("/wallet/topup", s.TopUp)
	r.Get("/history", s.GetHistory)
	r.Get("/stats", s.GetStats)
}

// --- Request/Response types ---

// StartCrashRequest is the JSON body for POST /crash/start.
type StartCrashRequest struct {
	Stake decimal.Decimal `json:"stake"`
}

// StartMinesRequest is the JSON body for POST /mines/start.
type StartMinesRequest struct {
	Stake decimal.Decimal `json:"stake"`
	Mines int             `json:"mines"` // 1..tiles-1
}

// RevealRequest is the JSON body for POST /mines/reveal.
type RevealRequest struct {
	Tile *int `json:"tile"`
}

// TopUpRequest is the optional JSON body for POST /wallet/topup. A missing
// or zero amount credits the configured default.
type TopUpRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// SnapshotResponse wraps a coordinator snapshot.
type SnapshotResponse struct {
	model.Snapshot
	Warning string `json:"warning,omitempty"`
}

// ResolutionResponse wraps the outcome of a cash-out.
type ResolutionResponse struct {
	model.Resolution
	Warning string `json:"warning,omitempty"`
}

// TopUpResponse is returned from POST /wallet/topup.
type TopUpResponse struct {
	TopUp   model.TopUp     `json:"top_up"`
	Balance decimal.Decimal `json:"balance"`
	Warning string          `json:"warning,omitempty"`
}

// StatsResponse carries the running totals and whether they match a replay
// of the history.
type StatsResponse struct {
	model.Statistics
	Consistent bool `json:"consistent"`
}

// --- HTTP Handlers ---

// GetState handles GET /api/v1/state
func (s *Service) GetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, SnapshotResponse{Snapshot: s.coord.Snapshot()})
}

// StartCrash handles POST /api/v1/crash/start
func (s *Service) StartCrash(w http.ResponseWriter, r *http.Request) {
	var req StartCrashRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	snap, err := s.coord.StartCrash(r.Context(), req.Stake)
	if err != nil {
		writeRoundError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, SnapshotResponse{Snapshot: snap})
}

// CashOutCrash handles POST /api/v1/crash/cashout
func (s *Service) CashOutCrash(w http.ResponseWriter, r *http.Request) {
	res, err := s.coord.CashOutCrash(r.Context())
	s.writeResolution(w, res, err)
}

// StartMines handles POST /api/v1/mines/start
func (s *Service) StartMines(w http.ResponseWriter, r *http.Request) {
	var req StartMinesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	snap, err := s.coord.StartMines(r.Context(), req.Stake, req.Mines)
	if err != nil {
		writeRoundError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, SnapshotResponse{Snapshot: snap})
}

// Reveal handles POST /api/v1/mines/reveal
// Responds with the snapshot after the reveal, which shows whether the round
// was lost or auto-won.
func (s *Service) Reveal(w http.ResponseWriter, r *http.Request) {
	var req RevealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Tile == nil {
		writeError(w, "tile is required", http.StatusBadRequest)
		return
	}

	snap, err := s.coord.Reveal(r.Context(), *req.Tile)
	resp := SnapshotResponse{Snapshot: snap}
	if err != nil {
		if !errors.Is(err, round.ErrPersistenceFailure) {
			writeRoundError(w, err)
			return
		}
		resp.Warning = degradedWarning
	}
	writeJSON(w, http.StatusOK, resp)
}

// CashOutMines handles POST /api/v1/mines/cashout
func (s *Service) CashOutMines(w http.ResponseWriter, r *http.Request) {
	res, err := s.coord.CashOutMines(r.Context())
	s.writeResolution(w, res, err)
}

// TopUp handles POST /api/v1/wallet/topup
func (s *Service) TopUp(w http.ResponseWriter, r *http.Request) {
	var req TopUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	tu, err := s.coord.TopUp(r.Context(), req.Amount)
	resp := TopUpResponse{TopUp: tu}
	if err != nil {
		if !errors.Is(err, round.ErrPersistenceFailure) {
			writeRoundError(w, err)
			return
		}
		resp.Warning = degradedWarning
	}
	resp.Balance = s.coord.Snapshot().Balance
	writeJSON(w, http.StatusOK, resp)
}

// GetHistory handles GET /api/v1/history
// Returns the most recent records first, optionally limited by ?limit=N.
func (s *Service) GetHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	records := s.coord.History(limit)
	if records == nil {
		records = []model.ResultRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// GetStats handles GET /api/v1/stats
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatsResponse{
		Statistics: s.coord.Stats(),
		Consistent: s.coord.Verify() == nil,
	})
}

func (s *Service) writeResolution(w http.ResponseWriter, res model.Resolution, err error) {
	resp := ResolutionResponse{Resolution: res}
	if err != nil {
		if !errors.Is(err, round.ErrPersistenceFailure) {
			writeRoundError(w, err)
			return
		}
		resp.Warning = degradedWarning
	}
	writeJSON(w, http.StatusOK, resp)
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, round.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, round.ErrRoundInProgress),
		errors.Is(err, round.ErrNoActiveRound):
		return http.StatusConflict
	case errors.Is(err, round.ErrInvalidStake),
		errors.Is(err, round.ErrInvalidMineCount),
		errors.Is(err, round.ErrInvalidTile),
		errors.Is(err, ledger.ErrInvalidAmount):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeRoundError(w http.ResponseWriter, err error) {
	writeError(w, err.Error(), statusFor(err))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

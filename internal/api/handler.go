package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/quorumlabs/slotqueue/internal/discount"
	"github.com/quorumlabs/slotqueue/internal/lifecycle"
	"github.com/quorumlabs/slotqueue/internal/metrics"
	"github.com/quorumlabs/slotqueue/internal/queue"
	"github.com/quorumlabs/slotqueue/pkg/types"
)

// Handler routes HTTP requests into the lifecycle manager. Read paths
// are open; the admission and cancellation paths map one-to-one onto
// the manager's error-returning operations, so a misbehaving client can
// only ever see a policy rejection.
type Handler struct {
	manager  *lifecycle.Manager
	discount *discount.Client
	metrics  *metrics.Metrics
	logger   log.Logger
}

// NewHandler creates the API handler.
func NewHandler(m *lifecycle.Manager, dc *discount.Client) *Handler {
	return &Handler{
		manager:  m,
		discount: dc,
		logger:   log.New("module", "api"),
	}
}

// SetMetrics attaches the metrics instance.
func (h *Handler) SetMetrics(m *metrics.Metrics) { h.metrics = m }

func (h *Handler) register(mux *http.ServeMux) {
	mux.HandleFunc("/v1/queue/head", h.handleHead)
	mux.HandleFunc("/v1/queue/stats", h.handleStats)
	mux.HandleFunc("/v1/queue/fee", h.handleFee)
	mux.HandleFunc("/v1/proposals", h.handleSubmit)
	mux.HandleFunc("/v1/proposals/", h.handleProposalAction)
}

// proposalSummary is the external view of a queued entry.
type proposalSummary struct {
	ID               uint64         `json:"id"`
	Submitter        common.Address `json:"submitter"`
	Fee              uint64         `json:"fee"`
	Mode             string         `json:"fundingMode"`
	UsesDAOLiquidity bool           `json:"usesDaoLiquidity,omitempty"`
	Title            string         `json:"title"`
	QueueEntryTime   uint64         `json:"queueEntryTime"`
	TimeReachedTop   uint64         `json:"timeReachedTop,omitempty"`
	Bond             uint64         `json:"bond"`
	Bounty           uint64         `json:"bounty,omitempty"`
}

func summarize(p *types.QueuedProposal) proposalSummary {
	return proposalSummary{
		ID:               p.ID,
		Submitter:        p.Submitter,
		Fee:              p.Fee,
		Mode:             p.Mode.String(),
		UsesDAOLiquidity: p.UsesDAOLiquidity,
		Title:            p.Title,
		QueueEntryTime:   p.QueueEntryTime,
		TimeReachedTop:   p.TimeReachedTop,
		Bond:             p.BondAmount(),
		Bounty:           p.BountyAmount(),
	}
}

func (h *Handler) handleHead(w http.ResponseWriter, r *http.Request) {
	h.track()
	p, ok := h.manager.Queue().PeekMax()
	if !ok {
		h.writeError(w, http.StatusNotFound, "queue is empty")
		return
	}
	h.writeJSON(w, http.StatusOK, summarize(p))
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	h.track()
	st := h.manager.Queue().Stats()
	resp := struct {
		queue.Stats
		ActiveID uint64 `json:"activeId,omitempty"`
	}{Stats: st}
	if p, ok := h.manager.Active(); ok {
		resp.ActiveID = p.ID
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleFee(w http.ResponseWriter, r *http.Request) {
	h.track()
	q := h.manager.Queue()
	resp := map[string]interface{}{
		"minRequiredFee": q.MinRequiredFee(),
	}
	if raw := r.URL.Query().Get("fee"); raw != "" {
		fee, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid fee")
			return
		}
		resp["fee"] = fee
		resp["wouldAccept"] = q.WouldAccept(fee)
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// submitRequest carries a new admission attempt.
type submitRequest struct {
	Submitter  common.Address `json:"submitter"`
	Fee        uint64         `json:"fee"`
	PoolFunded bool           `json:"poolFunded"`
	Title      string         `json:"title"`
	Payload    []byte         `json:"payload"`
	Bond       uint64         `json:"bond"`
	Bounty     uint64         `json:"bounty"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	h.track()
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// Registry discounts apply before the core sees the fee.
	fee := h.discount.Apply(r.Context(), req.Submitter, req.Fee)

	mode := types.FundingProposer
	if req.PoolFunded {
		mode = types.FundingPool
	}
	p := types.NewQueuedProposal(req.Submitter, fee, mode, req.Title, req.Payload)
	if req.Bond > 0 {
		p.AttachBond(types.NewCoin(req.Bond))
	}
	if req.Bounty > 0 {
		p.AttachBounty(types.NewCoin(req.Bounty))
	}

	record, err := h.manager.Admit(p)
	if err != nil {
		h.writePolicyError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":       p.ID,
		"fee":      fee,
		"evicted":  record,
		"accepted": true,
	})
}

// handleProposalAction dispatches /v1/proposals/{id}/{action}.
func (h *Handler) handleProposalAction(w http.ResponseWriter, r *http.Request) {
	h.track()
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/v1/proposals/"), "/")
	if len(parts) != 2 {
		h.writeError(w, http.StatusNotFound, "not found")
		return
	}
	id, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid proposal id")
		return
	}

	var req struct {
		Caller common.Address `json:"caller"`
		NewFee uint64         `json:"newFee"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	switch parts[1] {
	case "cancel":
		err = h.manager.Cancel(id, req.Caller)
	case "bump":
		err = h.manager.BumpFee(id, req.Caller, req.NewFee)
	case "timeout":
		err = h.manager.EvictTimedOut(id, req.Caller)
	case "complete":
		err = h.manager.MarkCompleted(id)
	default:
		h.writeError(w, http.StatusNotFound, "unknown action")
		return
	}
	if err != nil {
		h.writePolicyError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "ok": true})
}

func (h *Handler) track() {
	if h.metrics != nil {
		h.metrics.APIRequests.Add(1)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", "err", err)
	}
}

func (h *Handler) writePolicyError(w http.ResponseWriter, err error) {
	status := http.StatusUnprocessableEntity
	switch {
	case errors.Is(err, queue.ErrProposalNotFound):
		status = http.StatusNotFound
	case errors.Is(err, lifecycle.ErrNotSubmitter):
		status = http.StatusForbidden
	case errors.Is(err, queue.ErrAlreadyQueued):
		status = http.StatusConflict
	}
	h.writeError(w, status, err.Error())
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	if h.metrics != nil {
		h.metrics.APIErrors.Add(1)
	}
	h.writeJSON(w, status, map[string]string{"error": msg})
}

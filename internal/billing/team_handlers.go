package billing

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/stocktally/stocktally/internal/billing/registry"
	berrors "github.com/stocktally/stocktally/internal/errors"
	"github.com/stocktally/stocktally/internal/logging"
	"github.com/stocktally/stocktally/pkg/entitlements"
	"github.com/stocktally/stocktally/pkg/plans"
)

const maxRequestBody = 64 * 1024

// TeamHandlers serves the team entitlement API.
type TeamHandlers struct {
	deps *Deps
}

type errorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type teamResponse struct {
	Team        *registry.Team           `json:"team"`
	Entitlement entitlements.Entitlement `json:"entitlement"`
}

// HandleCreateTeam creates a free team with no trial.
func (h *TeamHandlers) HandleCreateTeam(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		h.writeError(w, r, berrors.Validation("create_team", "name is required"))
		return
	}

	team := registry.NewTeam(req.Name)
	if err := h.deps.Registry.Create(r.Context(), team); err != nil {
		h.writeError(w, r, err)
		return
	}
	logger := logging.FromContext(r.Context())
	logger.Info().Str("team_id", team.ID).Msg("Team created")
	writeJSON(w, http.StatusCreated, teamResponse{Team: team, Entitlement: h.deps.Resolver.Resolve(team.TrialState())})
}

// HandleGetEntitlements returns the team's effective entitlement right now.
func (h *TeamHandlers) HandleGetEntitlements(w http.ResponseWriter, r *http.Request) {
	team, ok := h.loadTeam(w, r, "get_entitlements")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Resolver.Resolve(team.TrialState()))
}

// HandleWarehouseCheck answers whether the team may create another warehouse.
func (h *TeamHandlers) HandleWarehouseCheck(w http.ResponseWriter, r *http.Request) {
	current := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("current")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.writeError(w, r, berrors.Validation("warehouse_check", "current must be a non-negative integer"))
			return
		}
		current = n
	}

	team, ok := h.loadTeam(w, r, "warehouse_check")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Resolver.Resolve(team.TrialState()).CanCreateWarehouse(current))
}

// HandleStartTrial starts a trial of a paid plan.
func (h *TeamHandlers) HandleStartTrial(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Plan string `json:"plan"`
	}
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	teamID := r.PathValue("team_id")
	team, decision, err := h.deps.Registry.StartTrial(r.Context(), teamID, req.Plan, entitlements.DefaultTrialDuration)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !decision.Allowed {
		code, message := entitlements.TrialStartError(decision.Reason)
		status := http.StatusConflict
		if decision.Reason == entitlements.TrialStartDeniedPlan {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, errorResponse{Error: message, Code: code, Message: message})
		return
	}

	logger := logging.FromContext(r.Context())
	logger.Info().
		Str("team_id", team.ID).
		Str("trial_plan", string(decision.Plan)).
		Msg("Trial started")
	writeJSON(w, http.StatusOK, h.deps.Resolver.Resolve(team.TrialState()))
}

// HandleCheckout creates a Stripe Checkout session for a paid plan.
func (h *TeamHandlers) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Plan     string `json:"plan"`
		Interval string `json:"interval"`
	}
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	plan, ok := plans.Parse(req.Plan)
	if !ok || !plans.IsPaid(plan) {
		h.writeError(w, r, berrors.Validation("create_checkout_session", "plan must be starter or pro"))
		return
	}
	if strings.TrimSpace(req.Interval) == "" {
		req.Interval = string(registry.BillingIntervalMonth)
	}
	interval, ok := registry.ParseBillingInterval(req.Interval)
	if !ok {
		h.writeError(w, r, berrors.Validation("create_checkout_session", "interval must be month or year"))
		return
	}

	if h.deps.Checkout == nil {
		h.writeError(w, r, berrors.Configuration("create_checkout_session", "payments are not configured"))
		return
	}

	team, ok := h.loadTeam(w, r, "create_checkout_session")
	if !ok {
		return
	}
	session, err := h.deps.Checkout.CreateCheckoutSession(r.Context(), team, plan, interval)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// HandlePortal creates a Stripe Billing Portal session.
func (h *TeamHandlers) HandlePortal(w http.ResponseWriter, r *http.Request) {
	if h.deps.Checkout == nil {
		h.writeError(w, r, berrors.Configuration("create_portal_session", "payments are not configured"))
		return
	}
	team, ok := h.loadTeam(w, r, "create_portal_session")
	if !ok {
		return
	}
	session, err := h.deps.Checkout.CreatePortalSession(r.Context(), team)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// HandleSetExtraUserSlots validates the requested quantity against the
// plan's seat cap and reconciles it with Stripe.
func (h *TeamHandlers) HandleSetExtraUserSlots(w http.ResponseWriter, r *http.Request) {
	const op = "set_extra_user_slots"
	var req struct {
		Quantity *int `json:"quantity"`
	}
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Quantity == nil || *req.Quantity < 0 {
		h.writeError(w, r, berrors.Validation(op, "quantity must be zero or more"))
		return
	}
	if h.deps.Reconciler == nil {
		h.writeError(w, r, berrors.Configuration(op, "extra user billing is not configured"))
		return
	}

	team, ok := h.loadTeam(w, r, op)
	if !ok {
		return
	}
	// Unsubscribed teams fall through to the reconciler's subscription error.
	if limit := plans.ExtraUserSlotCap(plans.Normalize(string(team.Plan))); team.HasActiveSubscription() && *req.Quantity > limit {
		h.writeError(w, r, berrors.Validation(op,
			"The "+plans.DisplayName(team.Plan)+" plan allows at most "+strconv.Itoa(limit)+" extra user slots"))
		return
	}

	slots, err := h.deps.Reconciler.SetExtraUserSlots(r.Context(), team.ID, *req.Quantity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"extraUserSlots": slots})
}

func (h *TeamHandlers) loadTeam(w http.ResponseWriter, r *http.Request, op string) (*registry.Team, bool) {
	teamID := strings.TrimSpace(r.PathValue("team_id"))
	team, err := h.deps.Registry.Get(r.Context(), teamID)
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	if team == nil {
		h.writeError(w, r, berrors.NotFound(op, teamID))
		return nil, false
	}
	return team, true
}

func (h *TeamHandlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := berrors.HTTPStatus(err)
	logger := logging.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("Team API request failed")
	} else {
		logger.Debug().Err(err).Str("path", r.URL.Path).Msg("Team API request rejected")
	}
	writeJSON(w, status, errorResponse{Error: berrors.UserMessage(err), Code: string(berrors.TypeOf(err))})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return berrors.Validation("decode_request", "request body is required")
		}
		return berrors.Validation("decode_request", "invalid JSON body: "+err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"carebase/internal/billing"
	"carebase/internal/core"
	"carebase/internal/notifications"
	"carebase/internal/types"
)

// SubscriptionRepo provides the persisted subscription state.
type SubscriptionRepo interface {
	GetByOrg(ctx context.Context, orgID string) (*types.Subscription, error)
	Upsert(ctx context.Context, sub *types.Subscription) error
}

// InvoiceRepo provides read access to the persisted invoice history.
type InvoiceRepo interface {
	GetByID(ctx context.Context, id string, orgID string) (*types.Invoice, error)
	ListByOrg(ctx context.Context, orgID string, limit int) ([]*types.Invoice, error)
}

// BillingOrgRepo provides the allowance inputs for fee computation and the
// plan transition write.
type BillingOrgRepo interface {
	GetByID(ctx context.Context, id string) (*types.Organization, error)
	UpdatePlan(ctx context.Context, id string, plan types.PlanTier) error
}

// NotificationDispatcher fans out the plan-changed notification.
// Implemented by notifications.Dispatcher.
type NotificationDispatcher interface {
	Dispatch(ctx context.Context, n *types.Notification) error
}

// BillingCounters provides the live counts that feed the pricing engine.
type BillingCounters interface {
	CountActiveDevices(ctx context.Context, orgID string) (int, error)
	CountActiveStaff(ctx context.Context, orgID string) (int, error)
}

// DashboardService produces the aggregated dashboard summary.
// Implemented by billing.DashboardReporter.
type DashboardService interface {
	Summarize(ctx context.Context, orgID string) (*types.DashboardSummary, error)
}

// --- Request/Response Models ---

// SubscriptionResponse pairs the persisted subscription state with a freshly
// computed breakdown. The breakdown is never persisted from this endpoint.
type SubscriptionResponse struct {
	Subscription *types.Subscription       `json:"subscription"`
	Breakdown    *billing.PricingBreakdown `json:"breakdown"`
}

// PreviewRequest is the request body for POST /v1/billing/preview. It
// describes a candidate subscription; counts default to the organization's
// live counts when omitted.
type PreviewRequest struct {
	Plan                types.PlanTier `json:"plan" validate:"required,plan_tier"`
	ProductIDs          []string       `json:"product_ids"`
	AIEnabledProductIDs []string       `json:"ai_enabled_product_ids"`
	DeviceCount         *int           `json:"device_count,omitempty" validate:"omitempty,min=0"`
	StaffCount          *int           `json:"staff_count,omitempty" validate:"omitempty,min=0"`
}

// PreviewResponse is the computed candidate breakdown plus the change
// direction relative to the organization's current plan.
type PreviewResponse struct {
	Breakdown *billing.PricingBreakdown `json:"breakdown"`
	Change    types.PlanChange          `json:"change"`
}

// ChangePlanRequest is the request body for POST /v1/billing/plan.
type ChangePlanRequest struct {
	Plan types.PlanTier `json:"plan" validate:"required,plan_tier"`
}

// ChangePlanResponse reports the committed plan and the change direction.
type ChangePlanResponse struct {
	Plan   types.PlanTier   `json:"plan"`
	Change types.PlanChange `json:"change"`
}

// BillingHandler serves the billing dashboard endpoints. All monetary
// amounts are integer yen.
type BillingHandler struct {
	subRepo     SubscriptionRepo
	invoiceRepo InvoiceRepo
	orgRepo     BillingOrgRepo
	counters    BillingCounters
	engine      *billing.PricingEngine
	catalog     billing.Catalog
	dashboard   DashboardService
	notifier    NotificationDispatcher
	audit       AuditLogger
	validator   *core.Validator
	logger      *slog.Logger
}

// NewBillingHandler creates a BillingHandler with the provided dependencies.
func NewBillingHandler(
	subRepo SubscriptionRepo,
	invoiceRepo InvoiceRepo,
	orgRepo BillingOrgRepo,
	counters BillingCounters,
	engine *billing.PricingEngine,
	catalog billing.Catalog,
	dashboard DashboardService,
	notifier NotificationDispatcher,
	audit AuditLogger,
	v *core.Validator,
	l *slog.Logger,
) *BillingHandler {
	if l == nil {
		l = slog.Default()
	}
	return &BillingHandler{
		subRepo:     subRepo,
		invoiceRepo: invoiceRepo,
		orgRepo:     orgRepo,
		counters:    counters,
		engine:      engine,
		catalog:     catalog,
		dashboard:   dashboard,
		notifier:    notifier,
		audit:       audit,
		validator:   v,
		logger:      l,
	}
}

// Routes returns the route registrar for the billing endpoints. Committing a
// plan change requires admin or above; everything else is read-only or
// side-effect free.
func (h *BillingHandler) Routes(guard RoleGuard) func(r chi.Router) {
	return func(r chi.Router) {
		r.Get("/billing/subscription", h.GetSubscription)
		r.Post("/billing/preview", h.Preview)
		r.With(guard(types.RoleAdmin)).Post("/billing/plan", h.ChangePlan)
		r.Get("/billing/invoices", h.ListInvoices)
		r.Get("/billing/invoices/{id}", h.GetInvoice)
		r.Get("/billing/plans", h.ListPlans)
		r.Get("/billing/products", h.ListProducts)
		r.Get("/dashboard/summary", h.DashboardSummary)
	}
}

// GetSubscription handles GET /v1/billing/subscription. The itemized
// breakdown is recomputed from live counts on every call; product IDs that
// no longer resolve in the catalog contribute nothing and surface as a
// warning.
func (h *BillingHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}

	sub, err := h.subRepo.GetByOrg(r.Context(), orgID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	org, err := h.orgRepo.GetByID(r.Context(), orgID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	breakdown, warnings, err := h.computeBreakdown(r.Context(), org, sub.Plan, sub.ActiveProductIDs, sub.AIEnabledProductIDs, nil, nil)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	resp := core.APIResponse{Data: SubscriptionResponse{Subscription: sub, Breakdown: breakdown}}
	if len(warnings) > 0 {
		resp.Meta = &types.ResponseMeta{Warnings: warnings}
	}
	core.JSON(w, r, http.StatusOK, resp)
}

// Preview handles POST /v1/billing/preview. It computes what a candidate
// plan/product selection would cost and how it compares to the current plan.
// Nothing is persisted.
func (h *BillingHandler) Preview(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}

	var req PreviewRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	org, err := h.orgRepo.GetByID(r.Context(), orgID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	breakdown, warnings, err := h.computeBreakdown(r.Context(), org, req.Plan, req.ProductIDs, req.AIEnabledProductIDs, req.DeviceCount, req.StaffCount)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	resp := core.APIResponse{Data: PreviewResponse{
		Breakdown: breakdown,
		Change:    billing.ComparePlans(org.Plan, req.Plan),
	}}
	if len(warnings) > 0 {
		resp.Meta = &types.ResponseMeta{Warnings: warnings}
	}
	core.JSON(w, r, http.StatusOK, resp)
}

// ChangePlan handles POST /v1/billing/plan. It commits the plan transition
// on both the organization and its subscription, then notifies the
// organization. Itemized amounts are never persisted here; the next cycle
// run prices the new plan.
func (h *BillingHandler) ChangePlan(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}
	actor, _ := types.GetActor(r.Context())

	var req ChangePlanRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	org, err := h.orgRepo.GetByID(r.Context(), orgID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if org.Plan == req.Plan {
		core.Error(w, r, types.NewAppError(types.ErrCodeConflictPlan, "organization is already on this plan", nil))
		return
	}

	target, ok := h.catalog.GetPlan(req.Plan)
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidPlan, "unknown plan tier", nil))
		return
	}
	if target.MaxStaff > 0 {
		staff, err := h.counters.CountActiveStaff(r.Context(), orgID)
		if err != nil {
			core.Error(w, r, err)
			return
		}
		if staff > target.MaxStaff {
			core.Error(w, r, types.NewAppErrorWithDetails(
				types.ErrCodeValidationInvalidPlan,
				"active staff count exceeds the target plan's limit",
				nil,
				map[string]any{"active_staff": staff, "max_staff": target.MaxStaff},
			))
			return
		}
	}

	previous := org.Plan
	change := billing.ComparePlans(previous, req.Plan)

	if err := h.orgRepo.UpdatePlan(r.Context(), orgID, req.Plan); err != nil {
		core.Error(w, r, err)
		return
	}

	sub, err := h.subRepo.GetByOrg(r.Context(), orgID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	sub.Plan = req.Plan
	if err := h.subRepo.Upsert(r.Context(), sub); err != nil {
		core.Error(w, r, err)
		return
	}

	emitAudit(r.Context(), h.audit, h.logger, actor, types.AuditActionPlanChanged, orgID, "organization")

	if h.notifier != nil {
		if err := h.notifier.Dispatch(r.Context(), notifications.PlanChanged(orgID, previous, req.Plan)); err != nil {
			h.logger.WarnContext(r.Context(), "plan change notification failed",
				"organization_id", orgID,
				"error", err,
			)
		}
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: ChangePlanResponse{
		Plan:   req.Plan,
		Change: change,
	}})
}

// ListInvoices handles GET /v1/billing/invoices. Invoices are read-only
// history written by the billing cycle job.
func (h *BillingHandler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}

	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	invoices, err := h.invoiceRepo.ListByOrg(r.Context(), orgID, limit)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: invoices})
}

// GetInvoice handles GET /v1/billing/invoices/{id}.
func (h *BillingHandler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}

	invoice, err := h.invoiceRepo.GetByID(r.Context(), chi.URLParam(r, "id"), orgID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: invoice})
}

// ListPlans handles GET /v1/billing/plans.
func (h *BillingHandler) ListPlans(w http.ResponseWriter, r *http.Request) {
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: h.catalog.Plans()})
}

// ListProducts handles GET /v1/billing/products.
func (h *BillingHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: h.catalog.Products()})
}

// DashboardSummary handles GET /v1/dashboard/summary.
func (h *BillingHandler) DashboardSummary(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}

	summary, err := h.dashboard.Summarize(r.Context(), orgID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: summary})
}

// computeBreakdown assembles the FeeInput from live counts (unless the
// caller supplied explicit ones) and runs the pricing engine. Dangling
// product IDs are returned as client-facing warnings.
func (h *BillingHandler) computeBreakdown(
	ctx context.Context,
	org *types.Organization,
	plan types.PlanTier,
	productIDs, aiEnabledProductIDs []string,
	deviceCount, staffCount *int,
) (*billing.PricingBreakdown, []string, error) {
	orgID := org.ID

	var err error
	devices := 0
	if deviceCount != nil {
		devices = *deviceCount
	} else {
		devices, err = h.counters.CountActiveDevices(ctx, orgID)
		if err != nil {
			return nil, nil, err
		}
	}

	staff := 0
	if staffCount != nil {
		staff = *staffCount
	} else {
		staff, err = h.counters.CountActiveStaff(ctx, orgID)
		if err != nil {
			return nil, nil, err
		}
	}

	products, missing := h.engine.ResolveProducts(productIDs)

	breakdown, err := h.engine.CalculateMonthlyFee(billing.FeeInput{
		Plan:                plan,
		DeviceCount:         devices,
		ActiveProducts:      products,
		AIEnabledProductIDs: aiEnabledProductIDs,
		StaffCount:          staff,
		FreeStaffAllowance:  org.FreeStaffAllowance,
		PreviousDiscount:    org.PreviousDiscount,
	})
	if err != nil {
		return nil, nil, err
	}

	var warnings []string
	for _, id := range missing {
		warnings = append(warnings, "unknown product id ignored: "+id)
	}
	return breakdown, warnings, nil
}

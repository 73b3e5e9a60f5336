package handlers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carebase/internal/billing"
	"carebase/internal/types"
)

type fakeSubRepo struct {
	sub      *types.Subscription
	err      error
	upserted *types.Subscription
}

func (f *fakeSubRepo) GetByOrg(context.Context, string) (*types.Subscription, error) {
	return f.sub, f.err
}

func (f *fakeSubRepo) Upsert(_ context.Context, sub *types.Subscription) error {
	copied := *sub
	f.upserted = &copied
	return nil
}

type fakeDispatcher struct {
	dispatched []*types.Notification
	err        error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, n *types.Notification) error {
	if f.err != nil {
		return f.err
	}
	f.dispatched = append(f.dispatched, n)
	return nil
}

type fakeInvoiceRepo struct {
	invoices []*types.Invoice
	byID     map[string]*types.Invoice
}

func (f *fakeInvoiceRepo) GetByID(_ context.Context, id, _ string) (*types.Invoice, error) {
	inv, ok := f.byID[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundInvoice, "invoice not found", nil)
	}
	return inv, nil
}

func (f *fakeInvoiceRepo) ListByOrg(_ context.Context, _ string, limit int) ([]*types.Invoice, error) {
	if limit < len(f.invoices) {
		return f.invoices[:limit], nil
	}
	return f.invoices, nil
}

type fakeCounters struct {
	devices int
	staff   int
}

func (f *fakeCounters) CountActiveDevices(context.Context, string) (int, error) {
	return f.devices, nil
}

func (f *fakeCounters) CountActiveStaff(context.Context, string) (int, error) {
	return f.staff, nil
}

type fakeDashboard struct {
	summary *types.DashboardSummary
	err     error
}

func (f *fakeDashboard) Summarize(context.Context, string) (*types.DashboardSummary, error) {
	return f.summary, f.err
}

func newBillingHandler(sub *fakeSubRepo, invoices *fakeInvoiceRepo, org *fakeOrgRepo, counters *fakeCounters, dash *fakeDashboard) *BillingHandler {
	catalog := billing.NewStaticCatalog()
	return NewBillingHandler(
		sub, invoices, org, counters,
		billing.NewPricingEngine(catalog), catalog, dash,
		&fakeDispatcher{}, &recordingAudit{},
		testValidator(), testLogger(),
	)
}

func billingRoutes(h *BillingHandler) func(chi.Router) {
	return h.Routes(passGuard)
}

func TestGetSubscription_ComputesFreshBreakdown(t *testing.T) {
	sub := &fakeSubRepo{sub: &types.Subscription{
		OrganizationID:   "org_1",
		Plan:             types.PlanStandard,
		Status:           types.SubStatusActive,
		ActiveProductIDs: []string{"care_records"},
	}}
	org := &fakeOrgRepo{org: &types.Organization{ID: "org_1", Plan: types.PlanStandard}}
	h := newBillingHandler(sub, &fakeInvoiceRepo{}, org, &fakeCounters{devices: 3, staff: 2}, &fakeDashboard{})

	actor := testActor(types.RoleAdmin)
	rec := doRequest(t, billingRoutes(h), http.MethodGet, "/v1/billing/subscription", nil, &actor)

	require.Equal(t, http.StatusOK, rec.Code)

	var data SubscriptionResponse
	decodeData(t, rec, &data)
	require.NotNil(t, data.Breakdown)
	assert.Equal(t, types.PlanStandard, data.Breakdown.Plan)
	assert.Equal(t, data.Breakdown.Subtotal, data.Breakdown.DeviceFee+data.Breakdown.ProductFees+data.Breakdown.AIFees)
	assert.Equal(t, data.Breakdown.Total, data.Breakdown.Subtotal+data.Breakdown.Tax)
}

func TestGetSubscription_DanglingProductWarns(t *testing.T) {
	sub := &fakeSubRepo{sub: &types.Subscription{
		OrganizationID:   "org_1",
		Plan:             types.PlanStandard,
		Status:           types.SubStatusActive,
		ActiveProductIDs: []string{"care_records", "product_gone"},
	}}
	org := &fakeOrgRepo{org: &types.Organization{ID: "org_1", Plan: types.PlanStandard}}
	h := newBillingHandler(sub, &fakeInvoiceRepo{}, org, &fakeCounters{}, &fakeDashboard{})

	actor := testActor(types.RoleAdmin)
	rec := doRequest(t, billingRoutes(h), http.MethodGet, "/v1/billing/subscription", nil, &actor)

	require.Equal(t, http.StatusOK, rec.Code)
	meta := decodeMeta(t, rec)
	require.NotNil(t, meta)
	require.Len(t, meta.Warnings, 1)
	assert.Contains(t, meta.Warnings[0], "product_gone")
}

func TestPreview_ReportsUpgradeDirection(t *testing.T) {
	org := &fakeOrgRepo{org: &types.Organization{ID: "org_1", Plan: types.PlanFree}}
	h := newBillingHandler(&fakeSubRepo{}, &fakeInvoiceRepo{}, org, &fakeCounters{devices: 2, staff: 1}, &fakeDashboard{})

	actor := testActor(types.RoleAdmin)
	rec := doRequest(t, billingRoutes(h), http.MethodPost, "/v1/billing/preview",
		PreviewRequest{Plan: types.PlanStandard}, &actor)

	require.Equal(t, http.StatusOK, rec.Code)

	var data PreviewResponse
	decodeData(t, rec, &data)
	assert.Equal(t, types.PlanChangeUpgrade, data.Change)
	require.NotNil(t, data.Breakdown)
	assert.Equal(t, types.PlanStandard, data.Breakdown.Plan)
}

func TestPreview_ExplicitCountsOverrideLive(t *testing.T) {
	org := &fakeOrgRepo{org: &types.Organization{ID: "org_1", Plan: types.PlanStandard}}
	// Live counts would be zero; explicit ones must win.
	h := newBillingHandler(&fakeSubRepo{}, &fakeInvoiceRepo{}, org, &fakeCounters{}, &fakeDashboard{})

	devices := 5
	actor := testActor(types.RoleAdmin)
	rec := doRequest(t, billingRoutes(h), http.MethodPost, "/v1/billing/preview",
		PreviewRequest{Plan: types.PlanStandard, DeviceCount: &devices}, &actor)

	require.Equal(t, http.StatusOK, rec.Code)

	var data PreviewResponse
	decodeData(t, rec, &data)
	assert.Positive(t, data.Breakdown.DeviceFee)
}

func TestPreview_RejectsUnknownPlan(t *testing.T) {
	h := newBillingHandler(&fakeSubRepo{}, &fakeInvoiceRepo{}, &fakeOrgRepo{}, &fakeCounters{}, &fakeDashboard{})

	actor := testActor(types.RoleAdmin)
	rec := doRequest(t, billingRoutes(h), http.MethodPost, "/v1/billing/preview",
		map[string]string{"plan": "platinum"}, &actor)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPreview_FetchesOrganizationOnce(t *testing.T) {
	org := &fakeOrgRepo{org: &types.Organization{ID: "org_1", Plan: types.PlanFree}}
	h := newBillingHandler(&fakeSubRepo{}, &fakeInvoiceRepo{}, org, &fakeCounters{}, &fakeDashboard{})

	actor := testActor(types.RoleAdmin)
	rec := doRequest(t, billingRoutes(h), http.MethodPost, "/v1/billing/preview",
		PreviewRequest{Plan: types.PlanStandard}, &actor)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, org.getCalls)
}

func TestChangePlan_CommitsAndNotifies(t *testing.T) {
	org := &fakeOrgRepo{org: &types.Organization{ID: "org_1", Plan: types.PlanFree}}
	sub := &fakeSubRepo{sub: &types.Subscription{
		OrganizationID: "org_1",
		Plan:           types.PlanFree,
		Status:         types.SubStatusActive,
	}}
	catalog := billing.NewStaticCatalog()
	notifier := &fakeDispatcher{}
	audit := &recordingAudit{}
	h := NewBillingHandler(
		sub, &fakeInvoiceRepo{}, org, &fakeCounters{staff: 1},
		billing.NewPricingEngine(catalog), catalog, &fakeDashboard{},
		notifier, audit,
		testValidator(), testLogger(),
	)

	actor := testActor(types.RoleAdmin)
	rec := doRequest(t, billingRoutes(h), http.MethodPost, "/v1/billing/plan",
		ChangePlanRequest{Plan: types.PlanStandard}, &actor)

	require.Equal(t, http.StatusOK, rec.Code)

	var data ChangePlanResponse
	decodeData(t, rec, &data)
	assert.Equal(t, types.PlanStandard, data.Plan)
	assert.Equal(t, types.PlanChangeUpgrade, data.Change)

	assert.Equal(t, types.PlanStandard, org.updatedPlan)
	require.NotNil(t, sub.upserted)
	assert.Equal(t, types.PlanStandard, sub.upserted.Plan)

	require.Len(t, audit.events, 1)
	assert.Equal(t, types.AuditActionPlanChanged, audit.events[0].Action)

	require.Len(t, notifier.dispatched, 1)
	assert.Equal(t, types.NotifyPlanChanged, notifier.dispatched[0].Type)
	assert.Equal(t, types.LevelInfo, notifier.dispatched[0].Level)
}

func TestChangePlan_SamePlanConflicts(t *testing.T) {
	org := &fakeOrgRepo{org: &types.Organization{ID: "org_1", Plan: types.PlanStandard}}
	h := newBillingHandler(&fakeSubRepo{}, &fakeInvoiceRepo{}, org, &fakeCounters{}, &fakeDashboard{})

	actor := testActor(types.RoleAdmin)
	rec := doRequest(t, billingRoutes(h), http.MethodPost, "/v1/billing/plan",
		ChangePlanRequest{Plan: types.PlanStandard}, &actor)

	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(types.ErrCodeConflictPlan), errorCode(t, rec))
	assert.Zero(t, org.updatedPlan, "no write on conflict")
}

func TestChangePlan_DowngradeBlockedByStaffLimit(t *testing.T) {
	// The free plan allows one staff account; four active staff must block
	// the downgrade before anything is written.
	org := &fakeOrgRepo{org: &types.Organization{ID: "org_1", Plan: types.PlanStandard}}
	sub := &fakeSubRepo{sub: &types.Subscription{OrganizationID: "org_1", Plan: types.PlanStandard}}
	h := newBillingHandler(sub, &fakeInvoiceRepo{}, org, &fakeCounters{staff: 4}, &fakeDashboard{})

	actor := testActor(types.RoleAdmin)
	rec := doRequest(t, billingRoutes(h), http.MethodPost, "/v1/billing/plan",
		ChangePlanRequest{Plan: types.PlanFree}, &actor)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(types.ErrCodeValidationInvalidPlan), errorCode(t, rec))
	assert.Zero(t, org.updatedPlan)
	assert.Nil(t, sub.upserted)
}

func TestChangePlan_WebhookFailureDoesNotFailRequest(t *testing.T) {
	org := &fakeOrgRepo{org: &types.Organization{ID: "org_1", Plan: types.PlanFree}}
	sub := &fakeSubRepo{sub: &types.Subscription{OrganizationID: "org_1", Plan: types.PlanFree}}
	catalog := billing.NewStaticCatalog()
	h := NewBillingHandler(
		sub, &fakeInvoiceRepo{}, org, &fakeCounters{staff: 1},
		billing.NewPricingEngine(catalog), catalog, &fakeDashboard{},
		&fakeDispatcher{err: assert.AnError}, &recordingAudit{},
		testValidator(), testLogger(),
	)

	actor := testActor(types.RoleAdmin)
	rec := doRequest(t, billingRoutes(h), http.MethodPost, "/v1/billing/plan",
		ChangePlanRequest{Plan: types.PlanAI}, &actor)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, types.PlanAI, org.updatedPlan)
}

func TestListInvoices_RespectsLimit(t *testing.T) {
	now := time.Now().UTC()
	repo := &fakeInvoiceRepo{invoices: []*types.Invoice{
		{ID: "invc_1", Status: types.InvoicePaid, CreatedAt: now},
		{ID: "invc_2", Status: types.InvoiceOpen, CreatedAt: now.AddDate(0, -1, 0)},
	}}
	h := newBillingHandler(&fakeSubRepo{}, repo, &fakeOrgRepo{}, &fakeCounters{}, &fakeDashboard{})

	actor := testActor(types.RoleAdmin)
	rec := doRequest(t, billingRoutes(h), http.MethodGet, "/v1/billing/invoices?limit=1", nil, &actor)

	require.Equal(t, http.StatusOK, rec.Code)

	var data []*types.Invoice
	decodeData(t, rec, &data)
	require.Len(t, data, 1)
	assert.Equal(t, "invc_1", data[0].ID)
}

func TestGetInvoice_NotFound(t *testing.T) {
	h := newBillingHandler(&fakeSubRepo{}, &fakeInvoiceRepo{byID: map[string]*types.Invoice{}}, &fakeOrgRepo{}, &fakeCounters{}, &fakeDashboard{})

	actor := testActor(types.RoleAdmin)
	rec := doRequest(t, billingRoutes(h), http.MethodGet, "/v1/billing/invoices/invc_missing", nil, &actor)

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(types.ErrCodeNotFoundInvoice), errorCode(t, rec))
}

func TestListPlans_ReturnsCatalog(t *testing.T) {
	h := newBillingHandler(&fakeSubRepo{}, &fakeInvoiceRepo{}, &fakeOrgRepo{}, &fakeCounters{}, &fakeDashboard{})

	actor := testActor(types.RoleCaregiver)
	rec := doRequest(t, billingRoutes(h), http.MethodGet, "/v1/billing/plans", nil, &actor)

	require.Equal(t, http.StatusOK, rec.Code)

	var data []billing.PlanDefinition
	decodeData(t, rec, &data)
	assert.NotEmpty(t, data)
}

func TestDashboardSummary(t *testing.T) {
	dash := &fakeDashboard{summary: &types.DashboardSummary{
		ActiveClients: 12,
		ActiveStaff:   4,
		ActiveDevices: 7,
	}}
	h := newBillingHandler(&fakeSubRepo{}, &fakeInvoiceRepo{}, &fakeOrgRepo{}, &fakeCounters{}, dash)

	actor := testActor(types.RoleCaregiver)
	rec := doRequest(t, billingRoutes(h), http.MethodGet, "/v1/dashboard/summary", nil, &actor)

	require.Equal(t, http.StatusOK, rec.Code)

	var data types.DashboardSummary
	decodeData(t, rec, &data)
	assert.Equal(t, 12, data.ActiveClients)
	assert.Equal(t, 7, data.ActiveDevices)
}

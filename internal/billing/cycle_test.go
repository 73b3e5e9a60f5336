package billing

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"carebase/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClock struct {
	now time.Time
}

func (f fakeClock) Now() time.Time { return f.now }

type fakeSubSource struct {
	subs     []*types.Subscription
	upserted []*types.Subscription
	listErr  error
}

func (f *fakeSubSource) ForEachActive(ctx context.Context, fn func(*types.Subscription) error) error {
	if f.listErr != nil {
		return f.listErr
	}
	for _, sub := range f.subs {
		if err := fn(sub); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeSubSource) Upsert(ctx context.Context, sub *types.Subscription) error {
	copied := *sub
	f.upserted = append(f.upserted, &copied)
	return nil
}

type fakeCycleOrgs struct {
	orgs map[string]*types.Organization
	err  error
}

func (f *fakeCycleOrgs) GetByID(ctx context.Context, id string) (*types.Organization, error) {
	if f.err != nil {
		return nil, f.err
	}
	org, ok := f.orgs[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundOrg, "organization not found", nil)
	}
	return org, nil
}

type fakeCycleCounters struct {
	devices int
	staff   int
}

func (f *fakeCycleCounters) CountActiveDevices(ctx context.Context, orgID string) (int, error) {
	return f.devices, nil
}

func (f *fakeCycleCounters) CountActiveStaff(ctx context.Context, orgID string) (int, error) {
	return f.staff, nil
}

type fakeInvoiceWriter struct {
	inserted []*types.Invoice
	err      error
}

func (f *fakeInvoiceWriter) Insert(ctx context.Context, inv *types.Invoice) error {
	if f.err != nil {
		return f.err
	}
	f.inserted = append(f.inserted, inv)
	return nil
}

type fakeCycleNotifier struct {
	dispatched []*types.Notification
}

func (f *fakeCycleNotifier) Dispatch(ctx context.Context, n *types.Notification) error {
	f.dispatched = append(f.dispatched, n)
	return nil
}

func elapsedSubscription(orgID string, plan types.PlanTier) *types.Subscription {
	return &types.Subscription{
		OrganizationID:     orgID,
		Plan:               plan,
		Status:             types.SubStatusActive,
		ActiveProductIDs:   []string{"care_records"},
		CurrentPeriodStart: time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC),
		CurrentPeriodEnd:   time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC),
	}
}

func newTestRunner(subs *fakeSubSource, orgs *fakeCycleOrgs, counters *fakeCycleCounters, invoices *fakeInvoiceWriter, notifier CycleNotifier) *CycleRunner {
	runner := NewCycleRunner(subs, orgs, counters, invoices, NewPricingEngine(NewStaticCatalog()), notifier, testLogger())
	runner.clock = fakeClock{now: time.Date(2024, 12, 3, 2, 0, 0, 0, time.UTC)}
	runner.newID = func() string { return "invc_test" }
	return runner
}

func TestCycleRunner_InvoicesElapsedPeriod(t *testing.T) {
	sub := elapsedSubscription("org_1", types.PlanStandard)
	subs := &fakeSubSource{subs: []*types.Subscription{sub}}
	orgs := &fakeCycleOrgs{orgs: map[string]*types.Organization{
		"org_1": {ID: "org_1", FreeStaffAllowance: 2},
	}}
	invoices := &fakeInvoiceWriter{}
	notifier := &fakeCycleNotifier{}

	runner := newTestRunner(subs, orgs, &fakeCycleCounters{devices: 3, staff: 5}, invoices, notifier)

	result, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Invoiced != 1 || result.Failed != 0 || result.Skipped != 0 {
		t.Fatalf("result = %+v, want 1 invoiced", result)
	}
	if len(invoices.inserted) != 1 {
		t.Fatalf("inserted %d invoices, want 1", len(invoices.inserted))
	}

	inv := invoices.inserted[0]
	if inv.ID != "invc_test" || inv.Status != types.InvoiceOpen {
		t.Errorf("invoice = %s/%s, want invc_test/open", inv.ID, inv.Status)
	}
	if !inv.PeriodStart.Equal(time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("PeriodStart = %v, want 2024-11-01", inv.PeriodStart)
	}
	if !inv.PeriodEnd.Equal(time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("PeriodEnd = %v, want 2024-12-01", inv.PeriodEnd)
	}

	var breakdown PricingBreakdown
	if err := json.Unmarshal(inv.Breakdown, &breakdown); err != nil {
		t.Fatalf("breakdown not valid JSON: %v", err)
	}
	if breakdown.Subtotal != inv.Subtotal || breakdown.Total != inv.Total {
		t.Errorf("invoice amounts %d/%d disagree with breakdown %d/%d",
			inv.Subtotal, inv.Total, breakdown.Subtotal, breakdown.Total)
	}
	if inv.Total != inv.Subtotal+inv.Tax {
		t.Errorf("Total = %d, want Subtotal %d + Tax %d", inv.Total, inv.Subtotal, inv.Tax)
	}

	if len(subs.upserted) != 1 {
		t.Fatalf("upserted %d subscriptions, want 1", len(subs.upserted))
	}
	advanced := subs.upserted[0]
	if !advanced.CurrentPeriodStart.Equal(time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("advanced PeriodStart = %v, want 2024-12-01", advanced.CurrentPeriodStart)
	}
	if !advanced.CurrentPeriodEnd.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("advanced PeriodEnd = %v, want 2025-01-01", advanced.CurrentPeriodEnd)
	}

	if len(notifier.dispatched) != 1 {
		t.Fatalf("dispatched %d notifications, want 1", len(notifier.dispatched))
	}
	if notifier.dispatched[0].Type != types.NotifyBillingWarning {
		t.Errorf("notification type = %s, want billing warning", notifier.dispatched[0].Type)
	}
}

func TestCycleRunner_SkipsUnelapsedPeriods(t *testing.T) {
	sub := elapsedSubscription("org_1", types.PlanStandard)
	sub.CurrentPeriodEnd = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	subs := &fakeSubSource{subs: []*types.Subscription{sub}}
	invoices := &fakeInvoiceWriter{}

	runner := newTestRunner(subs, &fakeCycleOrgs{}, &fakeCycleCounters{}, invoices, nil)

	result, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Skipped != 1 || result.Invoiced != 0 {
		t.Errorf("result = %+v, want 1 skipped", result)
	}
	if len(invoices.inserted) != 0 {
		t.Errorf("inserted %d invoices, want 0", len(invoices.inserted))
	}
}

func TestCycleRunner_FailureDoesNotAbortRun(t *testing.T) {
	broken := elapsedSubscription("org_missing", types.PlanStandard)
	healthy := elapsedSubscription("org_1", types.PlanFree)
	subs := &fakeSubSource{subs: []*types.Subscription{broken, healthy}}
	orgs := &fakeCycleOrgs{orgs: map[string]*types.Organization{
		"org_1": {ID: "org_1"},
	}}
	invoices := &fakeInvoiceWriter{}

	runner := newTestRunner(subs, orgs, &fakeCycleCounters{devices: 1, staff: 1}, invoices, nil)

	result, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Failed != 1 || result.Invoiced != 1 {
		t.Errorf("result = %+v, want 1 failed and 1 invoiced", result)
	}
	if len(invoices.inserted) != 1 || invoices.inserted[0].OrganizationID != "org_1" {
		t.Errorf("healthy organization was not invoiced")
	}
}

func TestCycleRunner_StreamErrorFailsRun(t *testing.T) {
	subs := &fakeSubSource{listErr: errors.New("connection refused")}
	runner := newTestRunner(subs, &fakeCycleOrgs{}, &fakeCycleCounters{}, &fakeInvoiceWriter{}, nil)

	if _, err := runner.Run(context.Background()); err == nil {
		t.Fatal("expected error, got nil")
	}
}

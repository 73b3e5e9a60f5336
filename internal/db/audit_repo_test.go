package db

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"carebase/internal/types"
)

// --- Mock Rows ---

type mockRows struct {
	data    [][]any
	idx     int
	closed  bool
	scanErr error
	errVal  error
}

func newMockRows(data [][]any) *mockRows {
	return &mockRows{data: data, idx: -1}
}

func (r *mockRows) Next() bool {
	if r.closed {
		return false
	}
	r.idx++
	return r.idx < len(r.data)
}

func (r *mockRows) Scan(dest ...any) error {
	if r.scanErr != nil {
		return r.scanErr
	}
	row := r.data[r.idx]
	for i, d := range dest {
		switch v := d.(type) {
		case *string:
			*v = row[i].(string)
		case **string:
			if row[i] == nil {
				*v = nil
			} else {
				s := row[i].(string)
				*v = &s
			}
		case *types.ActorType:
			*v = row[i].(types.ActorType)
		case *json.RawMessage:
			if row[i] == nil {
				*v = nil
			} else {
				*v = row[i].(json.RawMessage)
			}
		case *time.Time:
			*v = row[i].(time.Time)
		case *int:
			*v = row[i].(int)
		}
	}
	return nil
}

func (r *mockRows) Close()                                       { r.closed = true }
func (r *mockRows) Err() error                                   { return r.errVal }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }

func auditRow(id, action string, at time.Time) []any {
	return []any{
		id, "org_1", "stf_1", types.ActorTypeStaff, action,
		"res_1", "staff", nil, json.RawMessage(`{"name":"x"}`), at,
	}
}

// ============================================================
// Insert Tests
// ============================================================

func TestAuditRepository_Insert_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAuditRepository(db)
	ctx := context.Background()

	ev := &types.AuditEvent{
		ID:             "aud_1",
		OrganizationID: "org_1",
		Actor:          types.Actor{ID: "stf_1", Type: types.ActorTypeStaff, OrganizationID: "org_1"},
		Action:         types.AuditActionStaffCreated,
		ResourceID:     "stf_2",
		ResourceType:   "staff",
		NewValue:       json.RawMessage(`{"name":"田中"}`),
	}

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	err := repo.Insert(ctx, ev)
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestAuditRepository_Insert_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAuditRepository(db)
	ctx := context.Background()

	ev := &types.AuditEvent{
		ID:             "aud_1",
		OrganizationID: "org_1",
		Actor:          types.Actor{ID: "stf_1", Type: types.ActorTypeStaff},
		Action:         types.AuditActionLogin,
	}

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("db error"))

	err := repo.Insert(ctx, ev)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)

	db.AssertExpectations(t)
}

// ============================================================
// List Tests
// ============================================================

func TestAuditRepository_List_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAuditRepository(db)
	ctx := context.Background()

	t1 := time.Date(2024, 12, 2, 10, 0, 0, 0, time.UTC)
	t2 := time.Date(2024, 12, 1, 10, 0, 0, 0, time.UTC)
	rows := newMockRows([][]any{
		auditRow("aud_2", types.AuditActionStaffUpdated, t1),
		auditRow("aud_1", types.AuditActionStaffCreated, t2),
	})

	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(rows, nil)

	events, page, err := repo.List(ctx, types.AuditFilter{OrganizationID: "org_1"})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "aud_2", events[0].ID)
	assert.Equal(t, types.AuditActionStaffUpdated, events[0].Action)
	assert.Equal(t, "org_1", events[0].Actor.OrganizationID)
	assert.False(t, page.HasMore)

	db.AssertExpectations(t)
}

func TestAuditRepository_List_HasMore(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAuditRepository(db)
	ctx := context.Background()

	// limit 2 with 3 rows returned means another page exists.
	base := time.Date(2024, 12, 3, 10, 0, 0, 0, time.UTC)
	rows := newMockRows([][]any{
		auditRow("aud_3", types.AuditActionLogin, base),
		auditRow("aud_2", types.AuditActionLogin, base.Add(-time.Hour)),
		auditRow("aud_1", types.AuditActionLogin, base.Add(-2*time.Hour)),
	})

	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(rows, nil)

	filter := types.AuditFilter{
		OrganizationID: "org_1",
		Pagination:     types.PageInfo{Limit: 2},
	}
	events, page, err := repo.List(ctx, filter)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, events[1].Timestamp.Format(time.RFC3339Nano), page.NextCursor)

	db.AssertExpectations(t)
}

func TestAuditRepository_List_InvalidCursor(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAuditRepository(db)
	ctx := context.Background()

	filter := types.AuditFilter{
		OrganizationID: "org_1",
		Pagination:     types.PageInfo{NextCursor: "garbage"},
	}
	_, _, err := repo.List(ctx, filter)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeValidationInvalidField, appErr.Code)

	db.AssertNotCalled(t, "Query")
}

// ============================================================
// ForEach Tests
// ============================================================

func TestAuditRepository_ForEach_VisitsAllRows(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAuditRepository(db)
	ctx := context.Background()

	base := time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)
	rows := newMockRows([][]any{
		auditRow("aud_1", types.AuditActionStaffCreated, base),
		auditRow("aud_2", types.AuditActionStaffUpdated, base.Add(time.Hour)),
	})

	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(rows, nil)

	var visited []string
	err := repo.ForEach(ctx, types.AuditFilter{OrganizationID: "org_1"}, func(ev *types.AuditEvent) error {
		visited = append(visited, ev.ID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"aud_1", "aud_2"}, visited)

	db.AssertExpectations(t)
}

func TestAuditRepository_ForEach_StopsOnCallbackError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAuditRepository(db)
	ctx := context.Background()

	base := time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)
	rows := newMockRows([][]any{
		auditRow("aud_1", types.AuditActionStaffCreated, base),
		auditRow("aud_2", types.AuditActionStaffUpdated, base.Add(time.Hour)),
	})

	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(rows, nil)

	sentinel := errors.New("writer closed")
	var calls int
	err := repo.ForEach(ctx, types.AuditFilter{OrganizationID: "org_1"}, func(ev *types.AuditEvent) error {
		calls++
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)

	db.AssertExpectations(t)
}

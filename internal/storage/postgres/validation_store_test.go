package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"position-ledger/internal/domain"
	"position-ledger/internal/storage"
)

func createTestIssue(t *testing.T, typ domain.IssueType, positionID int64, detected int64) domain.IntegrityIssue {
	t.Helper()
	issue, err := domain.NewIntegrityIssue(typ, domain.SeverityHigh, "test "+string(typ), &positionID, nil,
		map[string]any{"expected_quantity": 4, "actual_quantity": 5}, detected)
	require.NoError(t, err)
	return issue
}

func TestValidationStore_SaveAndGetIssues(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewValidationStore(pool)
	positionID := createTestPosition(t, ctx, pool, "ACC1", "NQ", 1000)

	result := &domain.ValidationResult{
		PositionID:  &positionID,
		CheckType:   domain.CheckPosition,
		Status:      domain.ValidationFailed,
		Timestamp:   5000,
		CompletedAt: ptr(int64(5001)),
	}
	vid, err := store.SaveValidationWithIssues(ctx, result, []domain.IntegrityIssue{
		createTestIssue(t, domain.IssueQuantityMismatch, positionID, 5000),
		createTestIssue(t, domain.IssueTimestampAnomaly, positionID, 6000),
	})
	require.NoError(t, err)
	assert.Equal(t, vid, result.ID)
	assert.Equal(t, 2, result.IssueCount)

	issues, err := store.GetIntegrityIssues(ctx, domain.IssueFilter{PositionID: &positionID})
	require.NoError(t, err)
	require.Len(t, issues, 2)
	assert.Equal(t, domain.IssueTimestampAnomaly, issues[0].Type, "newest first")
	assert.Equal(t, vid, issues[0].ValidationID)
	assert.Equal(t, domain.ResolutionOpen, issues[0].Status)
	assert.NotEmpty(t, issues[0].Fingerprint)
	assert.EqualValues(t, 4, issues[1].Metadata["expected_quantity"])
	assert.Nil(t, issues[1].RepairDetails)

	limited, err := store.GetIntegrityIssues(ctx, domain.IssueFilter{Type: domain.IssueQuantityMismatch, Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, domain.IssueQuantityMismatch, limited[0].Type)

	latest, err := store.GetLatestValidation(ctx, positionID)
	require.NoError(t, err)
	assert.Equal(t, domain.ValidationFailed, latest.Status)
	assert.Equal(t, 2, latest.IssueCount)

	_, err = store.GetLatestValidation(ctx, 999999)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestValidationStore_ResolutionAndRepairInfo(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewValidationStore(pool)
	positionID := createTestPosition(t, ctx, pool, "ACC1", "NQ", 1000)

	_, err := store.SaveValidationWithIssues(ctx,
		&domain.ValidationResult{PositionID: &positionID, CheckType: domain.CheckPosition, Status: domain.ValidationFailed, Timestamp: 5000},
		[]domain.IntegrityIssue{createTestIssue(t, domain.IssueQuantityMismatch, positionID, 5000)},
	)
	require.NoError(t, err)

	issues, err := store.GetIntegrityIssues(ctx, domain.IssueFilter{})
	require.NoError(t, err)
	issue := issues[0]

	require.NoError(t, store.UpdateIssueRepairInfo(ctx, issue.ID, domain.RepairInfo{
		Method:      "quantity_recalculation",
		Successful:  true,
		AttemptedAt: 7000,
		Details:     map[string]any{"status": "success", "changes": []string{"total_quantity: 5 -> 4"}},
	}))
	require.NoError(t, issue.MarkResolved("auto_repair_quantity_recalculation", "total_quantity: 5 -> 4", 7000))
	require.NoError(t, store.UpdateIssueResolution(ctx, &issue))

	resolved, err := store.GetIntegrityIssues(ctx, domain.IssueFilter{Status: domain.ResolutionResolved})
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	r := resolved[0]
	assert.Equal(t, "auto_repair_quantity_recalculation", r.ResolutionMethod)
	require.NotNil(t, r.ResolvedAt)
	assert.Equal(t, int64(7000), *r.ResolvedAt)
	assert.True(t, r.RepairAttempted)
	require.NotNil(t, r.RepairSuccessful)
	assert.True(t, *r.RepairSuccessful)
	assert.Equal(t, "success", r.RepairDetails["status"])

	bad := issue
	bad.ResolvedAt = ptr(int64(1))
	assert.ErrorIs(t, store.UpdateIssueResolution(ctx, &bad), storage.ErrInvalidInput)

	missing := issue
	missing.ID = 999999
	assert.ErrorIs(t, store.UpdateIssueResolution(ctx, &missing), storage.ErrNotFound)
	assert.ErrorIs(t, store.UpdateIssueRepairInfo(ctx, 999999, domain.RepairInfo{}), storage.ErrNotFound)
}

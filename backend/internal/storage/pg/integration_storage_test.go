//go:build integration

package pg

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/examportal/trustcore/shared/domain"
	internal_errors "github.com/examportal/trustcore/shared/errors"
	"github.com/examportal/trustcore/shared/privacy"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegrationConcurrentAssignSameDay(t *testing.T) {
	truncate(t)
	ctx := context.Background()
	admin := createTestUser(t, "admin@portal.edu", domain.RoleAdmin, 0, 0, domain.StatusVerified, 0)
	faculty := createTestUser(t, "f@college.edu", domain.RoleFaculty, 1, 10, domain.StatusVerified, 0)
	day := time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC)

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := storage.InsertAssignment(ctx, domain.Assignment{
				Id: uuid.NewString(), ExamId: int64(100 + i), FacultyId: faculty, CollegeId: 2,
				ExamDate: day, ExamTime: "10:00", Duty: "external examiner", AssignedBy: admin, CreatedAt: time.Now().UTC(),
			}, nil)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case internal_errors.IsKind(err, internal_errors.KindAssignmentConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, conflicts)

	facts, err := storage.ConflictFacts(ctx, faculty, day)
	require.NoError(t, err)
	assert.True(t, facts.AssignedThatDay)
	assert.Equal(t, 1, facts.OpenAssignments)
}

func TestIntegrationEscalationIsIdempotent(t *testing.T) {
	truncate(t)
	ctx := context.Background()
	overdue := createTestUser(t, "old@college.edu", domain.RoleFaculty, 1, 10, domain.StatusPending, 72*time.Hour)
	createTestUser(t, "new@college.edu", domain.RoleFaculty, 1, 10, domain.StatusPending, 0)

	now := time.Now().UTC()
	cutoff := now.Add(-48 * time.Hour)

	changed, err := storage.EscalateOverdue(ctx, cutoff, now)
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.Equal(t, overdue, changed[0].Id)

	again, err := storage.EscalateOverdue(ctx, cutoff, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, again)

	u, wasChanged, err := storage.EscalateUser(ctx, overdue, cutoff, now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, wasChanged)
	require.NotNil(t, u.EscalatedAt)
	assert.WithinDuration(t, now, *u.EscalatedAt, time.Second)
}

func TestIntegrationVerifyScopedPending(t *testing.T) {
	truncate(t)
	ctx := context.Background()
	hod := createTestUser(t, "hod@college.edu", domain.RoleHod, 1, 10, domain.StatusVerified, 0)
	inDept := createTestUser(t, "a@college.edu", domain.RoleFaculty, 1, 10, domain.StatusPending, 0)
	createTestUser(t, "b@college.edu", domain.RoleFaculty, 1, 11, domain.StatusPending, 0)
	createTestUser(t, "c@college.edu", domain.RoleHod, 1, 10, domain.StatusPending, 0)

	scope := privacy.Scope(domain.Authority{UserId: hod, Role: domain.RoleHod, CollegeId: 1, DepartmentId: 10})
	pending, err := storage.UsersByStatus(ctx, domain.StatusPending, []domain.Role{domain.RoleFaculty}, scope)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, inDept, pending[0].Id)

	u, err := storage.VerifyUser(ctx, inDept, hod, "hash", time.Now().UTC(), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusVerified, u.Status)

	_, err = storage.VerifyUser(ctx, inDept, hod, "hash2", time.Now().UTC(), nil)
	assert.True(t, internal_errors.IsKind(err, internal_errors.KindDuplicateVerification))
}

func TestIntegrationBlacklistExpiry(t *testing.T) {
	truncate(t)
	ctx := context.Background()
	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	require.NoError(t, storage.BlacklistIP(ctx, domain.IPBlacklistEntry{IP: "1.1.1.1", Reason: "expired", BlacklistedAt: now, ExpiresAt: &past}))
	require.NoError(t, storage.BlacklistIP(ctx, domain.IPBlacklistEntry{IP: "2.2.2.2", Reason: "active", BlacklistedAt: now, ExpiresAt: &future}))
	require.NoError(t, storage.BlacklistIP(ctx, domain.IPBlacklistEntry{IP: "3.3.3.3", Reason: "forever", BlacklistedAt: now}))

	entries, err := storage.ActiveIPBlacklist(ctx, now)
	require.NoError(t, err)
	ips := make([]string, 0, len(entries))
	for _, e := range entries {
		ips = append(ips, e.IP)
	}
	assert.ElementsMatch(t, []string{"2.2.2.2", "3.3.3.3"}, ips)

	require.NoError(t, storage.RemoveIP(ctx, "2.2.2.2"))
	assert.True(t, internal_errors.IsNotFound(storage.RemoveIP(ctx, "2.2.2.2")))
}

func TestIntegrationAvailability(t *testing.T) {
	truncate(t)
	ctx := context.Background()
	faculty := createTestUser(t, "f@college.edu", domain.RoleFaculty, 1, 10, domain.StatusVerified, 0)
	day := time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC)

	require.NoError(t, storage.DeclareUnavailable(ctx, domain.AvailabilityRecord{FacultyId: faculty, Date: day, Reason: "conference"}))
	require.NoError(t, storage.DeclareUnavailable(ctx, domain.AvailabilityRecord{FacultyId: faculty, Date: day, Reason: "travel"}))

	facts, err := storage.ConflictFacts(ctx, faculty, day)
	require.NoError(t, err)
	assert.True(t, facts.DeclaredUnavailable)
	assert.False(t, facts.AssignedThatDay)

	records, err := storage.Availability(ctx, faculty, day.AddDate(0, 0, -1))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.SourceDeclaredUnavailable, records[0].Source)
	assert.Equal(t, "travel", records[0].Reason)
	assert.Equal(t, day, records[0].Date)
}

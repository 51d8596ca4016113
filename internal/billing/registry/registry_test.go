package registry

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	berrors "github.com/stocktally/stocktally/internal/errors"
	"github.com/stocktally/stocktally/pkg/entitlements"
	"github.com/stocktally/stocktally/pkg/plans"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestRegistry(t *testing.T) *TeamRegistry {
	t.Helper()
	dir := t.TempDir()
	reg, err := NewTeamRegistry(dir)
	if err != nil {
		t.Fatalf("NewTeamRegistry: %v", err)
	}
	reg.SetClock(func() time.Time { return testNow })
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

func createTeam(t *testing.T, reg *TeamRegistry) *Team {
	t.Helper()
	team := NewTeam("Acme Stock")
	if err := reg.Create(context.Background(), team); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return team
}

func TestGenerateTeamID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := GenerateTeamID()
		if !strings.HasPrefix(id, "team_") {
			t.Fatalf("expected prefix team_, got %q", id)
		}
		if len(id) != len("team_")+26 {
			t.Fatalf("unexpected id length %d (%q)", len(id), id)
		}
		if seen[id] {
			t.Fatalf("duplicate team ID: %s", id)
		}
		seen[id] = true
	}
}

func TestCreateAndGet(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	team := createTeam(t, reg)
	require.Equal(t, int64(1), team.Version)
	require.False(t, team.CreatedAt.IsZero())

	got, err := reg.Get(ctx, team.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Acme Stock", got.Name)
	assert.Equal(t, plans.Free, got.Plan)
	assert.False(t, got.IsOnTrial)
	assert.Nil(t, got.TrialPlan)
	assert.Nil(t, got.TrialEndsAt)
	assert.Equal(t, 1, got.MaxWarehouses)
	assert.Nil(t, got.StripeSubscriptionID)
	assert.Nil(t, got.BillingInterval)

	missing, err := reg.Get(ctx, "team_missing")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCreateRejectsInvalidTeam(t *testing.T) {
	reg := newTestRegistry(t)
	team := NewTeam("broken")
	team.IsOnTrial = true // trial plan and end date left unset

	err := reg.Create(context.Background(), team)
	require.Error(t, err)
	assert.True(t, errors.Is(err, berrors.ErrValidation))
}

func TestMutateRoundTripsAllFields(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	team := createTeam(t, reg)

	eventAt := testNow.Add(-time.Minute)
	month := BillingIntervalMonth
	updated, changed, err := reg.Mutate(ctx, team.ID, func(t *Team) error {
		t.Plan = plans.Pro
		t.ExtraUserSlots = 3
		t.StripeCustomerID = StringPtr("cus_1")
		t.StripeSubscriptionID = StringPtr("sub_1")
		t.StripeSubscriptionStatus = StringPtr("active")
		t.BillingInterval = &month
		t.LastStripeEventAt = &eventAt
		return nil
	})
	require.NoError(t, err)
	require.True(t, changed)
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, 10, updated.MaxWarehouses)

	got, err := reg.Get(ctx, team.ID)
	require.NoError(t, err)
	assert.Equal(t, plans.Pro, got.Plan)
	assert.Equal(t, 3, got.ExtraUserSlots)
	assert.Equal(t, 10, got.MaxWarehouses)
	assert.Equal(t, "cus_1", *got.StripeCustomerID)
	assert.Equal(t, "sub_1", *got.StripeSubscriptionID)
	assert.Equal(t, "active", *got.StripeSubscriptionStatus)
	assert.Equal(t, BillingIntervalMonth, *got.BillingInterval)
	assert.True(t, got.LastStripeEventAt.Equal(eventAt))
	assert.Equal(t, int64(2), got.Version)
}

func TestMutateNoChangeSkipsWrite(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	team := createTeam(t, reg)

	got, changed, err := reg.Mutate(ctx, team.ID, func(*Team) error { return ErrNoChange })
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, int64(1), got.Version)
}

func TestMutateUnknownTeam(t *testing.T) {
	reg := newTestRegistry(t)
	_, _, err := reg.Mutate(context.Background(), "team_nope", func(*Team) error { return nil })
	if !errors.Is(err, berrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMutateRejectsInvariantViolation(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	team := createTeam(t, reg)

	_, _, err := reg.Mutate(ctx, team.ID, func(t *Team) error {
		t.ExtraUserSlots = 2 // no active subscription
		return nil
	})
	require.Error(t, err)

	got, err := reg.Get(ctx, team.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.ExtraUserSlots)
	assert.Equal(t, int64(1), got.Version)
}

func TestUpdateRejectsStaleVersion(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	team := createTeam(t, reg)

	if _, _, err := reg.Mutate(ctx, team.ID, func(t *Team) error { t.Name = "renamed"; return nil }); err != nil {
		t.Fatalf("Mutate: %v", err)
	}

	stale := team.Clone()
	stale.Plan = plans.Pro
	ok, err := reg.update(ctx, stale, 1)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if ok {
		t.Fatal("expected stale version write to be rejected")
	}

	got, _ := reg.Get(ctx, team.ID)
	if got.Plan != plans.Free || got.Name != "renamed" {
		t.Fatalf("stale write leaked: plan=%s name=%s", got.Plan, got.Name)
	}
}

func TestMutateRetriesAfterConcurrentWrite(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	team := createTeam(t, reg)

	calls := 0
	got, changed, err := reg.Mutate(ctx, team.ID, func(t *Team) error {
		calls++
		if calls == 1 {
			// A concurrent writer lands between our read and our write.
			if _, _, err := reg.Mutate(ctx, t.ID, func(other *Team) error {
				other.Name = "concurrent"
				return nil
			}); err != nil {
				return err
			}
		}
		t.Plan = plans.Starter
		return nil
	})
	require.NoError(t, err)
	require.True(t, changed)
	assert.Equal(t, 2, calls)
	assert.Equal(t, plans.Starter, got.Plan)
	assert.Equal(t, "concurrent", got.Name, "retry must re-read the concurrent write")
	assert.Equal(t, int64(3), got.Version)
}

func TestMutateGivesUpAfterRepeatedConflicts(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	team := createTeam(t, reg)

	_, _, err := reg.Mutate(ctx, team.ID, func(t *Team) error {
		if _, _, err := reg.Mutate(ctx, t.ID, func(other *Team) error {
			other.Name += "x"
			return nil
		}); err != nil {
			return err
		}
		return nil
	})
	if !errors.Is(err, berrors.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
}

func TestStartTrial(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	team := createTeam(t, reg)

	got, decision, err := reg.StartTrial(ctx, team.ID, "pro", 0)
	require.NoError(t, err)
	require.True(t, decision.Allowed)
	assert.True(t, got.IsOnTrial)
	assert.Equal(t, plans.Pro, *got.TrialPlan)
	assert.True(t, got.TrialEndsAt.Equal(testNow.Add(entitlements.DefaultTrialDuration)))
	assert.Equal(t, 10, got.MaxWarehouses)
	assert.Equal(t, plans.Free, got.Plan)

	again, decision, err := reg.StartTrial(ctx, team.ID, "starter", 0)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, entitlements.TrialStartDeniedOnTrial, decision.Reason)
	assert.Equal(t, plans.Pro, *again.TrialPlan)
}

func TestStartTrialReturnsStoredTrialEnd(t *testing.T) {
	reg := newTestRegistry(t)
	reg.SetClock(func() time.Time { return testNow.Add(987654321 * time.Nanosecond) })
	ctx := context.Background()
	team := createTeam(t, reg)

	started, decision, err := reg.StartTrial(ctx, team.ID, "starter", 0)
	require.NoError(t, err)
	require.True(t, decision.Allowed)

	stored, err := reg.Get(ctx, team.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.TrialEndsAt)
	assert.Equal(t, *stored.TrialEndsAt, *started.TrialEndsAt)
	assert.True(t, started.TrialEndsAt.Equal(testNow.Add(entitlements.DefaultTrialDuration)))
}

func TestStartTrialDeniedWithActiveSubscription(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	team := createTeam(t, reg)

	_, _, err := reg.Mutate(ctx, team.ID, func(t *Team) error {
		t.Plan = plans.Starter
		t.StripeSubscriptionID = StringPtr("sub_1")
		t.StripeSubscriptionStatus = StringPtr("active")
		return nil
	})
	require.NoError(t, err)

	_, decision, err := reg.StartTrial(ctx, team.ID, "pro", 0)
	require.NoError(t, err)
	assert.Equal(t, entitlements.TrialStartDeniedSubscription, decision.Reason)
}

func TestListExpiredTrials(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	expired := createTeam(t, reg)
	running := createTeam(t, reg)
	createTeam(t, reg) // never on trial

	setTrial := func(id string, ends time.Time) {
		_, _, err := reg.Mutate(ctx, id, func(t *Team) error {
			p := plans.Pro
			t.IsOnTrial = true
			t.TrialPlan = &p
			t.TrialEndsAt = &ends
			return nil
		})
		require.NoError(t, err)
	}
	setTrial(expired.ID, testNow.Add(-time.Hour))
	setTrial(running.ID, testNow.Add(time.Hour))

	teams, err := reg.ListExpiredTrials(ctx, testNow)
	require.NoError(t, err)
	require.Len(t, teams, 1)
	assert.Equal(t, expired.ID, teams[0].ID)
}

func TestCountByEffectivePlan(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	createTeam(t, reg)
	trial := createTeam(t, reg)
	_, _, err := reg.StartTrial(ctx, trial.ID, "starter", 0)
	require.NoError(t, err)

	counts, err := reg.CountByEffectivePlan(ctx, testNow)
	require.NoError(t, err)
	assert.Equal(t, map[plans.Name]int{plans.Free: 1, plans.Starter: 1, plans.Pro: 0}, counts)

	later, err := reg.CountByEffectivePlan(ctx, testNow.Add(15*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, later[plans.Free])
}

func TestTeamValidate(t *testing.T) {
	pro := plans.Pro
	ends := testNow
	tests := []struct {
		name    string
		mutate  func(*Team)
		wantErr bool
	}{
		{name: "fresh team", mutate: func(*Team) {}},
		{name: "full trial", mutate: func(t *Team) { t.IsOnTrial, t.TrialPlan, t.TrialEndsAt = true, &pro, &ends }},
		{name: "partial trial", mutate: func(t *Team) { t.TrialPlan = &pro }, wantErr: true},
		{name: "negative slots", mutate: func(t *Team) { t.ExtraUserSlots = -1 }, wantErr: true},
		{name: "slots without subscription", mutate: func(t *Team) { t.ExtraUserSlots = 1 }, wantErr: true},
		{name: "slots on canceled", mutate: func(t *Team) {
			t.ExtraUserSlots = 1
			t.StripeSubscriptionID = StringPtr("sub_1")
			t.StripeSubscriptionStatus = StringPtr("canceled")
		}, wantErr: true},
		{name: "slots on trialing", mutate: func(t *Team) {
			t.ExtraUserSlots = 1
			t.StripeSubscriptionID = StringPtr("sub_1")
			t.StripeSubscriptionStatus = StringPtr("trialing")
		}},
		{name: "unknown plan", mutate: func(t *Team) { t.Plan = "enterprise" }, wantErr: true},
		{name: "zero warehouses", mutate: func(t *Team) { t.MaxWarehouses = 0 }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			team := NewTeam("x")
			tt.mutate(team)
			err := team.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	team := NewTeam("x")
	team.StripeSubscriptionID = StringPtr("sub_1")
	clone := team.Clone()
	*clone.StripeSubscriptionID = "sub_2"
	if *team.StripeSubscriptionID != "sub_1" {
		t.Fatalf("clone shares subscription id pointer")
	}
}

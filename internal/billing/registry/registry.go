package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	berrors "github.com/stocktally/stocktally/internal/errors"
	"github.com/stocktally/stocktally/pkg/entitlements"
	"github.com/stocktally/stocktally/pkg/plans"
)

// maxMutateAttempts bounds the read-compute-write retries on version conflicts.
const maxMutateAttempts = 3

// ErrNoChange is returned by a MutateFunc to leave the record untouched.
var ErrNoChange = errors.New("no change")

// MutateFunc computes the new state of a team in place from a fresh copy.
type MutateFunc func(t *Team) error

// TeamRegistry stores team entitlement records in SQLite.
type TeamRegistry struct {
	db  *sql.DB
	now func() time.Time
}

// NewTeamRegistry opens (or creates) the team registry database in dir.
func NewTeamRegistry(dir string) (*TeamRegistry, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create registry dir: %w", err)
	}

	dbPath := filepath.Join(dir, "teams.db")
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open team registry db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	r := &TeamRegistry{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := r.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

// SetClock overrides the registry's time source.
func (r *TeamRegistry) SetClock(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

func (r *TeamRegistry) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS teams (
		id                         TEXT PRIMARY KEY,
		name                       TEXT NOT NULL DEFAULT '',
		plan                       TEXT NOT NULL DEFAULT 'free',
		is_on_trial                INTEGER NOT NULL DEFAULT 0,
		trial_plan                 TEXT,
		trial_ends_at              INTEGER,
		max_warehouses             INTEGER NOT NULL DEFAULT 1,
		extra_user_slots           INTEGER NOT NULL DEFAULT 0,
		stripe_customer_id         TEXT,
		stripe_subscription_id     TEXT,
		stripe_subscription_status TEXT,
		billing_interval           TEXT,
		last_stripe_event_at       INTEGER,
		version                    INTEGER NOT NULL DEFAULT 1,
		created_at                 INTEGER NOT NULL,
		updated_at                 INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_teams_trial ON teams(is_on_trial, trial_ends_at);
	CREATE INDEX IF NOT EXISTS idx_teams_stripe_subscription_id ON teams(stripe_subscription_id);
	`
	if _, err := r.db.Exec(schema); err != nil {
		return fmt.Errorf("init team registry schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity (used by the readiness check).
func (r *TeamRegistry) Ping() error {
	return r.db.Ping()
}

// Close closes the underlying database connection.
func (r *TeamRegistry) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

const teamColumns = `
		id, name, plan, is_on_trial, trial_plan, trial_ends_at,
		max_warehouses, extra_user_slots,
		stripe_customer_id, stripe_subscription_id, stripe_subscription_status,
		billing_interval, last_stripe_event_at, version, created_at, updated_at`

// Create inserts a new team record at version 1.
func (r *TeamRegistry) Create(ctx context.Context, t *Team) error {
	if t == nil {
		return fmt.Errorf("team is nil")
	}
	if err := t.Validate(); err != nil {
		return berrors.Validation("create_team", err.Error())
	}
	now := r.now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	t.Version = 1

	_, err := r.db.ExecContext(ctx, `INSERT INTO teams (`+teamColumns+`
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, string(t.Plan), boolToInt(t.IsOnTrial), nullablePlan(t.TrialPlan), nullableTimeUnix(t.TrialEndsAt),
		t.MaxWarehouses, t.ExtraUserSlots,
		nullableString(t.StripeCustomerID), nullableString(t.StripeSubscriptionID), nullableString(t.StripeSubscriptionStatus),
		nullableInterval(t.BillingInterval), nullableTimeUnix(t.LastStripeEventAt), t.Version,
		t.CreatedAt.Unix(), t.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("create team: %w", err)
	}
	return nil
}

// Get retrieves a team by ID. Returns (nil, nil) when the team does not exist.
func (r *TeamRegistry) Get(ctx context.Context, id string) (*Team, error) {
	row := r.db.QueryRowContext(ctx, `SELECT`+teamColumns+` FROM teams WHERE id = ?`, id)
	return scanTeam(row)
}

// Mutate applies fn to a fresh copy of the team and writes the result in a
// single statement guarded by the record version. On a version conflict the
// record is re-read and fn re-applied, up to maxMutateAttempts times.
//
// The returned bool reports whether a write happened. When fn returns
// ErrNoChange the current record is returned unchanged.
func (r *TeamRegistry) Mutate(ctx context.Context, id string, fn MutateFunc) (*Team, bool, error) {
	for attempt := 0; attempt < maxMutateAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		current, err := r.Get(ctx, id)
		if err != nil {
			return nil, false, err
		}
		if current == nil {
			return nil, false, berrors.NotFound("mutate_team", id)
		}

		next := current.Clone()
		if err := fn(next); err != nil {
			if errors.Is(err, ErrNoChange) {
				return current, false, nil
			}
			return nil, false, err
		}
		next.ID = current.ID
		next.MaxWarehouses = entitlements.Resolve(next.TrialState(), r.now()).EffectiveMaxWarehouses
		if err := next.Validate(); err != nil {
			return nil, false, fmt.Errorf("validate team %s: %w", id, err)
		}

		ok, err := r.update(ctx, next, current.Version)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return next, true, nil
		}
	}
	return nil, false, berrors.New(berrors.ErrorTypeConflict, "mutate_team", id, "", nil)
}

// update writes t if the stored version still equals expected.
func (r *TeamRegistry) update(ctx context.Context, t *Team, expected int64) (bool, error) {
	t.UpdatedAt = r.now()
	t.Version = expected + 1

	res, err := r.db.ExecContext(ctx, `
		UPDATE teams SET
			name = ?, plan = ?, is_on_trial = ?, trial_plan = ?, trial_ends_at = ?,
			max_warehouses = ?, extra_user_slots = ?,
			stripe_customer_id = ?, stripe_subscription_id = ?, stripe_subscription_status = ?,
			billing_interval = ?, last_stripe_event_at = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		t.Name, string(t.Plan), boolToInt(t.IsOnTrial), nullablePlan(t.TrialPlan), nullableTimeUnix(t.TrialEndsAt),
		t.MaxWarehouses, t.ExtraUserSlots,
		nullableString(t.StripeCustomerID), nullableString(t.StripeSubscriptionID), nullableString(t.StripeSubscriptionStatus),
		nullableInterval(t.BillingInterval), nullableTimeUnix(t.LastStripeEventAt), t.Version, t.UpdatedAt.Unix(),
		t.ID, expected,
	)
	if err != nil {
		return false, fmt.Errorf("update team: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update team rows affected: %w", err)
	}
	return n == 1, nil
}

// StartTrial starts a trial of the requested plan when the team is eligible.
// A denied decision leaves the record untouched and is not an error.
func (r *TeamRegistry) StartTrial(ctx context.Context, id, requested string, duration time.Duration) (*Team, entitlements.TrialStartDecision, error) {
	var decision entitlements.TrialStartDecision
	team, _, err := r.Mutate(ctx, id, func(t *Team) error {
		decision = entitlements.EvaluateTrialStart(t.TrialState(), t.SubscriptionStatus(), requested)
		if !decision.Allowed {
			return ErrNoChange
		}
		plan := decision.Plan
		ends := entitlements.TrialWindow(r.now(), duration)
		t.IsOnTrial = true
		t.TrialPlan = &plan
		t.TrialEndsAt = &ends
		return nil
	})
	if err != nil {
		return nil, decision, err
	}
	return team, decision, nil
}

// List returns every team ordered by creation time.
func (r *TeamRegistry) List(ctx context.Context) ([]*Team, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT`+teamColumns+` FROM teams ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	defer rows.Close()
	return scanTeams(rows)
}

// ListExpiredTrials returns teams still flagged on trial whose window ended
// before now.
func (r *TeamRegistry) ListExpiredTrials(ctx context.Context, now time.Time) ([]*Team, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT`+teamColumns+`
		FROM teams WHERE is_on_trial = 1 AND trial_ends_at < ? ORDER BY trial_ends_at`, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("list expired trials: %w", err)
	}
	defer rows.Close()
	return scanTeams(rows)
}

// CountByEffectivePlan resolves every team at now and counts them per plan.
func (r *TeamRegistry) CountByEffectivePlan(ctx context.Context, now time.Time) (map[plans.Name]int, error) {
	teams, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	counts := make(map[plans.Name]int, len(plans.All()))
	for _, plan := range plans.All() {
		counts[plan] = 0
	}
	for _, t := range teams {
		counts[entitlements.EffectivePlanName(t.TrialState(), now)]++
	}
	return counts, nil
}

// scanner is an interface satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTeam(s scanner) (*Team, error) {
	var t Team
	var plan string
	var isOnTrial int
	var trialPlan, customerID, subscriptionID, subscriptionStatus, interval sql.NullString
	var trialEndsAt, lastEventAt sql.NullInt64
	var createdAt, updatedAt int64

	err := s.Scan(
		&t.ID, &t.Name, &plan, &isOnTrial, &trialPlan, &trialEndsAt,
		&t.MaxWarehouses, &t.ExtraUserSlots,
		&customerID, &subscriptionID, &subscriptionStatus,
		&interval, &lastEventAt, &t.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan team: %w", err)
	}

	t.Plan = plans.Name(plan)
	t.IsOnTrial = isOnTrial != 0
	if trialPlan.Valid {
		p := plans.Name(trialPlan.String)
		t.TrialPlan = &p
	}
	t.TrialEndsAt = timeFromNullUnix(trialEndsAt)
	t.LastStripeEventAt = timeFromNullUnix(lastEventAt)
	t.StripeCustomerID = stringFromNull(customerID)
	t.StripeSubscriptionID = stringFromNull(subscriptionID)
	t.StripeSubscriptionStatus = stringFromNull(subscriptionStatus)
	if interval.Valid {
		bi := BillingInterval(interval.String)
		t.BillingInterval = &bi
	}
	t.CreatedAt = time.Unix(createdAt, 0).UTC()
	t.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &t, nil
}

func scanTeams(rows *sql.Rows) ([]*Team, error) {
	var teams []*Team
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, err
		}
		teams = append(teams, t)
	}
	return teams, rows.Err()
}

func timeFromNullUnix(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	ts := time.Unix(v.Int64, 0).UTC()
	return &ts
}

func stringFromNull(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullableTimeUnix(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullablePlan(p *plans.Name) any {
	if p == nil {
		return nil
	}
	return string(*p)
}

func nullableInterval(bi *BillingInterval) any {
	if bi == nil {
		return nil
	}
	return string(*bi)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Package plans defines the static StockTally plan catalog: which limits and
// features each plan tier carries.
//
// The catalog is immutable. Accessors return copies so callers can never
// mutate the shared table.
package plans

import (
	"slices"
	"strings"
)

// Feature constants represent gated features in StockTally.
const (
	// Free plan features
	FeatureBasicTracking = "basic_tracking"

	// Starter plan features (everything in Free, plus:)
	FeatureExports  = "exports"
	FeatureInvoices = "invoices"
	FeatureHistory  = "history"

	// Pro plan features (everything in Starter, plus:)
	FeatureTeamMembers     = "team_members"
	FeaturePermissions     = "permissions"
	FeatureAdvancedReports = "advanced_reports"
	FeatureValueTracking   = "value_tracking"
)

// Name identifies a plan tier.
type Name string

const (
	Free    Name = "free"
	Starter Name = "starter"
	Pro     Name = "pro"
)

// FreeWarehouseFloor is the minimum warehouse limit any team resolves to.
const FreeWarehouseFloor = 1

// Limits describes what a plan allows.
type Limits struct {
	MaxWarehouses int      `json:"maxWarehouses"`
	Features      []string `json:"features"`
}

var freeFeatures = []string{
	FeatureBasicTracking,
}

var starterFeatures = appendFeatures(freeFeatures,
	FeatureExports,
	FeatureInvoices,
	FeatureHistory,
)

var proFeatures = appendFeatures(starterFeatures,
	FeatureTeamMembers,
	FeaturePermissions,
	FeatureAdvancedReports,
	FeatureValueTracking,
)

// appendFeatures returns a new slice with extra features appended (no mutation).
func appendFeatures(base []string, extra ...string) []string {
	result := make([]string, len(base), len(base)+len(extra))
	copy(result, base)
	return append(result, extra...)
}

var catalog = map[Name]Limits{
	Free:    {MaxWarehouses: FreeWarehouseFloor, Features: freeFeatures},
	Starter: {MaxWarehouses: 3, Features: starterFeatures},
	Pro:     {MaxWarehouses: 10, Features: proFeatures},
}

// extraUserSlotCaps is the maximum number of paid add-on seats per plan.
var extraUserSlotCaps = map[Name]int{
	Free:    0,
	Starter: 2,
	Pro:     3,
}

// Parse reports whether s names a known plan. Input is trimmed and lowercased.
func Parse(s string) (Name, bool) {
	name := Name(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := catalog[name]; !ok {
		return "", false
	}
	return name, true
}

// Normalize returns the plan named by s, or Free when s is empty or unknown.
// Entitlement lookups must never fail open to a paid tier.
func Normalize(s string) Name {
	if name, ok := Parse(s); ok {
		return name
	}
	return Free
}

// LimitsFor returns the limits for the given plan. Unknown plans get Free's limits.
func LimitsFor(plan Name) Limits {
	limits, ok := catalog[plan]
	if !ok {
		limits = catalog[Free]
	}
	return Limits{
		MaxWarehouses: limits.MaxWarehouses,
		Features:      slices.Clone(limits.Features),
	}
}

// MaxWarehouses is shorthand for LimitsFor(plan).MaxWarehouses.
func MaxWarehouses(plan Name) int {
	return LimitsFor(plan).MaxWarehouses
}

// HasFeature checks if a plan includes a specific feature.
func HasFeature(plan Name, feature string) bool {
	limits, ok := catalog[plan]
	if !ok {
		limits = catalog[Free]
	}
	return slices.Contains(limits.Features, feature)
}

// ExtraUserSlotCap returns how many add-on user seats the plan may carry.
func ExtraUserSlotCap(plan Name) int {
	return extraUserSlotCaps[plan]
}

// IsPaid reports whether the plan is a paid tier.
func IsPaid(plan Name) bool {
	return plan == Starter || plan == Pro
}

// All returns the known plans ordered from lowest to highest tier.
func All() []Name {
	return []Name{Free, Starter, Pro}
}

// DisplayName returns a human-readable name for the plan.
func DisplayName(plan Name) string {
	switch plan {
	case Free:
		return "Free"
	case Starter:
		return "Starter"
	case Pro:
		return "Pro"
	default:
		return "Unknown"
	}
}

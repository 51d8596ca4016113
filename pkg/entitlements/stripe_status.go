package entitlements

import "strings"

// Stripe subscription statuses the engine distinguishes.
const (
	StatusActive   = "active"
	StatusTrialing = "trialing"
	StatusCanceled = "canceled"
)

// NormalizeStatus trims and lowercases a provider status string.
func NormalizeStatus(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}

// IsActiveSubscriptionStatus reports whether a provider status grants paid
// entitlements. Unknown statuses fail closed.
func IsActiveSubscriptionStatus(status string) bool {
	switch NormalizeStatus(status) {
	case StatusActive, StatusTrialing:
		return true
	default:
		return false
	}
}

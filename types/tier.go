package types

// Tier identifies one of the three storage scopes, each with its own
// lifecycle and retention rules.
type Tier string

const (
	// TierSession holds per-session conversation state in Redis with a TTL.
	TierSession Tier = "session"

	// TierRolling holds the rolling activity window (default 7 days).
	TierRolling Tier = "rolling"

	// TierPermanent holds the user profile; it never auto-expires.
	TierPermanent Tier = "permanent"
)

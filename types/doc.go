// Package types provides unified type definitions for the memcore engine:
// the permanent user profile, daily activity records, session state,
// update events, memory tiers, structured errors, and token accounting.
package types

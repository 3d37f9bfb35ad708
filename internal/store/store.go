// Package store persists chat sessions and per-user settings.
//
// Two implementations share the same shape: Postgres for authenticated
// users and Memory for guest mode and tests. Sessions travel as JSON
// documents; the database indexes only identity and recency, so the message
// schema can evolve without migrations.
package store

import "errors"

var (
	// ErrSettingNotFound indicates no value exists for a settings key.
	ErrSettingNotFound = errors.New("setting not found")
)

// Well-known settings keys.
const (
	SettingTheme  = "theme"
	SettingAPIKey = "api_key"
	SettingUsage  = "usage_stats"
)

// Package config - defaults.go centralizes magic numbers and default values.
//
// DESIGN: All default values that appear in multiple places should be defined
// here. This makes configuration more maintainable and auditable.
package config

import "time"

// =============================================================================
// TOKEN ESTIMATION
// =============================================================================

// TokenEstimateRatio is the approximate number of characters per token.
// Used for estimating thinking tokens, which providers do not report.
const TokenEstimateRatio = 4

// =============================================================================
// STORE DEFAULTS
// =============================================================================

// DefaultRetentionDays is how long raw per-date record logs are kept.
// Daily aggregates are never swept.
const DefaultRetentionDays = 90

// =============================================================================
// QUERY BOUNDS
// =============================================================================

// MaxTrendDays caps the trend query window.
const MaxTrendDays = 90

// MaxLatestRecords caps the latest-records query.
const MaxLatestRecords = 100

// =============================================================================
// HTTP AND DELIVERY
// =============================================================================

// DefaultDashboardPort is the query API / dashboard listen port.
const DefaultDashboardPort = 3334

// DefaultAlertTimeout bounds one outbound alert delivery attempt. Delivery
// runs off the ingest path; a slow channel must never back up appends.
const DefaultAlertTimeout = 10 * time.Second

// DefaultServerReadTimeout for the query HTTP server.
const DefaultServerReadTimeout = 30 * time.Second

// DefaultServerWriteTimeout for the query HTTP server.
const DefaultServerWriteTimeout = 60 * time.Second

// =============================================================================
// LOGGING
// =============================================================================

// DefaultLogLevel is the zerolog level used when none is configured.
const DefaultLogLevel = "info"

package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Serializable transactions are retried this many times on conflict before
// the error is surfaced.
const TxMaxRetries = 3

// How far back the webhook correlation fallback scans for in-flight calls.
const CorrelationLookback = 5 * time.Minute

// Billing rounds elapsed connected time up to whole minutes.
const BillingMinuteSeconds = 60

package constants

import "time"

const (
	DatabaseTimeout = 5 * time.Second
	RequestTimeout  = 30 * time.Second
	WebhookTimeout  = 10 * time.Second
)

const (
	DBMaxOpenConns    = 100
	DBMaxIdleConns    = 10
	DBConnMaxLifetime = 1 * time.Hour
	DBMaxIdleTime     = 10 * time.Minute
	DBBusyTimeoutMs   = 5000
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	MaxTradeHistoryLimit = 100
	WebhookMessageLimit  = 2000
	HubSubscriberBuffer  = 32
)

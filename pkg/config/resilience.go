package config

import "time"

// BreakerConfig holds per-dependency circuit breaker settings.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit.
	FailureThreshold int

	// RecoveryTimeout is how long the circuit stays open before the next
	// call is allowed to probe.
	RecoveryTimeout time.Duration

	// SuccessThreshold is the number of consecutive successes in half-open
	// state required to close the circuit.
	SuccessThreshold int

	// CallTimeout bounds each wrapped call; expiry counts as a failure.
	CallTimeout time.Duration
}

// DefaultBreakerConfig returns the breaker settings used when no
// per-dependency override is configured.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: GetEnvInt("BREAKER_FAILURE_THRESHOLD", 5),
		RecoveryTimeout:  GetEnvDuration("BREAKER_RECOVERY_TIMEOUT", 30*time.Second),
		SuccessThreshold: GetEnvInt("BREAKER_SUCCESS_THRESHOLD", 2),
		CallTimeout:      GetEnvDuration("BREAKER_CALL_TIMEOUT", 10*time.Second),
	}
}

// RetryPolicy holds generic bounded-retry settings.
type RetryPolicy struct {
	MaxAttempts       int
	BaseDelay         time.Duration
	BackoffMultiplier float64
	MaxDelay          time.Duration
}

// DefaultRetryPolicy returns the retry settings shared by service
// initialization and the recovery retry strategy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       GetEnvInt("RETRY_MAX_ATTEMPTS", 3),
		BaseDelay:         GetEnvDuration("RETRY_BASE_DELAY", 1*time.Second),
		BackoffMultiplier: GetEnvFloat("RETRY_BACKOFF_MULTIPLIER", 2.0),
		MaxDelay:          GetEnvDuration("RETRY_MAX_DELAY", 30*time.Second),
	}
}

// PoolConfig holds primary data-store connection pool sizing.
type PoolConfig struct {
	PoolSize        int
	MaxOverflow     int
	PoolTimeout     time.Duration
	RecycleInterval time.Duration
}

// DefaultPoolConfig returns the connection pool settings.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		PoolSize:        GetEnvInt("DB_POOL_SIZE", 10),
		MaxOverflow:     GetEnvInt("DB_MAX_OVERFLOW", 15),
		PoolTimeout:     GetEnvDuration("DB_POOL_TIMEOUT", 5*time.Second),
		RecycleInterval: GetEnvDuration("DB_RECYCLE_INTERVAL", 30*time.Minute),
	}
}

// BudgetConfig holds external-API request budget settings.
type BudgetConfig struct {
	// MinuteLimit is the number of calls allowed per rolling minute.
	// Excess calls wait rather than fail.
	MinuteLimit int

	// DailyLimit is the hard daily call quota; once exhausted, calls fail
	// fast until the next UTC day.
	DailyLimit int

	// BackoffBase is the starting delay used when the provider signals a
	// rate limit without a reset hint.
	BackoffBase time.Duration

	// BackoffMax caps the rate-limit backoff delay.
	BackoffMax time.Duration
}

// DefaultBudgetConfig returns the budget settings for a named API,
// reading {PREFIX}_MINUTE_LIMIT and {PREFIX}_DAILY_LIMIT style variables.
func DefaultBudgetConfig(prefix string) BudgetConfig {
	return BudgetConfig{
		MinuteLimit: GetEnvInt(prefix+"_MINUTE_LIMIT", 50),
		DailyLimit:  GetEnvInt(prefix+"_DAILY_LIMIT", 1000),
		BackoffBase: GetEnvDuration(prefix+"_BACKOFF_BASE", 2*time.Second),
		BackoffMax:  GetEnvDuration(prefix+"_BACKOFF_MAX", 60*time.Second),
	}
}

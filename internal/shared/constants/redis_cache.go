package constants

import (
	"fmt"
	"time"
)

// Redis Cache Configuration
// This file centralizes all Redis keys and TTL values for the tablewait service
// Pattern: tablewait:{module}:{operation}:{identifier}:{params?}

// ================== CACHE TTL DURATIONS ==================

// Dynamic Data (Short TTL: changes frequently)
const (
	TTL_DYNAMIC_MEDIUM = 10 * time.Minute // 10 minutes - for historical stats ranges
	TTL_DYNAMIC_SHORT  = 5 * time.Minute  // 5 minutes - for slot snapshots
)

// Highly Dynamic (Micro TTL: real-time sensitive)
const (
	TTL_REALTIME_MEDIUM = 1 * time.Minute  // 1 minute - for dashboard stats
	TTL_REALTIME_SHORT  = 30 * time.Second // 30 seconds - for date locks
)

// ================== REDIS KEY PREFIXES ==================

const (
	CACHE_PREFIX = "tablewait"
)

// ================== WAITLIST MODULE ==================

// Waitlist Keys
const (
	CACHE_KEY_WAITLIST_STATS = CACHE_PREFIX + ":waitlist:stats"     // + :from:X:to:Y
	LOCK_KEY_WAITLIST_DATE   = CACHE_PREFIX + ":waitlist:lock:date:" // + YYYY-MM-DD
)

// Waitlist TTLs
const (
	TTL_WAITLIST_STATS     = TTL_REALTIME_MEDIUM // 1 minute
	TTL_WAITLIST_DATE_LOCK = TTL_REALTIME_SHORT  // 30 seconds
)

// ================== RATE LIMIT MODULE ==================

const (
	RATE_LIMIT_PREFIX = CACHE_PREFIX + ":ratelimit:" // + type:ip
)

// ================== KEY BUILDERS ==================

// BuildWaitlistStatsKey builds the cache key for a stats range
func BuildWaitlistStatsKey(fromDate, toDate string) string {
	return fmt.Sprintf("%s:from:%s:to:%s", CACHE_KEY_WAITLIST_STATS, fromDate, toDate)
}

// BuildWaitlistDateLockKey builds the lock key serializing matching for a date
func BuildWaitlistDateLockKey(date string) string {
	return LOCK_KEY_WAITLIST_DATE + date
}

// BuildRateLimitKey builds the sliding window key for a client
func BuildRateLimitKey(limitType, clientIP string) string {
	return fmt.Sprintf("%s%s:%s", RATE_LIMIT_PREFIX, limitType, clientIP)
}

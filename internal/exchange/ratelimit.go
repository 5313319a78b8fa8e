package exchange

import (
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var banUntilPattern = regexp.MustCompile(`\d{10,}`)

// RequestPriority tiers rate-limit requests so orders and cancels never
// starve behind market-data polling: each tier may spend only a fraction
// of the weight budget, and lower tiers throttle first.
type RequestPriority int

const (
	// PriorityCritical is orders, cancels, position closes — up to 95% of budget.
	PriorityCritical RequestPriority = iota
	// PriorityHigh is account/position reconciliation — up to 80%.
	PriorityHigh
	// PriorityNormal is market data for active trading — up to 60%.
	PriorityNormal
	// PriorityLow is background/non-urgent polling — up to 40%, throttled first.
	PriorityLow
)

func (p RequestPriority) String() string {
	switch p {
	case PriorityCritical:
		return "CRITICAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityNormal:
		return "NORMAL"
	case PriorityLow:
		return "LOW"
	default:
		return "UNKNOWN"
	}
}

// AcquireResult is the outcome of a non-blocking TryAcquire call.
type AcquireResult struct {
	Acquired     bool
	WaitTime     time.Duration
	Reason       string
	WeightBudget int
	CurrentUsage float64
}

// RateLimiter enforces spot trading's two exchange-reported budgets:
// used weight capped at 1000/min, and at most 10 orders per 10 s. A
// server-side 429/418 opens a circuit breaker that refuses requests until
// the ban lifts.
type RateLimiter struct {
	mu sync.Mutex

	log zerolog.Logger

	circuitOpen   bool
	circuitOpenAt time.Time
	banUntil      time.Time

	currentWeight int
	weightResetAt time.Time
	maxWeight     int

	orderCount    int
	orderResetAt  time.Time
	maxOrders     int
	orderWindow   time.Duration

	consecutiveErrors int
	lastErrorAt       time.Time
}

var spotEndpointWeights = map[string]int{
	"/api/v3/account":      10,
	"/api/v3/order":        1,
	"/api/v3/openOrders":   3,
	"/api/v3/allOrders":    10,
	"/api/v3/ticker/price": 1,
	"/api/v3/ticker/24hr":  1,
	"/api/v3/klines":       2,
	"/api/v3/depth":        5,
	"/api/v3/exchangeInfo": 10,
}

// NewRateLimiter returns a rate limiter pre-loaded with spot's documented
// budgets: 1000 weight/min, 10 orders/10s.
func NewRateLimiter(log zerolog.Logger) *RateLimiter {
	now := time.Now()
	return &RateLimiter{
		log:           log.With().Str("component", "exchange.RateLimiter").Logger(),
		maxWeight:     1000,
		weightResetAt: now.Add(time.Minute),
		maxOrders:     10,
		orderWindow:   10 * time.Second,
		orderResetAt:  now.Add(10 * time.Second),
	}
}

// TryAcquire atomically checks and, if granted, records one request
// against the weight budget and, for order endpoints, the 10s order
// window. This is the pre-flight check every signed REST call makes
// before being sent (resolves Open Question 3).
func (r *RateLimiter) TryAcquire(endpoint string, priority RequestPriority) AcquireResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	r.resetWindowsLocked(now)

	if r.circuitOpen {
		if now.Before(r.banUntil) {
			return AcquireResult{Acquired: false, WaitTime: time.Until(r.banUntil), Reason: "circuit_breaker_open", CurrentUsage: 100}
		}
		r.circuitOpen = false
		r.log.Info().Msg("rate limiter circuit breaker auto-closed")
	}

	weight := getEndpointWeight(endpoint)
	threshold := int(float64(r.maxWeight) * thresholdFor(priority))

	if r.currentWeight+weight > threshold {
		return AcquireResult{
			Acquired:     false,
			WaitTime:     waitUntil(r.weightResetAt),
			Reason:       fmt.Sprintf("weight_limit_exceeded_for_%s_priority", priority),
			WeightBudget: threshold - r.currentWeight,
			CurrentUsage: float64(r.currentWeight) / float64(r.maxWeight) * 100,
		}
	}

	if isOrderEndpoint(endpoint) && r.orderCount >= r.maxOrders {
		return AcquireResult{
			Acquired:     false,
			WaitTime:     waitUntil(r.orderResetAt),
			Reason:       "order_window_exceeded",
			WeightBudget: threshold - r.currentWeight,
			CurrentUsage: float64(r.currentWeight) / float64(r.maxWeight) * 100,
		}
	}

	r.currentWeight += weight
	if isOrderEndpoint(endpoint) {
		r.orderCount++
	}
	r.consecutiveErrors = 0

	return AcquireResult{
		Acquired:     true,
		WeightBudget: threshold - r.currentWeight,
		CurrentUsage: float64(r.currentWeight) / float64(r.maxWeight) * 100,
	}
}

func (r *RateLimiter) resetWindowsLocked(now time.Time) {
	if now.After(r.weightResetAt) {
		r.currentWeight = 0
		r.weightResetAt = now.Add(time.Minute)
	}
	if now.After(r.orderResetAt) {
		r.orderCount = 0
		r.orderResetAt = now.Add(r.orderWindow)
	}
}

func waitUntil(t time.Time) time.Duration {
	d := time.Until(t)
	if d < 0 {
		return 100 * time.Millisecond
	}
	return d
}

func thresholdFor(priority RequestPriority) float64 {
	switch priority {
	case PriorityCritical:
		return 0.95
	case PriorityHigh:
		return 0.80
	case PriorityNormal:
		return 0.60
	case PriorityLow:
		return 0.40
	default:
		return 0.50
	}
}

// RecordRateLimitError opens the circuit breaker after an exchange-side
// rate-limit rejection (HTTP 429/418), backing off exponentially unless
// the exchange gave an explicit ban-until timestamp.
func (r *RateLimiter) RecordRateLimitError(banUntilMs int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.consecutiveErrors++
	r.lastErrorAt = time.Now()

	var banUntil time.Time
	if banUntilMs > 0 {
		banUntil = time.UnixMilli(banUntilMs)
	} else {
		backoff := time.Duration(1<<uint(r.consecutiveErrors)) * time.Minute
		if backoff > 30*time.Minute {
			backoff = 30 * time.Minute
		}
		banUntil = time.Now().Add(backoff)
	}

	r.circuitOpen = true
	r.circuitOpenAt = time.Now()
	r.banUntil = banUntil

	r.log.Warn().Time("ban_until", banUntil).Int("consecutive_errors", r.consecutiveErrors).Msg("rate limiter circuit breaker opened")
}

// IsCircuitOpen reports whether the exchange has banned this client.
func (r *RateLimiter) IsCircuitOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.circuitOpen && time.Now().Before(r.banUntil)
}

// UpdateFromHeaders reconciles locally tracked weight with the
// exchange-reported X-MBX-USED-WEIGHT-1M header, taking the larger of
// the two so a restart or dropped request never under-counts.
func (r *RateLimiter) UpdateFromHeaders(usedWeight1m int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if usedWeight1m > r.currentWeight {
		r.currentWeight = usedWeight1m
	}
}

// Status is a point-in-time snapshot for dashboard display.
type Status struct {
	CircuitOpen   bool
	CurrentWeight int
	MaxWeight     int
	OrderCount    int
	MaxOrders     int
}

// Status returns a snapshot without mutating state.
func (r *RateLimiter) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Status{
		CircuitOpen:   r.circuitOpen,
		CurrentWeight: r.currentWeight,
		MaxWeight:     r.maxWeight,
		OrderCount:    r.orderCount,
		MaxOrders:     r.maxOrders,
	}
}

func getEndpointWeight(endpoint string) int {
	if w, ok := spotEndpointWeights[endpoint]; ok {
		return w
	}
	return 1
}

func isOrderEndpoint(endpoint string) bool {
	return endpoint == "/api/v3/order"
}

// ParseBanUntilFromError extracts a millisecond ban-until timestamp from
// a Binance-style rate-limit error message ("banned until 1766824120342").
func ParseBanUntilFromError(errMsg string) int64 {
	match := banUntilPattern.FindString(errMsg)
	if match == "" {
		return 0
	}
	banUntil, err := strconv.ParseInt(match, 10, 64)
	if err != nil {
		return 0
	}
	now := time.Now().UnixMilli()
	if banUntil > now && banUntil < now+int64(24*time.Hour/time.Millisecond) {
		return banUntil
	}
	return 0
}

// Package quota tracks per-channel daily usage with at-most-once-per-request
// atomic check-and-increment semantics.
package quota

import (
	"context"
	"log/slog"
	"sort"
	"time"
)

// Unlimited is the limit sentinel for channels outside the limited set.
const Unlimited = -1

// dayFormat keys counters by calendar date.
const dayFormat = "2006-01-02"

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed   bool `json:"allowed"`
	Usage     int  `json:"usage"`
	Limit     int  `json:"limit"`
	Remaining int  `json:"remaining"`
}

// CounterStore is the durable counter's single atomic primitive plus
// read-only and housekeeping access. IncrementIfBelow must serialize the
// read-check-increment per (channel, day) key: under concurrency the number
// of allowed increments can never exceed limit.
type CounterStore interface {
	IncrementIfBelow(ctx context.Context, channelID int, day string, limit int) (usage int, allowed bool, err error)
	Usage(ctx context.Context, channelID int, day string) (int, error)
	Prune(ctx context.Context, beforeDay string) (int64, error)
}

// Ledger gates limited channels against their daily budget. Channels
// outside the limited set are always admitted with the Unlimited sentinel.
type Ledger struct {
	store  CounterStore
	limits map[int]int
	now    func() time.Time
	logger *slog.Logger
}

// NewLedger creates a ledger where each channel in limitedChannels gets
// dailyLimit requests per calendar day.
func NewLedger(store CounterStore, limitedChannels []int, dailyLimit int, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	limits := make(map[int]int, len(limitedChannels))
	for _, ch := range limitedChannels {
		limits[ch] = dailyLimit
	}
	return &Ledger{
		store:  store,
		limits: limits,
		now:    time.Now,
		logger: logger,
	}
}

// Limited reports whether the channel is quota-gated at all.
func (l *Ledger) Limited(channelID int) bool {
	_, ok := l.limits[channelID]
	return ok
}

// LimitedChannels lists the quota-gated channels in ascending order.
func (l *Ledger) LimitedChannels() []int {
	channels := make([]int, 0, len(l.limits))
	for ch := range l.limits {
		channels = append(channels, ch)
	}
	sort.Ints(channels)
	return channels
}

// CheckAndIncrement admits or rejects one request for the channel today.
// If the counter store is unreachable the ledger fails open: chat stays
// available at the cost of possible over-admission that day. This is a
// deliberate availability-over-strictness tradeoff.
func (l *Ledger) CheckAndIncrement(ctx context.Context, channelID int) Decision {
	limit, ok := l.limits[channelID]
	if !ok {
		return Decision{Allowed: true, Limit: Unlimited, Remaining: Unlimited}
	}

	day := l.now().Format(dayFormat)
	usage, allowed, err := l.store.IncrementIfBelow(ctx, channelID, day, limit)
	if err != nil {
		l.logger.Warn("counter store unreachable, failing open", "channel", channelID, "error", err)
		return Decision{Allowed: true, Limit: limit, Remaining: limit}
	}

	if !allowed {
		return Decision{Allowed: false, Usage: usage, Limit: limit, Remaining: 0}
	}
	return Decision{Allowed: true, Usage: usage, Limit: limit, Remaining: limit - usage}
}

// Usage reads the current counter without incrementing.
func (l *Ledger) Usage(ctx context.Context, channelID int) Decision {
	limit, ok := l.limits[channelID]
	if !ok {
		return Decision{Allowed: true, Limit: Unlimited, Remaining: Unlimited}
	}

	day := l.now().Format(dayFormat)
	usage, err := l.store.Usage(ctx, channelID, day)
	if err != nil {
		l.logger.Warn("counter store unreachable", "channel", channelID, "error", err)
		return Decision{Allowed: true, Limit: limit, Remaining: limit}
	}
	remaining := max(0, limit-usage)
	return Decision{Allowed: usage < limit, Usage: usage, Limit: limit, Remaining: remaining}
}

// Prune deletes counters older than the given number of days. Historical
// rows are harmless, so pruning is optional housekeeping.
func (l *Ledger) Prune(ctx context.Context, keepDays int) (int64, error) {
	cutoff := l.now().AddDate(0, 0, -keepDays).Format(dayFormat)
	return l.store.Prune(ctx, cutoff)
}

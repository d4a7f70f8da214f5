package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultExitTTLMinutes is used when a hint carries no parseable TTL.
	DefaultExitTTLMinutes = 35
	// MinExitTTLMinutes is the floor every TTL is clamped to.
	MinExitTTLMinutes = 1
)

// ExitPlan is the engine's record of intended stop-loss/target/time-stop
// handling for one open position. Plans are treated as immutable values:
// every mutation copies the plan and swaps the store slot, so a callback
// attaching an order ID never races destructively with the sweep.
type ExitPlan struct {
	InstrumentKey string
	Qty           int32
	SLInitial     float64
	SLLive        float64 // Only ever moves up (toward breakeven for a long position)
	TPInitial     float64
	CreatedAt     time.Time
	ExpiresAt     time.Time
	SLOrderID     string // Set exactly once when the SL leg is placed
	TPOrderID     string // Set exactly once when the TP leg is placed
}

// Clone returns a shallow copy suitable for copy-on-write updates.
func (p *ExitPlan) Clone() *ExitPlan {
	c := *p
	return &c
}

// Protected reports whether both protective legs have been placed.
func (p *ExitPlan) Protected() bool {
	return p.SLOrderID != "" && p.TPOrderID != ""
}

// Expired reports whether the plan's time-stop has elapsed.
func (p *ExitPlan) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// ExitHint is the parsed form of the exit instruction the strategy layer
// embeds in a proposal's free-text reason. Once parsed it is the only
// representation used internally; nothing re-derives values from strings.
type ExitHint struct {
	StopLoss   float64
	TakeProfit float64
	TTLMinutes int
}

// exitHintRe matches "EXIT: SL=<v>, TP=<v>, TTL=<n>m" (case-insensitive).
// The TTL segment is optional; SL/TP are mandatory. The hint may be
// embedded anywhere in the reason text, with trailing text after it.
var exitHintRe = regexp.MustCompile(`(?i)EXIT:\s*SL=([^,]+),\s*TP=([^,]+)(?:,\s*TTL=([^,\s]+))?`)

// numericOnly strips everything except digits, '.' and '-' before parsing.
func numericOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ParseExitHint extracts an ExitHint from a proposal reason string.
// An unparsable or missing SL/TP aborts the whole parse; an unparsable
// TTL falls back to DefaultExitTTLMinutes; the TTL is clamped to at
// least MinExitTTLMinutes.
func ParseExitHint(reason string) (ExitHint, error) {
	m := exitHintRe.FindStringSubmatch(reason)
	if m == nil {
		return ExitHint{}, fmt.Errorf("no exit hint in reason %q", reason)
	}

	sl, err := strconv.ParseFloat(numericOnly(m[1]), 64)
	if err != nil {
		return ExitHint{}, fmt.Errorf("unparsable SL token %q: %w", m[1], err)
	}
	tp, err := strconv.ParseFloat(numericOnly(m[2]), 64)
	if err != nil {
		return ExitHint{}, fmt.Errorf("unparsable TP token %q: %w", m[2], err)
	}

	ttl := DefaultExitTTLMinutes
	if m[3] != "" {
		if v, err := strconv.Atoi(numericOnly(m[3])); err == nil {
			ttl = v
		}
	}
	if ttl < MinExitTTLMinutes {
		ttl = MinExitTTLMinutes
	}

	return ExitHint{StopLoss: sl, TakeProfit: tp, TTLMinutes: ttl}, nil
}

// NewExitPlan builds a plan from a parsed hint.
func NewExitPlan(instrumentKey string, qty int32, hint ExitHint, now time.Time) *ExitPlan {
	return &ExitPlan{
		InstrumentKey: instrumentKey,
		Qty:           qty,
		SLInitial:     hint.StopLoss,
		SLLive:        hint.StopLoss,
		TPInitial:     hint.TakeProfit,
		CreatedAt:     now,
		ExpiresAt:     now.Add(time.Duration(hint.TTLMinutes) * time.Minute),
	}
}

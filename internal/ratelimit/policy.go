package ratelimit

import (
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"window-limiter/internal/common/errors"
)

// MaxPolicySegments is the most windows a single policy string may declare.
const MaxPolicySegments = 3

var unitSeconds = map[byte]int64{
	's': 1,
	'm': 60,
	'h': 60 * 60,
	'd': 24 * 60 * 60,
}

// WindowSpec is one quota: at most MaxRequests events within the trailing Window.
type WindowSpec struct {
	MaxRequests int
	Window      time.Duration
}

// Seconds returns the window length in whole seconds.
func (w WindowSpec) Seconds() int64 {
	return int64(w.Window / time.Second)
}

// String renders the spec in policy syntax. Windows that are not exactly one
// unit long are written in seconds ("4/120s") and do not parse back.
func (w WindowSpec) String() string {
	secs := w.Seconds()
	for _, unit := range []byte{'s', 'm', 'h', 'd'} {
		if unitSeconds[unit] == secs {
			return strconv.Itoa(w.MaxRequests) + "/" + string(unit)
		}
	}
	return strconv.Itoa(w.MaxRequests) + "/" + strconv.FormatInt(secs, 10) + "s"
}

// Valid reports whether the spec describes a usable quota.
func (w WindowSpec) Valid() bool {
	return w.MaxRequests > 0 && w.Window >= time.Second && w.Window%time.Second == 0
}

// Policy is an ordered set of windows that all apply to the same request.
type Policy []WindowSpec

// MaxWindow returns the longest window, or zero for an empty policy.
func (p Policy) MaxWindow() time.Duration {
	if len(p) == 0 {
		return 0
	}
	return lo.Max(p.Durations())
}

// Durations lists the window lengths in policy order.
func (p Policy) Durations() []time.Duration {
	return lo.Map(p, func(w WindowSpec, _ int) time.Duration { return w.Window })
}

// String serialises the policy so that ParsePolicy(p.String()) yields p again
// for every policy ParsePolicy produced.
func (p Policy) String() string {
	return strings.Join(lo.Map(p, func(w WindowSpec, _ int) string { return w.String() }), ";")
}

// MustParsePolicy is like ParsePolicy but panics on error. Intended for
// policies that are compile-time constants.
func MustParsePolicy(s string) Policy {
	p, err := ParsePolicy(s)
	if err != nil {
		panic(err)
	}
	return p
}

// ParsePolicy parses strings such as "5/m;20/h;50/d": one to three
// semicolon-joined segments of a positive count, a slash and one of s, m, h, d.
// Every failure is an errors.ErrTypeInvalidPolicy error.
func ParsePolicy(s string) (Policy, error) {
	if s == "" {
		return nil, errors.InvalidPolicyError(s, "policy is empty")
	}

	segments := strings.Split(s, ";")
	if len(segments) > MaxPolicySegments {
		return nil, errors.InvalidPolicyError(s, "at most 3 segments are allowed")
	}

	policy := make(Policy, 0, len(segments))
	for _, segment := range segments {
		spec, reason := parseSegment(segment)
		if reason != "" {
			return nil, errors.InvalidPolicyError(s, reason).WithContext("segment", segment)
		}
		policy = append(policy, spec)
	}
	return policy, nil
}

func parseSegment(segment string) (WindowSpec, string) {
	slash := strings.IndexByte(segment, '/')
	if slash < 0 {
		return WindowSpec{}, "expected <count>/<unit>, like 5/s, 10/m, 20/h or 30/d"
	}

	count, unit := segment[:slash], segment[slash+1:]
	if count == "" || !allDigits(count) {
		return WindowSpec{}, "count must be a positive integer"
	}
	if len(unit) != 1 {
		return WindowSpec{}, "unit must be one of s, m, h, d"
	}
	seconds, ok := unitSeconds[unit[0]]
	if !ok {
		return WindowSpec{}, "unit must be one of s, m, h, d"
	}

	n, err := strconv.Atoi(count)
	if err != nil {
		return WindowSpec{}, "count is out of range"
	}
	if n == 0 {
		return WindowSpec{}, "count must be greater than zero"
	}

	return WindowSpec{MaxRequests: n, Window: time.Duration(seconds) * time.Second}, ""
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

package eventid

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// FreshnessWindow is how long an event id stays acceptable after creation
	FreshnessWindow = 24 * time.Hour

	// SkewTolerance is how far in the future an event may be stamped before it is rejected
	SkewTolerance = 5 * time.Minute
)

// Freshness is the verdict of a replay-window check
type Freshness int

const (
	Fresh Freshness = iota
	Expired
	ClockSkewSuspected
)

func (f Freshness) String() string {
	switch f {
	case Fresh:
		return "fresh"
	case Expired:
		return "expired"
	case ClockSkewSuspected:
		return "clock_skew_suspected"
	default:
		return "unknown"
	}
}

var (
	// ErrMalformed is returned when an id is not "{epochMillis}-{uuid}"
	ErrMalformed = errors.New("malformed client event id")

	// ErrExpired is returned when an event is older than the freshness window
	ErrExpired = errors.New("client event expired")

	// ErrClockSkew is returned when an event is stamped too far in the future
	ErrClockSkew = errors.New("client event timestamp is in the future")
)

// New generates a client event id stamped with now
func New(now time.Time) string {
	return fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.New().String())
}

// Parse splits an id into its creation instant and random part
func Parse(id string) (time.Time, uuid.UUID, error) {
	millisPart, uuidPart, ok := strings.Cut(id, "-")
	if !ok {
		return time.Time{}, uuid.Nil, ErrMalformed
	}

	millis, err := strconv.ParseInt(millisPart, 10, 64)
	if err != nil || millis <= 0 {
		return time.Time{}, uuid.Nil, ErrMalformed
	}

	u, err := uuid.Parse(uuidPart)
	if err != nil {
		return time.Time{}, uuid.Nil, ErrMalformed
	}

	return time.UnixMilli(millis).UTC(), u, nil
}

// CreatedAt returns the creation instant embedded in id
func CreatedAt(id string) (time.Time, error) {
	created, _, err := Parse(id)
	return created, err
}

// Window is a replay window; the zero value falls back to the package defaults
type Window struct {
	Freshness time.Duration
	Skew      time.Duration
}

// DefaultWindow is the window shared by the device and the server
var DefaultWindow = Window{Freshness: FreshnessWindow, Skew: SkewTolerance}

func (w Window) normalized() Window {
	if w.Freshness <= 0 {
		w.Freshness = FreshnessWindow
	}
	if w.Skew <= 0 {
		w.Skew = SkewTolerance
	}
	return w
}

// Classify applies the window rules to a raw instant
func (w Window) Classify(at, now time.Time) Freshness {
	w = w.normalized()
	if at.After(now.Add(w.Skew)) {
		return ClockSkewSuspected
	}
	if now.Sub(at) > w.Freshness {
		return Expired
	}
	return Fresh
}

// ReplayDeadline is when an event created at created and first seen at seen can no longer be accepted.
// Counting from the later of the two keeps a future-stamped event covered for its whole window.
func (w Window) ReplayDeadline(created, seen time.Time) time.Time {
	w = w.normalized()
	start := created
	if seen.After(start) {
		start = seen
	}
	return start.Add(w.Freshness + w.Skew)
}

// ValidateFreshness classifies id against the window at now
func (w Window) ValidateFreshness(id string, now time.Time) (Freshness, error) {
	created, _, err := Parse(id)
	if err != nil {
		return Expired, err
	}
	return w.Classify(created, now), nil
}

// Check is ValidateFreshness folded into a single error
func (w Window) Check(id string, now time.Time) error {
	freshness, err := w.ValidateFreshness(id, now)
	if err != nil {
		return err
	}
	return freshness.Err()
}

// CheckInstant is Classify folded into a single error
func (w Window) CheckInstant(at, now time.Time) error {
	return w.Classify(at, now).Err()
}

// ValidateFreshness classifies id against the default replay window at now
func ValidateFreshness(id string, now time.Time) (Freshness, error) {
	return DefaultWindow.ValidateFreshness(id, now)
}

// Classify applies the default window rules to a raw instant
func Classify(at, now time.Time) Freshness {
	return DefaultWindow.Classify(at, now)
}

// Check validates id against the default window
func Check(id string, now time.Time) error {
	return DefaultWindow.Check(id, now)
}

// CheckInstant validates a raw instant against the default window
func CheckInstant(at, now time.Time) error {
	return DefaultWindow.CheckInstant(at, now)
}

// Err maps a verdict to its sentinel error, nil when fresh
func (f Freshness) Err() error {
	switch f {
	case Expired:
		return ErrExpired
	case ClockSkewSuspected:
		return ErrClockSkew
	default:
		return nil
	}
}

package entitlement

import (
	"fmt"
	"strings"
	"time"
)

// Feature identifies a metered AI tool.
type Feature string

const (
	FeatureChat            Feature = "CHAT"
	FeatureCodeAssistant   Feature = "CODE_ASSISTANT"
	FeatureImageGeneration Feature = "IMAGE_GENERATION"
	FeatureVideoGeneration Feature = "VIDEO_GENERATION"
	FeatureMusicGeneration Feature = "MUSIC_GENERATION"
	FeatureContentWriter   Feature = "CONTENT_WRITER"
	FeatureTranslation     Feature = "TRANSLATION"
	FeatureLegalDocument   Feature = "LEGAL_DOCUMENT"
)

// Features lists every metered feature in display order.
var Features = []Feature{
	FeatureChat,
	FeatureCodeAssistant,
	FeatureImageGeneration,
	FeatureVideoGeneration,
	FeatureMusicGeneration,
	FeatureContentWriter,
	FeatureTranslation,
	FeatureLegalDocument,
}

func (f Feature) String() string { return string(f) }

func (f Feature) Valid() bool {
	for _, known := range Features {
		if f == known {
			return true
		}
	}
	return false
}

// ParseFeature accepts the canonical name in any case, with '-' or '_'.
func ParseFeature(s string) (Feature, error) {
	f := Feature(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")))
	if !f.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownFeature, s)
	}
	return f, nil
}

// Status is the local subscription state.
type Status string

const (
	StatusIncomplete Status = "INCOMPLETE"
	StatusTrialing   Status = "TRIALING"
	StatusActive     Status = "ACTIVE"
	StatusPastDue    Status = "PAST_DUE"
	StatusCancelled  Status = "CANCELLED"
	StatusExpired    Status = "EXPIRED"
)

// StatusNone stands for "no subscription record yet" in transition tables.
const StatusNone Status = ""

func (s Status) String() string {
	if s == StatusNone {
		return "none"
	}
	return string(s)
}

func (s Status) Valid() bool {
	switch s {
	case StatusIncomplete, StatusTrialing, StatusActive, StatusPastDue, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// ParseStatus maps a stored status string back to a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if st == "CANCELED" {
		st = StatusCancelled
	}
	if !st.Valid() {
		return StatusNone, fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
	return st, nil
}

// Provider names the payment provider that owns a subscription.
type Provider string

const (
	ProviderPayPal Provider = "paypal"
	ProviderStripe Provider = "stripe"
	ProviderPaddle Provider = "paddle"
)

func (p Provider) Valid() bool {
	switch p {
	case ProviderPayPal, ProviderStripe, ProviderPaddle:
		return true
	}
	return false
}

func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, s)
	}
	return p, nil
}

// Subscription is the single subscription record a user may have.
type Subscription struct {
	UserID           string
	Provider         Provider
	SubscriptionID   string // empty until the first purchase
	PlanID           string
	Status           Status
	CurrentPeriodEnd *time.Time
	LastEventAt      *time.Time // provider timestamp of the newest applied event
	CreatedAt        time.Time
	UpdatedAt        time.Time
	CancelledAt      *time.Time
}

// EntitledAt reports whether s grants unlimited use at now.
// The period end is exclusive: now must be strictly before end+grace.
func (s *Subscription) EntitledAt(now time.Time, grace time.Duration) bool {
	if s == nil || s.Status != StatusActive || s.CurrentPeriodEnd == nil {
		return false
	}
	return s.CurrentPeriodEnd.Add(grace).After(now)
}

// LapsedAt reports whether a paying status outlived its period plus grace.
func (s *Subscription) LapsedAt(now time.Time, grace time.Duration) bool {
	if s == nil || s.CurrentPeriodEnd == nil {
		return false
	}
	switch s.Status {
	case StatusActive, StatusPastDue, StatusTrialing:
		return !s.CurrentPeriodEnd.Add(grace).After(now)
	}
	return false
}

// Usage is a counter for one (user, feature) pair inside one usage window.
type Usage struct {
	UserID      string
	Feature     Feature
	Count       int64
	PeriodStart time.Time
	UpdatedAt   time.Time
}

// FeatureUsage is the per-feature line of a dashboard summary.
type FeatureUsage struct {
	Feature   Feature `json:"feature"`
	Used      int64   `json:"used"`
	Limit     int64   `json:"limit"`
	Remaining int64   `json:"remaining"`
}

// Summary describes a user's plan and free-tier consumption.
type Summary struct {
	UserID       string         `json:"user_id"`
	Pro          bool           `json:"pro"`
	Subscription *Subscription  `json:"-"`
	WindowStart  time.Time      `json:"window_start"`
	WindowEnd    *time.Time     `json:"window_end,omitempty"`
	Features     []FeatureUsage `json:"features"`
}

// Decision explains an entitlement check.
type Decision struct {
	Allowed bool
	Pro     bool
	Used    int64
	Limit   int64
}

package access

import (
	"context"
	"strings"
	"time"
)

type Tier string

const (
	TierFree      Tier = "Free"
	TierStandard  Tier = "Standard"
	TierAllAccess Tier = "All-Access"
)

// ParseTier accepts the stored tier names case-insensitively; anything
// unrecognised is Free.
func ParseTier(s string) Tier {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "standard":
		return TierStandard
	case "all-access", "all_access", "allaccess":
		return TierAllAccess
	default:
		return TierFree
	}
}

// Subscription is the resolved tier value consumed from billing.
type Subscription struct {
	UserID          string     `json:"user_id"`
	Tier            Tier       `json:"tier"`
	CertificationID string     `json:"certification_id,omitempty"` // Standard only
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
}

// Effective returns the tier in force at now. Expired subscriptions are Free.
func (s Subscription) Effective(now time.Time) Tier {
	if s.ExpiresAt != nil && !now.Before(*s.ExpiresAt) {
		return TierFree
	}
	switch s.Tier {
	case TierStandard, TierAllAccess:
		return s.Tier
	}
	return TierFree
}

type Decision string

const (
	Denied       Decision = "denied"
	TrialOnly    Decision = "trial_only"
	StandardFull Decision = "standard_full"
)

// Capability is what callers check instead of comparing plan names.
type Capability string

const (
	StartStandard Capability = "start:standard"
	StartTrial    Capability = "start:trial"
	StartCustom   Capability = "start:custom"
	ViewResources Capability = "resources:view"
)

// Authorize is the pure tier decision for one certification.
func Authorize(sub Subscription, certificationID string, now time.Time) Decision {
	if strings.TrimSpace(certificationID) == "" {
		return Denied
	}
	switch sub.Effective(now) {
	case TierAllAccess:
		return StandardFull
	case TierStandard:
		if sub.CertificationID != "" && sub.CertificationID == certificationID {
			return StandardFull
		}
		return TrialOnly
	default:
		return TrialOnly
	}
}

// Grant is an Access Gate outcome: the decision plus the capabilities it carries.
type Grant struct {
	Decision     Decision     `json:"decision"`
	Tier         Tier         `json:"tier"`
	Capabilities []Capability `json:"capabilities"`
}

func (g Grant) Has(c Capability) bool {
	for _, have := range g.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// Capabilities expands a decision. Custom sessions are an All-Access feature.
func Capabilities(sub Subscription, certificationID string, now time.Time) Grant {
	d := Authorize(sub, certificationID, now)
	tier := sub.Effective(now)
	g := Grant{Decision: d, Tier: tier, Capabilities: []Capability{}}
	switch d {
	case StandardFull:
		g.Capabilities = append(g.Capabilities, StartStandard, StartTrial, ViewResources)
		if tier == TierAllAccess {
			g.Capabilities = append(g.Capabilities, StartCustom)
		}
	case TrialOnly:
		g.Capabilities = append(g.Capabilities, StartTrial)
	}
	return g
}

// SubscriptionSource is the external subscription store.
type SubscriptionSource interface {
	GetSubscription(ctx context.Context, userID string) (Subscription, error)
}

// Warner receives lookup failures; *logger.Logger satisfies it.
type Warner interface {
	Warn(msg string, keysAndValues ...interface{})
}

// Gate resolves a user's grant for a certification. A failed lookup never
// fails open: it resolves as Free.
type Gate struct {
	Source SubscriptionSource
	Log    Warner
	Now    func() time.Time
}

func NewGate(src SubscriptionSource, log Warner) *Gate {
	return &Gate{Source: src, Log: log, Now: time.Now}
}

func (g *Gate) Resolve(ctx context.Context, userID, certificationID string) Grant {
	now := time.Now()
	if g.Now != nil {
		now = g.Now()
	}
	sub := Subscription{UserID: userID, Tier: TierFree}
	if g.Source != nil && userID != "" {
		got, err := g.Source.GetSubscription(ctx, userID)
		if err != nil {
			if g.Log != nil {
				g.Log.Warn("subscription lookup failed; treating as Free", "user_id", userID, "error", err)
			}
		} else {
			sub = got
		}
	}
	return Capabilities(sub, certificationID, now)
}

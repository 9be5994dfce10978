package access

import (
	"strings"

	"github.com/revai/concierge/models"
	"github.com/revai/concierge/services"
)

// Capability names what a request needs to be allowed
type Capability string

const (
	// CapabilityAuthenticated needs a valid session only
	CapabilityAuthenticated Capability = "authenticated"
	// CapabilityActiveSubscription needs an active or trialing subscription
	CapabilityActiveSubscription Capability = "requires-active-subscription"

	featurePrefix = "feature:"
)

// Plan-gated capabilities
var (
	CapabilityAIReplies       = FeatureCapability(models.FeatureAIReplies)
	CapabilityAnalytics       = FeatureCapability(models.FeatureAnalytics)
	CapabilityCustomTone      = FeatureCapability(models.FeatureCustomTone)
	CapabilityPrioritySupport = FeatureCapability(models.FeaturePrioritySupport)
)

var allPlans = []models.Plan{models.PlanFree, models.PlanBasic, models.PlanPro, models.PlanEnterprise}

// FeatureCapability returns the capability gating a plan feature
func FeatureCapability(f models.Feature) Capability {
	return Capability(featurePrefix + string(f))
}

// ParseCapability validates a capability name
func ParseCapability(s string) (Capability, error) {
	c := Capability(strings.TrimSpace(s))
	switch c {
	case CapabilityAuthenticated, CapabilityActiveSubscription:
		return c, nil
	}
	if f, ok := c.Feature(); ok && knownFeature(f) {
		return c, nil
	}
	return "", services.ErrInvalidCapability.WithDetail("capability", s)
}

// Feature returns the plan feature a feature capability gates
func (c Capability) Feature() (models.Feature, bool) {
	name, ok := strings.CutPrefix(string(c), featurePrefix)
	if !ok || name == "" {
		return "", false
	}
	return models.Feature(name), true
}

// RequiresBilling reports whether the capability depends on subscription state
func (c Capability) RequiresBilling() bool {
	return c != CapabilityAuthenticated
}

// grantedBy reports whether the snapshot grants the capability
func (c Capability) grantedBy(snap *models.SubscriptionSnapshot) bool {
	switch c {
	case CapabilityAuthenticated:
		return true
	case CapabilityActiveSubscription:
		return snap != nil && snap.Entitled()
	}
	f, ok := c.Feature()
	if !ok || snap == nil {
		return false
	}
	return snap.Entitled() && snap.Plan.Includes(f)
}

func knownFeature(f models.Feature) bool {
	for _, p := range allPlans {
		if p.Includes(f) {
			return true
		}
	}
	return false
}

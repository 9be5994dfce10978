package models

// Plan is a subscription tier
type Plan string

const (
	PlanFree       Plan = "free"
	PlanBasic      Plan = "basic"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

// Feature is a plan-gated product capability
type Feature string

const (
	FeatureReviewManagement Feature = "review-management"
	FeatureManualReplies    Feature = "manual-replies"
	FeatureAIReplies        Feature = "ai-replies"
	FeatureLineNotify       Feature = "line-notifications"
	FeatureCustomTone       Feature = "custom-tone"
	FeatureAnalytics        Feature = "analytics"
	FeaturePrioritySupport  Feature = "priority-support"
	FeatureCustomIntegrate  Feature = "custom-integrations"
)

// PlanLimits describes the quotas and features granted by a plan
type PlanLimits struct {
	MaxLocations         int       `json:"max_locations"`
	MaxReviewsPerMonth   int       `json:"max_reviews_per_month"`
	MaxAIRepliesPerMonth int       `json:"max_ai_replies_per_month"`
	MonthlyPriceJPY      int       `json:"monthly_price_jpy"`
	Features             []Feature `json:"features"`
}

var planLimits = map[Plan]PlanLimits{
	PlanFree: {
		MaxLocations:         1,
		MaxReviewsPerMonth:   50,
		MaxAIRepliesPerMonth: 20,
		MonthlyPriceJPY:      0,
		Features:             []Feature{FeatureReviewManagement, FeatureManualReplies},
	},
	PlanBasic: {
		MaxLocations:         3,
		MaxReviewsPerMonth:   200,
		MaxAIRepliesPerMonth: 100,
		MonthlyPriceJPY:      4900,
		Features:             []Feature{FeatureReviewManagement, FeatureAIReplies, FeatureLineNotify},
	},
	PlanPro: {
		MaxLocations:         10,
		MaxReviewsPerMonth:   1000,
		MaxAIRepliesPerMonth: 500,
		MonthlyPriceJPY:      14900,
		Features: []Feature{
			FeatureReviewManagement, FeatureAIReplies, FeatureLineNotify,
			FeatureCustomTone, FeatureAnalytics,
		},
	},
	PlanEnterprise: {
		MaxLocations:         50,
		MaxReviewsPerMonth:   5000,
		MaxAIRepliesPerMonth: 2500,
		MonthlyPriceJPY:      49900,
		Features: []Feature{
			FeatureReviewManagement, FeatureAIReplies, FeatureLineNotify,
			FeatureCustomTone, FeatureAnalytics, FeaturePrioritySupport, FeatureCustomIntegrate,
		},
	},
}

// Valid reports whether the plan is known
func (p Plan) Valid() bool {
	_, ok := planLimits[p]
	return ok
}

// Limits returns the limits for the plan. Unknown plans get the free tier.
func (p Plan) Limits() PlanLimits {
	if l, ok := planLimits[p]; ok {
		return l
	}
	return planLimits[PlanFree]
}

// Includes reports whether the plan grants the feature
func (p Plan) Includes(f Feature) bool {
	for _, have := range p.Limits().Features {
		if have == f {
			return true
		}
	}
	return false
}

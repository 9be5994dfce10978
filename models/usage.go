package models

import "time"

// UsageType is a metered action counted against a monthly plan quota
type UsageType string

const (
	UsageReview  UsageType = "review"
	UsageAIReply UsageType = "ai_reply"
)

// UsageTypes lists every metered action
var UsageTypes = []UsageType{UsageReview, UsageAIReply}

// Valid reports whether the usage type is metered
func (t UsageType) Valid() bool {
	return t == UsageReview || t == UsageAIReply
}

// Quota returns the plan's monthly allowance for the usage type
func (l PlanLimits) Quota(t UsageType) int {
	switch t {
	case UsageReview:
		return l.MaxReviewsPerMonth
	case UsageAIReply:
		return l.MaxAIRepliesPerMonth
	}
	return 0
}

// UsageMetric is a tenant's counter for one usage type in one period
type UsageMetric struct {
	TenantID    string    `json:"tenant_id"`
	Type        UsageType `json:"type"`
	Count       int       `json:"count"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
}

// UsagePeriod returns the UTC calendar month containing at.
// The end is exclusive.
func UsagePeriod(at time.Time) (time.Time, time.Time) {
	at = at.UTC()
	start := time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

package model

// AccessReason explains a FeatureAccessResult.
type AccessReason string

const (
	ReasonFree                AccessReason = "free"
	ReasonNotLoggedIn         AccessReason = "not_logged_in"
	ReasonInsufficientCredits AccessReason = "insufficient_credits"
	ReasonAvailable           AccessReason = "available"
)

type FeatureAccessResult struct {
	CanAccess       bool         `json:"can_access"`
	Reason          AccessReason `json:"reason"`
	CreditsRequired *int         `json:"credits_required,omitempty"`
	CurrentCredits  *int         `json:"current_credits,omitempty"`
}

// FeaturePricing is one entry of the backend pricing list.
type FeaturePricing struct {
	FeatureCode     Module `json:"feature_code"`
	FeatureCategory string `json:"feature_category"`
	CreditsCost     int    `json:"credits_cost"`
	IsAvailable     bool   `json:"is_available"`
}

// CategoryBasic marks features that never cost credits.
const CategoryBasic = "basic"

// Free reports whether the feature can be used without credits or login.
func (p FeaturePricing) Free() bool {
	return p.FeatureCategory == CategoryBasic || p.CreditsCost <= 0
}

type CreditBalance struct {
	Credits int `json:"credits"`
}

type Subscription struct {
	Active bool   `json:"active"`
	Plan   string `json:"plan,omitempty"`
}

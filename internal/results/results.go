// Package results folds per-module payloads from the backend into the set
// shown to the user.
package results

import (
	"bytes"
	"encoding/json"

	"github.com/raysh454/scanflow/internal/model"
)

// Wire names of the per-module payloads in a results response.
const (
	KeyWebsiteInfo   = "website_info"
	KeyDomainInfo    = "domain_info"
	KeySSLInfo       = "ssl_info"
	KeyTechStack     = "tech_stack"
	KeyPerformance   = "performance"
	KeySEO           = "seo"
	KeySecurity      = "security"
	KeyAccessibility = "accessibility"
	KeyAIAnalysis    = "ai_analysis"
	KeyLinkHealth    = "link_health"
)

// ResultSet holds one payload per module. A nil field has not arrived yet.
type ResultSet struct {
	WebsiteInfo   json.RawMessage `json:"website_info,omitempty"`
	DomainInfo    json.RawMessage `json:"domain_info,omitempty"`
	SSLInfo       json.RawMessage `json:"ssl_info,omitempty"`
	TechStack     json.RawMessage `json:"tech_stack,omitempty"`
	Performance   json.RawMessage `json:"performance,omitempty"`
	SEO           json.RawMessage `json:"seo,omitempty"`
	Security      json.RawMessage `json:"security,omitempty"`
	Accessibility json.RawMessage `json:"accessibility,omitempty"`
	LinkHealth    json.RawMessage `json:"link_health,omitempty"`
	AIAnalysis    *AIAnalysis     `json:"ai_analysis,omitempty"`
}

// Reset returns the empty set used when a new task starts.
func Reset() ResultSet { return ResultSet{} }

// Empty reports whether nothing has been populated.
func (r ResultSet) Empty() bool {
	for _, f := range r.rawFields() {
		if *f != nil {
			return false
		}
	}
	return r.AIAnalysis == nil
}

// Populated lists the wire names of every present field.
func (r ResultSet) Populated() []string {
	var out []string
	for i, f := range r.rawFields() {
		if *f != nil {
			out = append(out, rawKeys[i])
		}
	}
	if r.AIAnalysis != nil {
		out = append(out, KeyAIAnalysis)
	}
	return out
}

var rawKeys = []string{
	KeyWebsiteInfo, KeyDomainInfo, KeySSLInfo, KeyTechStack, KeyPerformance,
	KeySEO, KeySecurity, KeyAccessibility, KeyLinkHealth,
}

// rawFields returns pointers in rawKeys order.
func (r *ResultSet) rawFields() []*json.RawMessage {
	return []*json.RawMessage{
		&r.WebsiteInfo, &r.DomainInfo, &r.SSLInfo, &r.TechStack, &r.Performance,
		&r.SEO, &r.Security, &r.Accessibility, &r.LinkHealth,
	}
}

// Merge folds incoming into existing and returns the result; existing is not
// modified. A field is written when it is absent, or when final is set and
// the incoming value is present. Nothing is ever cleared, so applying a stale
// snapshot after a newer one cannot lose data. The AI analysis is only
// accepted once task reports the ai-analysis module completed.
func Merge(existing ResultSet, incoming map[string]json.RawMessage, task *model.Task, final bool) ResultSet {
	out := existing.clone()
	fields := out.rawFields()
	for i, key := range rawKeys {
		v, ok := present(incoming, key)
		if !ok {
			continue
		}
		if *fields[i] == nil || final {
			*fields[i] = v
		}
	}

	if v, ok := present(incoming, KeyAIAnalysis); ok && task.ModuleCompleted(model.ModuleAIAnalysis) {
		if out.AIAnalysis == nil || final {
			ai := DecodeAI(v)
			out.AIAnalysis = &ai
		}
	}
	return out
}

func (r ResultSet) clone() ResultSet {
	out := r
	for _, f := range out.rawFields() {
		if *f != nil {
			*f = append(json.RawMessage(nil), *f...)
		}
	}
	if r.AIAnalysis != nil {
		ai := *r.AIAnalysis
		out.AIAnalysis = &ai
	}
	return out
}

// present treats a missing key, JSON null and an empty body as absent.
func present(m map[string]json.RawMessage, key string) (json.RawMessage, bool) {
	v, ok := m[key]
	if !ok {
		return nil, false
	}
	t := bytes.TrimSpace(v)
	if len(t) == 0 || bytes.Equal(t, []byte("null")) {
		return nil, false
	}
	return append(json.RawMessage(nil), t...), true
}

package model

import (
	"fmt"
	"sort"
	"strings"
)

// Module is one optional audit capability that can be independently enabled,
// priced and completed by the backend.
type Module string

const (
	ModuleLinkHealth    Module = "link-health"
	ModuleWebsiteInfo   Module = "website-info"
	ModuleDomainInfo    Module = "domain-info"
	ModuleSSLInfo       Module = "ssl-info"
	ModuleTechStack     Module = "tech-stack"
	ModulePerformance   Module = "performance"
	ModuleSEO           Module = "seo"
	ModuleSecurity      Module = "security"
	ModuleAccessibility Module = "accessibility"
	ModuleAIAnalysis    Module = "ai-analysis"
	ModuleDeepScan      Module = "deep-scan"
)

// AllModules lists every module code the backend understands, in display order.
var AllModules = []Module{
	ModuleLinkHealth,
	ModuleWebsiteInfo,
	ModuleDomainInfo,
	ModuleSSLInfo,
	ModuleTechStack,
	ModulePerformance,
	ModuleSEO,
	ModuleSecurity,
	ModuleAccessibility,
	ModuleAIAnalysis,
	ModuleDeepScan,
}

// Known reports whether m is a module code the backend understands.
func (m Module) Known() bool {
	for _, k := range AllModules {
		if k == m {
			return true
		}
	}
	return false
}

// exclusive maps a module to the one it cannot run alongside.
var exclusive = map[Module]Module{
	ModuleLinkHealth: ModuleDeepScan,
	ModuleDeepScan:   ModuleLinkHealth,
}

// ScanOptions is the set of enabled modules for a scan. link-health and
// deep-scan are never both enabled.
type ScanOptions struct {
	flags map[Module]bool
}

// NewScanOptions enables the given modules in order, so for an exclusive pair
// the last one listed wins.
func NewScanOptions(modules ...Module) ScanOptions {
	o := ScanOptions{flags: make(map[Module]bool, len(modules))}
	for _, m := range modules {
		o.Set(m, true)
	}
	return o
}

// ParseOptions builds options from a comma separated list such as a query
// string default. Unknown codes are a validation error.
func ParseOptions(csv string) (ScanOptions, error) {
	var mods []Module
	for _, part := range strings.Split(csv, ",") {
		code := Module(strings.ToLower(strings.TrimSpace(part)))
		if code == "" {
			continue
		}
		if !code.Known() {
			return ScanOptions{}, fmt.Errorf("%w: unknown option %q", ErrValidation, code)
		}
		mods = append(mods, code)
	}
	return NewScanOptions(mods...), nil
}

// Set enables or disables m. Enabling one side of an exclusive pair clears
// the other side.
func (o *ScanOptions) Set(m Module, on bool) {
	if o.flags == nil {
		o.flags = make(map[Module]bool)
	}
	if !on {
		delete(o.flags, m)
		return
	}
	o.flags[m] = true
	if other, ok := exclusive[m]; ok {
		delete(o.flags, other)
	}
}

// Toggle flips m and returns its new value.
func (o *ScanOptions) Toggle(m Module) bool {
	on := !o.Enabled(m)
	o.Set(m, on)
	return on
}

func (o ScanOptions) Enabled(m Module) bool {
	return o.flags[m]
}

// List freezes the options into a sorted slice of codes for the request payload.
func (o ScanOptions) List() []Module {
	out := make([]Module, 0, len(o.flags))
	for m, on := range o.flags {
		if on {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Strings is List as plain strings.
func (o ScanOptions) Strings() []string {
	mods := o.List()
	out := make([]string, len(mods))
	for i, m := range mods {
		out[i] = string(m)
	}
	return out
}

func (o ScanOptions) Empty() bool {
	return len(o.List()) == 0
}

// Validate rejects empty option sets and unknown codes.
func (o ScanOptions) Validate() error {
	if o.Empty() {
		return fmt.Errorf("%w: at least one option must be enabled", ErrValidation)
	}
	for _, m := range o.List() {
		if !m.Known() {
			return fmt.Errorf("%w: unknown option %q", ErrValidation, m)
		}
	}
	return nil
}

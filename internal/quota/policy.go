package quota

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Tier is a subscription level as stored in users.subscription_status.
type Tier string

const (
	TierFree     Tier = "free"
	TierPremium  Tier = "premium"
	TierCanceled Tier = "canceled"
	TierLead     Tier = "lead"
)

// NormalizeTier lowercases and trims a raw subscription status. Empty input
// reads as free.
func NormalizeTier(s string) Tier {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return TierFree
	}
	return Tier(s)
}

// Policy maps tiers to monthly lookup ceilings. Unknown tiers fall back to
// DefaultTier.
type Policy struct {
	DefaultTier Tier         `yaml:"default_tier"`
	Limits      map[Tier]int `yaml:"limits"`
}

// DefaultPolicy returns the built-in ceilings.
func DefaultPolicy() Policy {
	return Policy{
		DefaultTier: TierFree,
		Limits: map[Tier]int{
			TierFree:     500,
			TierPremium:  10000,
			TierCanceled: 500,
			TierLead:     500,
		},
	}
}

// Limit returns the ceiling for t.
func (p Policy) Limit(t Tier) int {
	if n, ok := p.Limits[t]; ok {
		return n
	}
	if n, ok := p.Limits[p.DefaultTier]; ok {
		return n
	}
	return DefaultPolicy().Limits[TierFree]
}

// WithOverrides returns a copy of p with the given tier limits replaced.
// Keys are normalized the same way subscription statuses are.
func (p Policy) WithOverrides(limits map[string]int) Policy {
	out := Policy{DefaultTier: p.DefaultTier, Limits: make(map[Tier]int, len(p.Limits)+len(limits))}
	for t, n := range p.Limits {
		out.Limits[t] = n
	}
	for k, n := range limits {
		if n < 0 {
			continue
		}
		out.Limits[NormalizeTier(k)] = n
	}
	return out
}

// LoadPolicyFile reads a YAML policy and layers it on top of the defaults.
//
//	default_tier: free
//	limits:
//	  free: 500
//	  premium: 10000
func LoadPolicyFile(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, eris.Wrapf(err, "quota: read policy file %s", path)
	}

	var raw struct {
		DefaultTier string         `yaml:"default_tier"`
		Limits      map[string]int `yaml:"limits"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Policy{}, eris.Wrap(err, "quota: parse policy file")
	}

	p := DefaultPolicy().WithOverrides(raw.Limits)
	if raw.DefaultTier != "" {
		p.DefaultTier = NormalizeTier(raw.DefaultTier)
	}
	if _, ok := p.Limits[p.DefaultTier]; !ok {
		return Policy{}, eris.Errorf("quota: default tier %q has no limit", p.DefaultTier)
	}
	return p, nil
}

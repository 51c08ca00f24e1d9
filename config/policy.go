package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Policy is the operator-maintained safety policy loaded from AOL_POLICY_FILE.
//
// Example:
//
//	retry:
//	  distribution_send: {base_delay: 1m, max_delay: 2h, max_attempts: 6}
//	channels:
//	  email: {daily_limit: 500}
//	egress:
//	  allow_hosts: [hooks.example.com]
type Policy struct {
	Retry    map[string]RetryPolicy   `yaml:"retry"`
	Channels map[string]ChannelPolicy `yaml:"channels"`
	Egress   EgressPolicy             `yaml:"egress"`
}

// RetryPolicy overrides the retry defaults for one action type
type RetryPolicy struct {
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// ChannelPolicy holds the per-channel send limits
type ChannelPolicy struct {
	DailyLimit int `yaml:"daily_limit"`
}

// EgressPolicy lists the hosts outbound sends may reach when the egress lock is on
type EgressPolicy struct {
	AllowHosts []string `yaml:"allow_hosts"`
}

// LoadPolicy reads a YAML policy file. An empty path yields an empty policy.
func LoadPolicy(path string) (*Policy, error) {
	if path == "" {
		return &Policy{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return ParsePolicy(data)
}

// ParsePolicy decodes a YAML policy document
func ParsePolicy(data []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	return &p, nil
}

// Validate rejects negative limits and inverted delay windows
func (p *Policy) Validate() error {
	for actionType, rp := range p.Retry {
		if rp.MaxAttempts < 0 {
			return fmt.Errorf("policy retry.%s: max_attempts must not be negative", actionType)
		}
		if rp.MaxDelay > 0 && rp.BaseDelay > rp.MaxDelay {
			return fmt.Errorf("policy retry.%s: base_delay exceeds max_delay", actionType)
		}
	}
	for channel, cp := range p.Channels {
		if cp.DailyLimit < 0 {
			return fmt.Errorf("policy channels.%s: daily_limit must not be negative", channel)
		}
	}
	return nil
}

// RetryFor merges the action type's override onto the defaults
func (p *Policy) RetryFor(actionType string, defaults RetryConfig) RetryConfig {
	rp, ok := p.Retry[actionType]
	if !ok {
		return defaults
	}
	out := defaults
	if rp.BaseDelay > 0 {
		out.BaseDelay = rp.BaseDelay
	}
	if rp.MaxDelay > 0 {
		out.MaxDelay = rp.MaxDelay
	}
	if rp.MaxAttempts > 0 {
		out.MaxAttempts = rp.MaxAttempts
	}
	return out
}

// DailyLimit returns the channel's configured limit and whether one was set
func (p *Policy) DailyLimit(channel string) (int, bool) {
	cp, ok := p.Channels[channel]
	if !ok {
		return 0, false
	}
	return cp.DailyLimit, true
}

// ChannelLimits flattens the channel policies into a limit map
func (p *Policy) ChannelLimits() map[string]int {
	out := make(map[string]int, len(p.Channels))
	for channel, cp := range p.Channels {
		out[channel] = cp.DailyLimit
	}
	return out
}

// AllowedHosts returns the lower-cased egress allow-list
func (p *Policy) AllowedHosts() []string {
	out := make([]string, 0, len(p.Egress.AllowHosts))
	for _, h := range p.Egress.AllowHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			out = append(out, h)
		}
	}
	return out
}

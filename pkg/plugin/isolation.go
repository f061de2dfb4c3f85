package plugin

import (
	"errors"
	"fmt"
	"slices"
)

// IsolationStrategy enforces security restrictions for plugins at runtime.
type IsolationStrategy interface {
	Validate(info Info, policy IsolationPolicy) error
	Prepare(info Info) error
	Cleanup(info Info) error
}

// NoopIsolationStrategy performs only capability validation.
type NoopIsolationStrategy struct{}

// Validate ensures the plugin requested capabilities are allowed.
func (NoopIsolationStrategy) Validate(info Info, policy IsolationPolicy) error {
	for _, capability := range policy.DeniedCapabilities {
		if slices.Contains(info.Capabilities, capability) {
			return fmt.Errorf("capability %s is explicitly denied", capability)
		}
	}
	if len(policy.AllowedCapabilities) == 0 {
		return nil
	}
	for _, capability := range info.Capabilities {
		if !slices.Contains(policy.AllowedCapabilities, capability) {
			return fmt.Errorf("capability %s not permitted", capability)
		}
	}
	return nil
}

// Prepare implements IsolationStrategy.
func (NoopIsolationStrategy) Prepare(Info) error { return nil }

// Cleanup implements IsolationStrategy.
func (NoopIsolationStrategy) Cleanup(Info) error { return nil }

// NewIsolationStrategy returns a default strategy when none is supplied.
func NewIsolationStrategy(strategy IsolationStrategy) IsolationStrategy {
	if strategy == nil {
		return NoopIsolationStrategy{}
	}
	return strategy
}

// MergePolicies combines the default and plugin specific isolation policies.
func MergePolicies(defaults IsolationPolicy, plugin *IsolationPolicy) IsolationPolicy {
	if plugin == nil {
		return defaults
	}
	merged := plugin.Merge(defaults)
	if len(merged.AllowedCapabilities) == 0 && len(merged.DeniedCapabilities) == 0 {
		return defaults
	}
	return merged
}

// EnsurePolicy rejects plugins that declare capabilities without any policy.
func EnsurePolicy(info Info, policy IsolationPolicy) error {
	if len(info.Capabilities) == 0 {
		return nil
	}
	if len(policy.AllowedCapabilities) == 0 && len(policy.DeniedCapabilities) == 0 {
		return errors.New("plugins declaring capabilities require an isolation policy")
	}
	return nil
}

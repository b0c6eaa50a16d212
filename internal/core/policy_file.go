package core

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadPolicyFile reads a completion policy from YAML.  Fields left out of
// the file keep their default value.
func LoadPolicyFile(path string) (CompletionPolicy, error) {
	policy := DefaultCompletionPolicy()
	if path == "" {
		return policy, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return CompletionPolicy{}, fmt.Errorf("read policy file: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy decodes a YAML policy on top of the defaults and validates it.
func ParsePolicy(data []byte) (CompletionPolicy, error) {
	policy := DefaultCompletionPolicy()
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return CompletionPolicy{}, fmt.Errorf("parse policy: %w", err)
	}
	if err := policy.Validate(); err != nil {
		return CompletionPolicy{}, fmt.Errorf("invalid policy: %w", err)
	}
	return policy, nil
}

// MarshalPolicy renders the policy as YAML.
func MarshalPolicy(policy CompletionPolicy) ([]byte, error) {
	return yaml.Marshal(policy)
}

package contract

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed policy.yaml
var defaultPolicyYAML []byte

// Policy is the on-disk form of the ownership contracts and artifact schemas.
type Policy struct {
	Agents  []AgentContract   `yaml:"agents"`
	Schemas map[string]Schema `yaml:"schemas"`
}

// DefaultPolicy returns the built-in mission policy.
func DefaultPolicy() (Policy, error) {
	return ParsePolicy(defaultPolicyYAML)
}

// ParsePolicy decodes a YAML policy. Unknown keys are rejected.
func ParsePolicy(data []byte) (Policy, error) {
	var p Policy
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return Policy{}, fmt.Errorf("parse policy: %w", err)
	}
	return p, nil
}

// LoadPolicy reads a policy file. An empty path yields the built-in policy.
func LoadPolicy(path string) (Policy, error) {
	if path == "" {
		return DefaultPolicy()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy: %w", err)
	}
	return ParsePolicy(data)
}

// Load builds a validator from the policy at path, or the built-in policy
// when path is empty.
func Load(path string) (*Validator, error) {
	p, err := LoadPolicy(path)
	if err != nil {
		return nil, err
	}
	return NewValidator(p)
}

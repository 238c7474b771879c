// Package config loads quota policies from YAML files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/serroba/driftquota/internal/quota"
	"gopkg.in/yaml.v3"
)

// File is the on-disk layout of a policy file:
//
//	keyPrefix: tj
//	hashLength: 12
//	hashAlgorithm: md5
//	actions:
//	  login: {max: 5, period: 1h}
//	  upload: {max: 100, period: "86400"}
type File struct {
	KeyPrefix     string                `yaml:"keyPrefix"`
	HashLength    int                   `yaml:"hashLength"`
	HashAlgorithm string                `yaml:"hashAlgorithm"`
	Actions       map[string]ActionRule `yaml:"actions"`
}

// ActionRule is one entry under actions. Period is a Go duration or a
// plain number of seconds.
type ActionRule struct {
	Max    int64  `yaml:"max"`
	Period string `yaml:"period"`
}

// Loaded is the result of reading a policy file.
type Loaded struct {
	Policy *quota.Policy
	Keys   quota.KeyDeriver
}

// LoadPolicy reads and parses the policy file at path.
func LoadPolicy(path string) (*Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}

	return ParsePolicy(data)
}

// ParsePolicy parses policy YAML. Missing key settings fall back to the
// quota defaults.
func ParsePolicy(data []byte) (*Loaded, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}

	keys := quota.DefaultKeyDeriver()
	if file.KeyPrefix != "" {
		keys.Prefix = file.KeyPrefix
	}

	if file.HashLength > 0 {
		keys.HashLength = file.HashLength
	}

	algorithm, err := quota.ParseHashAlgorithm(file.HashAlgorithm)
	if err != nil {
		return nil, err
	}

	keys.Algorithm = algorithm

	rules := make(map[string]quota.Rule, len(file.Actions))

	for action, r := range file.Actions {
		period, err := parsePeriod(r.Period)
		if err != nil {
			return nil, fmt.Errorf("action %q: %w", action, err)
		}

		rules[action] = quota.Rule{Max: r.Max, Period: period}
	}

	policy, err := quota.NewPolicy(rules)
	if err != nil {
		return nil, err
	}

	return &Loaded{Policy: policy, Keys: keys}, nil
}

func parsePeriod(s string) (time.Duration, error) {
	if s == "" {
		return 0, quota.ErrPeriodRequired
	}

	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(secs) * time.Second, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", quota.ErrPeriodRequired, err)
	}

	return d, nil
}

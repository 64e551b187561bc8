package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agenda-podcast/Platform-sub001/pkg/cacheindex"
	"github.com/agenda-podcast/Platform-sub001/pkg/modules"
	"github.com/agenda-podcast/Platform-sub001/pkg/registry"
)

// Profile is an operating profile: module timeouts and retention policy
// for one deployment tier. Profiles live as profile_<name>.yaml files.
type Profile struct {
	Name     string          `yaml:"name"`
	Timeouts TimeoutsConfig  `yaml:"timeouts"`
	TTLs     []RetentionRule `yaml:"ttls"`
}

// TimeoutsConfig holds per-kind module deadlines in seconds. Zero keeps
// the shipped default for that kind.
type TimeoutsConfig struct {
	AcquisitionSeconds int `yaml:"acquisition_seconds"`
	TransformSeconds   int `yaml:"transform_seconds"`
	PackagingSeconds   int `yaml:"packaging_seconds"`
	DeliverySeconds    int `yaml:"delivery_seconds"`
}

// RetentionRule sets the cache-index TTL for one (place, type) pair.
type RetentionRule struct {
	Place string `yaml:"place"`
	Type  string `yaml:"type"`
	Hours int    `yaml:"hours"`
}

// LoadProfile loads profile_<name>.yaml from the profiles directory.
func LoadProfile(profilesDir, name string) (*Profile, error) {
	name = strings.ToLower(name)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", name))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", name, err)
	}
	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", name, err)
	}
	if profile.Name == "" {
		profile.Name = name
	}
	return &profile, nil
}

// ModuleTimeouts materializes the profile's deadlines over the defaults.
func (p *Profile) ModuleTimeouts() modules.Timeouts {
	t := modules.DefaultTimeouts()
	apply := func(kind registry.Kind, seconds int) {
		if seconds > 0 {
			t[kind] = time.Duration(seconds) * time.Second
		}
	}
	apply(registry.KindAcquisition, p.Timeouts.AcquisitionSeconds)
	apply(registry.KindTransform, p.Timeouts.TransformSeconds)
	apply(registry.KindPackaging, p.Timeouts.PackagingSeconds)
	apply(registry.KindDelivery, p.Timeouts.DeliverySeconds)
	return t
}

// TTLPolicy materializes the profile's retention rules.
func (p *Profile) TTLPolicy() cacheindex.TTLPolicy {
	policy := cacheindex.NewTTLPolicy()
	for _, rule := range p.TTLs {
		policy.Set(rule.Place, rule.Type, time.Duration(rule.Hours)*time.Hour)
	}
	return policy
}

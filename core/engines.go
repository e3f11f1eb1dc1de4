// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package core

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidProfile indicates an engine profile with impossible values.
var ErrInvalidProfile = errors.New("invalid engine profile")

// EngineProfile describes how much an engine's results are trusted and how
// many of them a diversified result set may contain.
type EngineProfile struct {
	// Weight is the engine authority factor used by relevance scoring (0-1).
	Weight float64 `yaml:"weight"`
	// Priority orders engines during quota allocation. Lower comes first.
	Priority int `yaml:"priority"`
	// MinQuota is the number of slots reserved for the engine when it has results.
	MinQuota int `yaml:"min_quota"`
	// MaxQuota caps the engine's share of the final list.
	MaxQuota int `yaml:"max_quota"`
}

// EngineProfiles is the engine table consulted by scoring and diversity.
type EngineProfiles struct {
	Engines map[string]EngineProfile `yaml:"engines"`
	Unknown EngineProfile            `yaml:"unknown"`
}

// UnknownEngineProfile applies to engines absent from the table.
var UnknownEngineProfile = EngineProfile{Weight: 0.3, Priority: 99, MinQuota: 1, MaxQuota: 2}

// DefaultEngineProfiles returns the built-in engine table.
func DefaultEngineProfiles() *EngineProfiles {
	return &EngineProfiles{
		Engines: map[string]EngineProfile{
			"google":        {Weight: 1.0, Priority: 1, MinQuota: 3, MaxQuota: 5},
			"baidu":         {Weight: 0.9, Priority: 1, MinQuota: 3, MaxQuota: 4},
			"duckduckgo":    {Weight: 0.8, Priority: 2, MinQuota: 2, MaxQuota: 3},
			"wikipedia":     {Weight: 0.7, Priority: 4, MinQuota: 0, MaxQuota: 1},
			"github":        {Weight: 0.6, Priority: 5, MinQuota: 0, MaxQuota: 1},
			"stackoverflow": {Weight: 0.6, Priority: 5, MinQuota: 0, MaxQuota: 1},
			"startpage":     {Weight: 0.5, Priority: 99, MinQuota: 1, MaxQuota: 2},
		},
		Unknown: UnknownEngineProfile,
	}
}

// Lookup returns the profile for engine, falling back to the unknown profile.
func (p *EngineProfiles) Lookup(engine string) EngineProfile {
	if p == nil {
		return UnknownEngineProfile
	}
	if prof, ok := p.Engines[strings.ToLower(engine)]; ok {
		return prof
	}
	return p.Unknown
}

// Known reports whether engine has an explicit profile.
func (p *EngineProfiles) Known(engine string) bool {
	if p == nil {
		return false
	}
	_, ok := p.Engines[strings.ToLower(engine)]
	return ok
}

// Validate checks every profile for impossible values.
func (p *EngineProfiles) Validate() error {
	check := func(name string, prof EngineProfile) error {
		if prof.Weight < 0 || prof.Weight > 1 {
			return fmt.Errorf("%w: %s: weight must be between 0 and 1", ErrInvalidProfile, name)
		}
		if prof.MinQuota < 0 || prof.MaxQuota < 0 {
			return fmt.Errorf("%w: %s: quotas must not be negative", ErrInvalidProfile, name)
		}
		if prof.MinQuota > prof.MaxQuota {
			return fmt.Errorf("%w: %s: min_quota exceeds max_quota", ErrInvalidProfile, name)
		}
		return nil
	}
	for name, prof := range p.Engines {
		if err := check(name, prof); err != nil {
			return err
		}
	}
	return check("unknown", p.Unknown)
}

// ParseEngineProfiles decodes a YAML engine table and merges it over the
// defaults. Engines in the document replace the built-in entry wholesale.
//
// Example document:
//
//	engines:
//	  google:    {weight: 1.0, priority: 1, min_quota: 3, max_quota: 5}
//	  bing:      {weight: 0.7, priority: 3, min_quota: 1, max_quota: 3}
//	unknown:     {weight: 0.2, priority: 99, min_quota: 1, max_quota: 2}
func ParseEngineProfiles(data []byte) (*EngineProfiles, error) {
	var doc struct {
		Engines map[string]EngineProfile `yaml:"engines"`
		Unknown *EngineProfile           `yaml:"unknown"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidProfile, err)
	}

	profiles := DefaultEngineProfiles()
	lowered := make(map[string]EngineProfile, len(doc.Engines))
	for name, prof := range doc.Engines {
		lowered[strings.ToLower(strings.TrimSpace(name))] = prof
	}
	maps.Copy(profiles.Engines, lowered)
	if doc.Unknown != nil {
		profiles.Unknown = *doc.Unknown
	}

	if err := profiles.Validate(); err != nil {
		return nil, err
	}
	return profiles, nil
}

// LoadEngineProfiles reads a YAML engine table from path.
// An empty path yields the defaults.
func LoadEngineProfiles(path string) (*EngineProfiles, error) {
	if path == "" {
		return DefaultEngineProfiles(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseEngineProfiles(data)
}

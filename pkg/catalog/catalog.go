// Package catalog holds the immutable platform and experiment reference data
// loaded once at boot.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	pkgerrors "github.com/angelmondragon/entitlements-backend/pkg/errors"
)

//go:embed default.yaml
var defaultCatalog []byte

// PlanInterval is the billing cadence a price ID maps to.
type PlanInterval string

const (
	PlanMonthly PlanInterval = "monthly"
	PlanYearly  PlanInterval = "yearly"
)

type PriceIDs struct {
	Monthly string `yaml:"monthly"`
	Yearly  string `yaml:"yearly"`
}

// Platform is the trial and pricing policy for one catalog key.
type Platform struct {
	Key        string   `yaml:"key"`
	TrialDays  int      `yaml:"trial_days"`
	UsageLimit *int     `yaml:"usage_limit"`
	HardCapped bool     `yaml:"hard_capped"`
	PriceIDs   PriceIDs `yaml:"price_ids"`
}

// TrialDuration returns the trial window length.
func (p Platform) TrialDuration() time.Duration {
	return time.Duration(p.TrialDays) * 24 * time.Hour
}

// UsageCapReached reports whether usage blocks access on a hard-capped platform.
func (p Platform) UsageCapReached(usageCount int) bool {
	if !p.HardCapped || p.UsageLimit == nil {
		return false
	}
	return usageCount >= *p.UsageLimit
}

type Variant struct {
	Name   string  `yaml:"name"`
	Weight float64 `yaml:"weight"`
}

// Experiment lists the weighted variants for a test. The first variant is the control.
type Experiment struct {
	TestID   string    `yaml:"test_id"`
	Variants []Variant `yaml:"variants"`
}

// Control returns the baseline variant name.
func (e Experiment) Control() string {
	if len(e.Variants) == 0 {
		return ""
	}
	return e.Variants[0].Name
}

type document struct {
	Platforms   []Platform   `yaml:"platforms"`
	Experiments []Experiment `yaml:"experiments"`
}

type priceRef struct {
	platform string
	interval PlanInterval
}

// Catalog is read-only after construction.
type Catalog struct {
	order       []string
	platforms   map[string]Platform
	prices      map[string]priceRef
	experiments map[string]Experiment
}

// Load reads the catalog from path, falling back to the built-in catalog when path is empty.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read platform catalog: %w", err)
	}
	return Parse(data)
}

// Default returns the built-in catalog.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Parse decodes and validates a YAML catalog document.
func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode platform catalog: %w", err)
	}
	return New(doc.Platforms, doc.Experiments)
}

// New validates the given definitions and builds a catalog.
func New(platforms []Platform, experiments []Experiment) (*Catalog, error) {
	if len(platforms) == 0 {
		return nil, fmt.Errorf("platform catalog is empty")
	}
	c := &Catalog{
		platforms:   make(map[string]Platform, len(platforms)),
		prices:      map[string]priceRef{},
		experiments: make(map[string]Experiment, len(experiments)),
	}
	for _, p := range platforms {
		p.Key = strings.TrimSpace(p.Key)
		if err := validatePlatform(p); err != nil {
			return nil, err
		}
		if _, exists := c.platforms[p.Key]; exists {
			return nil, fmt.Errorf("duplicate platform %q", p.Key)
		}
		if p.UsageLimit != nil {
			limit := *p.UsageLimit
			p.UsageLimit = &limit
		}
		c.platforms[p.Key] = p
		c.order = append(c.order, p.Key)

		for interval, priceID := range map[PlanInterval]string{PlanMonthly: p.PriceIDs.Monthly, PlanYearly: p.PriceIDs.Yearly} {
			if priceID == "" {
				continue
			}
			if prev, taken := c.prices[priceID]; taken {
				return nil, fmt.Errorf("price %q mapped to both %q and %q", priceID, prev.platform, p.Key)
			}
			c.prices[priceID] = priceRef{platform: p.Key, interval: interval}
		}
	}
	for _, e := range experiments {
		e.TestID = strings.TrimSpace(e.TestID)
		if err := validateExperiment(e); err != nil {
			return nil, err
		}
		if _, exists := c.experiments[e.TestID]; exists {
			return nil, fmt.Errorf("duplicate experiment %q", e.TestID)
		}
		c.experiments[e.TestID] = Experiment{TestID: e.TestID, Variants: append([]Variant(nil), e.Variants...)}
	}
	return c, nil
}

func validatePlatform(p Platform) error {
	if p.Key == "" {
		return fmt.Errorf("platform key is required")
	}
	if p.TrialDays <= 0 {
		return fmt.Errorf("platform %q: trial_days must be positive", p.Key)
	}
	if p.UsageLimit != nil && *p.UsageLimit <= 0 {
		return fmt.Errorf("platform %q: usage_limit must be positive", p.Key)
	}
	if p.HardCapped && p.UsageLimit == nil {
		return fmt.Errorf("platform %q: hard_capped requires usage_limit", p.Key)
	}
	return nil
}

func validateExperiment(e Experiment) error {
	if e.TestID == "" {
		return fmt.Errorf("experiment test_id is required")
	}
	if len(e.Variants) < 2 {
		return fmt.Errorf("experiment %q: at least two variants required", e.TestID)
	}
	seen := map[string]struct{}{}
	for _, v := range e.Variants {
		if v.Name == "" {
			return fmt.Errorf("experiment %q: variant name is required", e.TestID)
		}
		if v.Weight <= 0 {
			return fmt.Errorf("experiment %q: variant %q weight must be positive", e.TestID, v.Name)
		}
		if _, dup := seen[v.Name]; dup {
			return fmt.Errorf("experiment %q: duplicate variant %q", e.TestID, v.Name)
		}
		seen[v.Name] = struct{}{}
	}
	return nil
}

// Platform looks up a platform by key.
func (c *Catalog) Platform(key string) (Platform, error) {
	p, ok := c.platforms[strings.TrimSpace(key)]
	if !ok {
		return Platform{}, pkgerrors.New(pkgerrors.CodeValidation, "unknown platform").
			WithDetails(map[string]any{"platform": key})
	}
	if p.UsageLimit != nil {
		limit := *p.UsageLimit
		p.UsageLimit = &limit
	}
	return p, nil
}

// Platforms returns every platform in declaration order.
func (c *Catalog) Platforms() []Platform {
	out := make([]Platform, 0, len(c.order))
	for _, key := range c.order {
		p, _ := c.Platform(key)
		out = append(out, p)
	}
	return out
}

// PlatformForPrice resolves a provider price ID back to its platform and plan.
func (c *Catalog) PlatformForPrice(priceID string) (Platform, PlanInterval, bool) {
	ref, ok := c.prices[priceID]
	if !ok {
		return Platform{}, "", false
	}
	p, err := c.Platform(ref.platform)
	if err != nil {
		return Platform{}, "", false
	}
	return p, ref.interval, true
}

var defaultVariants = []Variant{{Name: "A", Weight: 50}, {Name: "B", Weight: 50}}

// Experiment returns the configured test, or an even A/B split for unknown tests.
func (c *Catalog) Experiment(testID string) Experiment {
	testID = strings.TrimSpace(testID)
	if e, ok := c.experiments[testID]; ok {
		return Experiment{TestID: e.TestID, Variants: append([]Variant(nil), e.Variants...)}
	}
	return Experiment{TestID: testID, Variants: append([]Variant(nil), defaultVariants...)}
}

package tuning

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	LockSeconds       int `yaml:"lock_seconds"`
	CooldownSeconds   int `yaml:"cooldown_seconds"`
	RequestTTLSeconds int `yaml:"request_ttl_seconds"`

	MaxCreatures  int `yaml:"max_creatures"`
	MaxItemStacks int `yaml:"max_item_stacks"`

	ExecRetrySeconds  int `yaml:"exec_retry_seconds"`
	ExecRetryAttempts int `yaml:"exec_retry_attempts"`

	StarterCreatures int            `yaml:"starter_creatures"`
	StarterItems     map[string]int `yaml:"starter_items"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:   "1.0",
		LockSeconds:       5,
		CooldownSeconds:   60,
		RequestTTLSeconds: 30,
		MaxCreatures:      3,
		MaxItemStacks:     8,
		ExecRetrySeconds:  3,
		ExecRetryAttempts: 5,
		StarterCreatures:  2,
		StarterItems: map[string]int{
			"SUN_BERRY":  10,
			"HEAL_TONIC": 3,
			"MOON_STONE": 1,
		},
	}
}

// Load reads tuning.yaml over the defaults. An empty path yields the
// defaults unchanged.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.LockSeconds <= 0 {
		return fmt.Errorf("lock_seconds must be positive, got %d", t.LockSeconds)
	}
	if t.CooldownSeconds < 0 {
		return fmt.Errorf("cooldown_seconds must not be negative, got %d", t.CooldownSeconds)
	}
	if t.RequestTTLSeconds <= 0 {
		return fmt.Errorf("request_ttl_seconds must be positive, got %d", t.RequestTTLSeconds)
	}
	if t.MaxCreatures <= 0 {
		return fmt.Errorf("max_creatures must be positive, got %d", t.MaxCreatures)
	}
	if t.MaxItemStacks <= 0 {
		return fmt.Errorf("max_item_stacks must be positive, got %d", t.MaxItemStacks)
	}
	if t.ExecRetrySeconds <= 0 {
		return fmt.Errorf("exec_retry_seconds must be positive, got %d", t.ExecRetrySeconds)
	}
	if t.ExecRetryAttempts <= 0 {
		return fmt.Errorf("exec_retry_attempts must be positive, got %d", t.ExecRetryAttempts)
	}
	if t.StarterCreatures < 0 {
		return fmt.Errorf("starter_creatures must not be negative, got %d", t.StarterCreatures)
	}
	for item, qty := range t.StarterItems {
		if qty <= 0 {
			return fmt.Errorf("starter_items.%s must be positive, got %d", item, qty)
		}
	}
	return nil
}

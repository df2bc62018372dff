package hue

import (
	"fmt"
	"os"

	"github.com/phixarhasse/musikhjaelpen-alert/internal/domain"
	"gopkg.in/yaml.v3"
)

// EffectPolicy picks the effect played for a class of donation.
type EffectPolicy interface {
	EffectFor(class domain.EventClass) Effect
}

// StaticPolicy is a fixed class to effect table. Unlisted classes play nothing.
type StaticPolicy map[domain.EventClass]Effect

func (p StaticPolicy) EffectFor(class domain.EventClass) Effect {
	if e, ok := p[class]; ok {
		return e
	}
	return EffectNone
}

func DefaultPolicy() StaticPolicy {
	return StaticPolicy{
		domain.ClassDonation:       EffectGreenFlash,
		domain.ClassSprintDonation: EffectRainbowBlink,
	}
}

type policyFile struct {
	Effects map[string]string `yaml:"effects"`
}

// ParsePolicy overlays the classes named in a YAML document onto the defaults:
//
//	effects:
//	  donation: short_green
//	  sprint_donation: red_flash
func ParsePolicy(data []byte) (StaticPolicy, error) {
	var file policyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing effect policy: %w", err)
	}

	policy := DefaultPolicy()
	for name, effectName := range file.Effects {
		class, err := domain.ParseEventClass(name)
		if err != nil {
			return nil, fmt.Errorf("effect policy: %w", err)
		}
		effect, err := ParseEffect(effectName)
		if err != nil {
			return nil, fmt.Errorf("effect policy for %s: %w", name, err)
		}
		policy[class] = effect
	}
	return policy, nil
}

// LoadPolicy reads a policy file. An empty path yields the defaults.
func LoadPolicy(path string) (StaticPolicy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading effect policy: %w", err)
	}
	return ParsePolicy(data)
}

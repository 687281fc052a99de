package actions

import (
	"embed"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/opencode-ai/danmu/internal/actuator"
	"gopkg.in/yaml.v3"
)

//go:embed builtin/keywords.yaml
var builtinFS embed.FS

const defaultKeywordDuration = 500 * time.Millisecond

// KeywordSet maps a group of exact trigger phrases to a key hold, a key
// combo hold or a scroll.
type KeywordSet struct {
	Name     string        `yaml:"name"`
	Triggers []string      `yaml:"triggers"`
	Keys     []string      `yaml:"keys,omitempty"`
	Scroll   string        `yaml:"scroll,omitempty"`
	Duration time.Duration `yaml:"duration,omitempty"`
}

type keywordFile struct {
	KeywordSets []KeywordSet `yaml:"keyword_sets"`
}

// LoadBuiltinKeywordSets returns the keyword sets bundled with the binary.
func LoadBuiltinKeywordSets() ([]KeywordSet, error) {
	data, err := builtinFS.ReadFile("builtin/keywords.yaml")
	if err != nil {
		return nil, fmt.Errorf("read builtin keywords: %w", err)
	}
	sets, err := ParseKeywordSets(data)
	if err != nil {
		return nil, fmt.Errorf("parse builtin keywords: %w", err)
	}
	return sets, nil
}

// LoadKeywordSets reads keyword sets from a YAML file.
func LoadKeywordSets(path string) ([]KeywordSet, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("keymap path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keymap %s: %w", path, err)
	}
	sets, err := ParseKeywordSets(data)
	if err != nil {
		return nil, fmt.Errorf("parse keymap %s: %w", path, err)
	}
	return sets, nil
}

// ParseKeywordSets decodes and normalizes a keyword YAML document.
func ParseKeywordSets(data []byte) ([]KeywordSet, error) {
	var file keywordFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	if len(file.KeywordSets) == 0 {
		return nil, fmt.Errorf("no keyword_sets defined")
	}

	seen := make(map[string]string)
	sets := make([]KeywordSet, 0, len(file.KeywordSets))
	for i, set := range file.KeywordSets {
		set.Name = strings.TrimSpace(set.Name)
		if set.Name == "" {
			return nil, fmt.Errorf("keyword set %d: name is required", i)
		}

		triggers := make([]string, 0, len(set.Triggers))
		for _, trig := range set.Triggers {
			trig = strings.TrimSpace(trig)
			if trig == "" {
				continue
			}
			if owner, dup := seen[trig]; dup {
				return nil, fmt.Errorf("keyword set %s: trigger %q already used by %s", set.Name, trig, owner)
			}
			seen[trig] = set.Name
			triggers = append(triggers, trig)
		}
		if len(triggers) == 0 {
			return nil, fmt.Errorf("keyword set %s: at least one trigger is required", set.Name)
		}
		set.Triggers = triggers

		hasKeys := len(set.Keys) > 0
		hasScroll := strings.TrimSpace(set.Scroll) != ""
		switch {
		case hasKeys && hasScroll:
			return nil, fmt.Errorf("keyword set %s: keys and scroll are mutually exclusive", set.Name)
		case hasScroll:
			dir := actuator.ScrollDirection(strings.ToLower(strings.TrimSpace(set.Scroll)))
			if dir != actuator.ScrollUp && dir != actuator.ScrollDown {
				return nil, fmt.Errorf("keyword set %s: scroll must be up or down", set.Name)
			}
			set.Scroll = string(dir)
		case hasKeys:
			if set.Duration < 0 {
				return nil, fmt.Errorf("keyword set %s: duration must not be negative", set.Name)
			}
			if set.Duration == 0 {
				set.Duration = defaultKeywordDuration
			}
		default:
			return nil, fmt.Errorf("keyword set %s: keys or scroll is required", set.Name)
		}

		sets = append(sets, set)
	}
	return sets, nil
}

func (s KeywordSet) category() Category {
	switch {
	case s.Scroll != "":
		return CategoryScroll
	case len(s.Keys) > 1:
		return CategoryComboHold
	default:
		return CategoryKeyHold
	}
}

func (s KeywordSet) steps() []actuator.Step {
	switch s.category() {
	case CategoryScroll:
		return []actuator.Step{{Primitive: actuator.PrimitiveScroll, Direction: actuator.ScrollDirection(s.Scroll)}}
	case CategoryComboHold:
		return []actuator.Step{{Primitive: actuator.PrimitiveHoldCombo, Keys: append([]string(nil), s.Keys...), Duration: s.Duration}}
	default:
		return []actuator.Step{{Primitive: actuator.PrimitiveHoldKey, Key: s.Keys[0], Duration: s.Duration}}
	}
}

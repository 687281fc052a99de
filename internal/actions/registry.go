// Package actions maps comment text to the input actions it triggers.
//
// Resolution walks an ordered rule table and the first matching rule wins.
// Parametrized prefix rules (charged attack, spin, sprint, ...) are checked
// before the exact-match keyword sets.
package actions

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opencode-ai/danmu/internal/actuator"
	"golang.org/x/text/width"
)

// ErrUnrecognizedCommand is returned when no rule matches the text.
var ErrUnrecognizedCommand = errors.New("unrecognized command")

// Category groups descriptors by the kind of action they produce.
type Category string

const (
	CategoryKeyHold       Category = "key_hold"
	CategoryComboHold     Category = "combo_hold"
	CategoryScroll        Category = "scroll"
	CategoryClickTrain    Category = "click_train"
	CategoryChargedAttack Category = "charged_attack"
	CategorySpin          Category = "spin"
	CategoryJumpAttack    Category = "jump_attack"
	CategorySprint        Category = "sprint"
	CategoryLockTarget    Category = "lock_target"
)

// MatchMode is how a descriptor's triggers are compared with the text.
type MatchMode string

const (
	MatchPrefix MatchMode = "prefix"
	MatchExact  MatchMode = "exact"
)

// ActionDescriptor is the static description of one rule.
type ActionDescriptor struct {
	Name      string
	Category  Category
	Triggers  []string
	Match     MatchMode
	Primitive actuator.Primitive
	Default   time.Duration
	// ParamRule describes how a trailing parameter is interpreted, if any.
	ParamRule string
}

// ParsedCommand is a command text resolved against the registry.
type ParsedCommand struct {
	Raw        string
	Text       string
	Trigger    string
	Descriptor *ActionDescriptor
	// Param is the numeric parameter taken from the text, when the rule has one.
	Param *float64
	Steps []actuator.Step
}

// Category returns the descriptor category.
func (p *ParsedCommand) Category() Category {
	if p == nil || p.Descriptor == nil {
		return ""
	}
	return p.Descriptor.Category
}

// TotalDuration is the nominal time the command blocks the actuator.
func (p *ParsedCommand) TotalDuration() time.Duration {
	if p == nil {
		return 0
	}
	return actuator.TotalBlocking(p.Steps)
}

type rule struct {
	desc  ActionDescriptor
	build func(rest string) ([]actuator.Step, *float64)
}

// match returns the trigger and the text that follows it.
func (r *rule) match(text string) (string, string, bool) {
	for _, trig := range r.desc.Triggers {
		switch r.desc.Match {
		case MatchPrefix:
			if strings.HasPrefix(text, trig) {
				return trig, strings.TrimPrefix(text, trig), true
			}
		case MatchExact:
			if text == trig {
				return trig, "", true
			}
		}
	}
	return "", "", false
}

// Registry is an immutable ordered rule table.
type Registry struct {
	rules []rule
}

// NewRegistry builds a registry from the fixed prefix rules followed by sets.
func NewRegistry(sets []KeywordSet) *Registry {
	rules := specialRules()
	for _, set := range sets {
		set := set
		steps := set.steps()
		primitive := steps[0].Primitive
		rules = append(rules, rule{
			desc: ActionDescriptor{
				Name:      set.Name,
				Category:  set.category(),
				Triggers:  append([]string(nil), set.Triggers...),
				Match:     MatchExact,
				Primitive: primitive,
				Default:   set.Duration,
			},
			build: func(string) ([]actuator.Step, *float64) {
				return set.steps(), nil
			},
		})
	}
	return &Registry{rules: rules}
}

// Load builds a registry from a keymap file, or from the builtin keyword
// sets when path is empty.
func Load(path string) (*Registry, error) {
	var (
		sets []KeywordSet
		err  error
	)
	if strings.TrimSpace(path) == "" {
		sets, err = LoadBuiltinKeywordSets()
	} else {
		sets, err = LoadKeywordSets(path)
	}
	if err != nil {
		return nil, err
	}
	return NewRegistry(sets), nil
}

// Default returns a registry with the builtin keyword sets.
// It panics if the embedded table is broken.
func Default() *Registry {
	reg, err := Load("")
	if err != nil {
		panic(err)
	}
	return reg
}

// Resolve matches text against the rule table.
func (r *Registry) Resolve(text string) (*ParsedCommand, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed != "" {
		for i := range r.rules {
			rl := &r.rules[i]
			trig, rest, ok := rl.match(trimmed)
			if !ok {
				continue
			}
			steps, param := rl.build(untilNext(rest, trig))
			desc := rl.desc
			return &ParsedCommand{
				Raw:        text,
				Text:       trimmed,
				Trigger:    trig,
				Descriptor: &desc,
				Param:      param,
				Steps:      steps,
			}, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnrecognizedCommand, trimmed)
}

// Descriptors returns the rule table in evaluation order.
func (r *Registry) Descriptors() []ActionDescriptor {
	out := make([]ActionDescriptor, len(r.rules))
	for i, rl := range r.rules {
		out[i] = rl.desc
		out[i].Triggers = append([]string(nil), rl.desc.Triggers...)
	}
	return out
}

// untilNext cuts rest at the next occurrence of the trigger, so
// "重攻击2重攻击" keeps only "2".
func untilNext(rest, trig string) string {
	if trig == "" {
		return rest
	}
	if i := strings.Index(rest, trig); i >= 0 {
		return rest[:i]
	}
	return rest
}

const (
	chargedBaseHold    = 200 * time.Millisecond
	chargedSegmentHold = 2500 * time.Millisecond
	// MaxChargeSegments caps N in 重攻击N; larger counts are clamped.
	MaxChargeSegments = 20
	spinDefault        = 500 * time.Millisecond
	spinMin            = 100 * time.Millisecond
	spinMax            = 5 * time.Second
	clickTrainInterval = 100 * time.Millisecond
	clickTrainWindow   = 4500 * time.Millisecond
	jumpTap            = 200 * time.Millisecond
	jumpPause          = 100 * time.Millisecond
	sprintWindow       = 1 * time.Second
	lockTargetHold     = 100 * time.Millisecond
)

// sprintDirections maps the text after the sprint trigger to movement keys.
var sprintDirections = map[string][]string{
	"前进": {"w"},
	"后退": {"s"},
	"向左": {"a"},
	"向右": {"d"},
	"左前": {"a", "w"},
	"右前": {"d", "w"},
	"左后": {"a", "s"},
	"右后": {"d", "s"},
}

func specialRules() []rule {
	return []rule{
		{
			desc: ActionDescriptor{
				Name:      "combo1",
				Category:  CategoryClickTrain,
				Triggers:  []string{"连招1"},
				Match:     MatchPrefix,
				Primitive: actuator.PrimitiveClickTrain,
				Default:   clickTrainWindow,
				ParamRule: "left clicks every 0.1s for 4.5s",
			},
			build: func(string) ([]actuator.Step, *float64) {
				return []actuator.Step{{
					Primitive: actuator.PrimitiveClickTrain,
					Button:    actuator.ButtonLeft,
					Interval:  clickTrainInterval,
					Duration:  clickTrainWindow,
				}}, nil
			},
		},
		{
			desc: ActionDescriptor{
				Name:      "charged_attack",
				Category:  CategoryChargedAttack,
				Triggers:  []string{"重攻击"},
				Match:     MatchPrefix,
				Primitive: actuator.PrimitiveMouseHold,
				Default:   chargedBaseHold,
				ParamRule: "trailing integer N (default 1, max 20): 0.2s right hold then N x 2.5s right holds",
			},
			build: buildChargedAttack,
		},
		{
			desc: ActionDescriptor{
				Name:      "spin",
				Category:  CategorySpin,
				Triggers:  []string{"棍花"},
				Match:     MatchPrefix,
				Primitive: actuator.PrimitiveHoldKey,
				Default:   spinDefault,
				ParamRule: "trailing seconds clamped to [0.1, 5.0], default 0.5",
			},
			build: buildSpin,
		},
		{
			desc: ActionDescriptor{
				Name:      "jump_attack",
				Category:  CategoryJumpAttack,
				Triggers:  []string{"跳跃攻击"},
				Match:     MatchPrefix,
				Primitive: actuator.PrimitiveHoldKey,
				Default:   jumpTap,
				ParamRule: "0.2s ctrl tap, 0.1s pause, left click",
			},
			build: func(string) ([]actuator.Step, *float64) {
				return []actuator.Step{
					{Primitive: actuator.PrimitiveHoldKey, Key: "ctrl", Duration: jumpTap},
					{Primitive: actuator.PrimitivePause, Duration: jumpPause},
					{Primitive: actuator.PrimitiveClick, Button: actuator.ButtonLeft},
				}, nil
			},
		},
		{
			desc: ActionDescriptor{
				Name:      "sprint",
				Category:  CategorySprint,
				Triggers:  []string{"疾跑", "冲刺"},
				Match:     MatchPrefix,
				Primitive: actuator.PrimitiveHoldCombo,
				Default:   sprintWindow,
				ParamRule: "optional direction (前进/后退/向左/向右/左前/右前/左后/右后), default forward; 1s shift hold",
			},
			build: buildSprint,
		},
		{
			desc: ActionDescriptor{
				Name:      "lock_target",
				Category:  CategoryLockTarget,
				Triggers:  []string{"锁定敌人"},
				Match:     MatchPrefix,
				Primitive: actuator.PrimitiveMouseHold,
				Default:   lockTargetHold,
				ParamRule: "0.1s middle button hold",
			},
			build: func(string) ([]actuator.Step, *float64) {
				return []actuator.Step{{
					Primitive: actuator.PrimitiveMouseHold,
					Button:    actuator.ButtonMiddle,
					Duration:  lockTargetHold,
				}}, nil
			},
		},
	}
}

func buildChargedAttack(rest string) ([]actuator.Step, *float64) {
	segments := 1
	suffix := normalizeSuffix(rest)
	if isDigits(suffix) {
		n, err := strconv.Atoi(suffix)
		switch {
		case errors.Is(err, strconv.ErrRange), err == nil && n > MaxChargeSegments:
			segments = MaxChargeSegments
		case err == nil:
			segments = n
		}
	}

	steps := make([]actuator.Step, 0, segments+1)
	steps = append(steps, actuator.Step{
		Primitive: actuator.PrimitiveMouseHold,
		Button:    actuator.ButtonRight,
		Duration:  chargedBaseHold,
	})
	for i := 0; i < segments; i++ {
		steps = append(steps, actuator.Step{
			Primitive: actuator.PrimitiveMouseHold,
			Button:    actuator.ButtonRight,
			Duration:  chargedSegmentHold,
		})
	}
	param := float64(segments)
	return steps, &param
}

func buildSpin(rest string) ([]actuator.Step, *float64) {
	d := spinDefault
	suffix := normalizeSuffix(rest)
	if isDigits(strings.Replace(suffix, ".", "", 1)) {
		if secs, err := strconv.ParseFloat(suffix, 64); err == nil {
			secs = max(spinMin.Seconds(), min(spinMax.Seconds(), secs))
			d = time.Duration(secs * float64(time.Second))
		}
	}
	param := d.Seconds()
	return []actuator.Step{{Primitive: actuator.PrimitiveHoldKey, Key: "v", Duration: d}}, &param
}

func buildSprint(rest string) ([]actuator.Step, *float64) {
	direction := strings.TrimSpace(rest)
	// The other sprint trigger may appear in the remainder ("疾跑冲刺左前").
	for _, trig := range []string{"疾跑", "冲刺"} {
		direction = strings.ReplaceAll(direction, trig, "")
	}
	direction = strings.TrimSpace(direction)

	keys, ok := sprintDirections[direction]
	if !ok {
		keys = sprintDirections["前进"]
	}
	combo := append([]string{"shift"}, keys...)
	return []actuator.Step{{Primitive: actuator.PrimitiveHoldCombo, Keys: combo, Duration: sprintWindow}}, nil
}

// normalizeSuffix trims and folds full-width digits and dots to ASCII.
func normalizeSuffix(s string) string {
	return strings.TrimSpace(width.Fold.String(strings.TrimSpace(s)))
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

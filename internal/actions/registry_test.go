package actions

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opencode-ai/danmu/internal/actuator"
)

func stepStrings(steps []actuator.Step) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = s.String()
	}
	return out
}

func mustResolve(t *testing.T, reg *Registry, text string) *ParsedCommand {
	t.Helper()
	cmd, err := reg.Resolve(text)
	if err != nil {
		t.Fatalf("Resolve(%q): %v", text, err)
	}
	return cmd
}

func TestResolveKeywords(t *testing.T) {
	reg := Default()

	cases := map[string]string{
		"前进":  "holdKey(w, 500ms)",
		"翻滚":  "holdKey(space, 200ms)",
		"喝药":  "holdKey(r, 200ms)",
		"左转":  "holdKey(a, 500ms)",
		"左前":  "holdCombo(a+w, 500ms)",
		"上滚":  "scroll(up)",
		" 后退 ": "holdKey(s, 500ms)",
	}
	for text, want := range cases {
		cmd := mustResolve(t, reg, text)
		got := stepStrings(cmd.Steps)
		if len(got) != 1 || got[0] != want {
			t.Errorf("Resolve(%q) = %v, want [%s]", text, got, want)
		}
	}

	if cmd := mustResolve(t, reg, "翻滚"); cmd.Category() != CategoryKeyHold {
		t.Fatalf("expected key_hold category, got %s", cmd.Category())
	}
}

func TestResolveChargedAttack(t *testing.T) {
	reg := Default()

	cmd := mustResolve(t, reg, "重攻击3")
	want := []string{
		"mouseHold(right, 200ms)",
		"mouseHold(right, 2.5s)",
		"mouseHold(right, 2.5s)",
		"mouseHold(right, 2.5s)",
	}
	if strings.Join(stepStrings(cmd.Steps), "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected steps: %v", stepStrings(cmd.Steps))
	}
	if cmd.TotalDuration() != 7700*time.Millisecond {
		t.Fatalf("expected 7.7s total, got %v", cmd.TotalDuration())
	}
	if cmd.Param == nil || *cmd.Param != 3 {
		t.Fatalf("expected param 3, got %v", cmd.Param)
	}

	counts := map[string]int{
		"重攻击":     2,
		"重攻击x":    2,
		"重攻击0":    1,
		"重攻击２":    3,
		"重攻击2重攻击": 3,
	}
	for text, want := range counts {
		if got := len(mustResolve(t, reg, text).Steps); got != want {
			t.Errorf("Resolve(%q) produced %d steps, want %d", text, got, want)
		}
	}
}

func TestResolveChargedAttackCapsSegments(t *testing.T) {
	reg := Default()

	for _, text := range []string{
		"重攻击21",
		"重攻击5000000",
		"重攻击9223372036854775807",
		"重攻击99999999999999999999999",
	} {
		cmd := mustResolve(t, reg, text)
		if len(cmd.Steps) != MaxChargeSegments+1 {
			t.Errorf("Resolve(%q) produced %d steps, want %d", text, len(cmd.Steps), MaxChargeSegments+1)
		}
		if cmd.Param == nil || *cmd.Param != MaxChargeSegments {
			t.Errorf("Resolve(%q) param = %v, want %d", text, cmd.Param, MaxChargeSegments)
		}
		want := 200*time.Millisecond + MaxChargeSegments*2500*time.Millisecond
		if cmd.TotalDuration() != want {
			t.Errorf("Resolve(%q) total = %v, want %v", text, cmd.TotalDuration(), want)
		}
	}

	if got := len(mustResolve(t, reg, "重攻击20").Steps); got != 21 {
		t.Errorf("Resolve(重攻击20) produced %d steps, want 21", got)
	}
}

func TestResolveSpinClamps(t *testing.T) {
	reg := Default()

	cases := map[string]string{
		"棍花":            "holdKey(v, 500ms)",
		"棍花10":          "holdKey(v, 5s)",
		"棍花0":           "holdKey(v, 100ms)",
		"棍花2.5":         "holdKey(v, 2.5s)",
		"棍花abc":         "holdKey(v, 500ms)",
		"棍花1.2.3":       "holdKey(v, 500ms)",
		"棍花99999999999": "holdKey(v, 5s)",
		"棍花1e400":       "holdKey(v, 500ms)",
	}
	for text, want := range cases {
		got := stepStrings(mustResolve(t, reg, text).Steps)
		if len(got) != 1 || got[0] != want {
			t.Errorf("Resolve(%q) = %v, want %s", text, got, want)
		}
	}
}

func TestResolveFixedSpecials(t *testing.T) {
	reg := Default()

	cases := map[string][]string{
		"连招1":  {"clickTrain(left, 100ms, 4.5s)"},
		"跳跃攻击": {"holdKey(ctrl, 200ms)", "pause(100ms)", "click(left)"},
		"锁定敌人": {"mouseHold(middle, 100ms)"},
		"疾跑":   {"holdCombo(shift+w, 1s)"},
		"冲刺左前": {"holdCombo(shift+a+w, 1s)"},
		"疾跑后退": {"holdCombo(shift+s, 1s)"},
		"疾跑乱跑": {"holdCombo(shift+w, 1s)"},
	}
	for text, want := range cases {
		got := stepStrings(mustResolve(t, reg, text).Steps)
		if strings.Join(got, "|") != strings.Join(want, "|") {
			t.Errorf("Resolve(%q) = %v, want %v", text, got, want)
		}
	}

	if got := mustResolve(t, reg, "跳跃攻击").TotalDuration(); got != 300*time.Millisecond {
		t.Fatalf("expected 300ms jump attack, got %v", got)
	}
}

func TestResolveUnrecognized(t *testing.T) {
	reg := Default()

	for _, text := range []string{"", "   ", "hello", "前进吧"} {
		_, err := reg.Resolve(text)
		if !errors.Is(err, ErrUnrecognizedCommand) {
			t.Errorf("Resolve(%q) err = %v, want ErrUnrecognizedCommand", text, err)
		}
	}
}

func TestDescriptorsOrder(t *testing.T) {
	descs := Default().Descriptors()
	if len(descs) < 7 {
		t.Fatalf("expected prefix rules and keyword sets, got %d", len(descs))
	}
	if descs[0].Name != "combo1" || descs[1].Category != CategoryChargedAttack {
		t.Fatalf("unexpected leading descriptors: %s, %s", descs[0].Name, descs[1].Name)
	}
	for i, d := range descs {
		if i < 6 && d.Match != MatchPrefix {
			t.Fatalf("descriptor %d (%s) should be a prefix rule", i, d.Name)
		}
		if i >= 6 && d.Match != MatchExact {
			t.Fatalf("descriptor %d (%s) should be an exact rule", i, d.Name)
		}
	}
}

func TestLoadKeymapFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keymap.yaml")
	data := `keyword_sets:
  - name: dodge
    triggers: [闪避]
    keys: [space]
    duration: 300ms
  - name: walk
    triggers: [走]
    keys: [w]
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("write keymap: %v", err)
	}

	reg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := stepStrings(mustResolve(t, reg, "闪避").Steps); got[0] != "holdKey(space, 300ms)" {
		t.Fatalf("unexpected dodge steps: %v", got)
	}
	if got := stepStrings(mustResolve(t, reg, "走").Steps); got[0] != "holdKey(w, 500ms)" {
		t.Fatalf("expected default duration, got %v", got)
	}
	if _, err := reg.Resolve("前进"); !errors.Is(err, ErrUnrecognizedCommand) {
		t.Fatalf("keymap should replace builtin keywords, got %v", err)
	}
	// Prefix rules are always present.
	mustResolve(t, reg, "重攻击")
}

func TestParseKeywordSetsErrors(t *testing.T) {
	cases := map[string]string{
		"empty":      `keyword_sets: []`,
		"no name":    "keyword_sets:\n  - triggers: [a]\n    keys: [w]\n",
		"no action":  "keyword_sets:\n  - name: x\n    triggers: [a]\n",
		"both":       "keyword_sets:\n  - name: x\n    triggers: [a]\n    keys: [w]\n    scroll: up\n",
		"bad scroll": "keyword_sets:\n  - name: x\n    triggers: [a]\n    scroll: left\n",
		"duplicate":  "keyword_sets:\n  - name: x\n    triggers: [a]\n    keys: [w]\n  - name: y\n    triggers: [a]\n    keys: [s]\n",
		"invalid":    "keyword_sets: [",
	}
	for name, data := range cases {
		if _, err := ParseKeywordSets([]byte(data)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestGuideListsTriggers(t *testing.T) {
	out, err := Guide(Default(), GuideOptions{Capacity: 5, Separator: "，", Interval: 500 * time.Millisecond})
	if err != nil {
		t.Fatalf("Guide: %v", err)
	}
	for _, want := range []string{"重攻击", "疾跑 / 冲刺", "翻滚", "200ms", "up to 5 commands"} {
		if !strings.Contains(strings.ReplaceAll(out, "\n", " "), want) {
			t.Errorf("guide missing %q", want)
		}
	}
}

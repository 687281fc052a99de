package actions

import (
	"fmt"
	"strings"
	"text/template"
	"time"
)

const guideTemplate = `# Danmu command guide

Send one command for an immediate action. Separate up to {{.Capacity}} commands
with "{{.Separator}}" to queue them as a batch; a batch runs in order with a
{{.Interval}} pause between commands, and any single command interrupts it.

## Parametrized commands

| Command | Action | Parameter |
|---|---|---|
{{- range .Prefix}}
| {{join .Triggers " / "}} | {{.Primitive}} | {{.ParamRule}} |
{{- end}}

## Keywords

| Keywords | Action | Duration |
|---|---|---|
{{- range .Exact}}
| {{join .Triggers " / "}} | {{.Primitive}} | {{duration .Default}} |
{{- end}}

Examples: "重攻击3" charges three times, "棍花2.5" spins for 2.5s,
"疾跑左前" sprints forward left, "前进{{.Separator}}翻滚{{.Separator}}重攻击" queues three commands.
`

// GuideOptions are the queue settings quoted in the guide.
type GuideOptions struct {
	Capacity  int
	Separator string
	Interval  time.Duration
}

// Guide renders the operator guide for a registry as markdown.
func Guide(reg *Registry, opts GuideOptions) (string, error) {
	if reg == nil {
		return "", fmt.Errorf("registry is required")
	}

	var prefix, exact []ActionDescriptor
	for _, desc := range reg.Descriptors() {
		if desc.Match == MatchPrefix {
			prefix = append(prefix, desc)
		} else {
			exact = append(exact, desc)
		}
	}

	parsed, err := template.New("guide").Funcs(template.FuncMap{
		"join": strings.Join,
		"duration": func(d time.Duration) string {
			if d == 0 {
				return "-"
			}
			return d.String()
		},
	}).Parse(guideTemplate)
	if err != nil {
		return "", fmt.Errorf("parse guide: %w", err)
	}

	data := struct {
		GuideOptions
		Prefix []ActionDescriptor
		Exact  []ActionDescriptor
	}{opts, prefix, exact}

	var out strings.Builder
	if err := parsed.Execute(&out, data); err != nil {
		return "", fmt.Errorf("render guide: %w", err)
	}
	return out.String(), nil
}

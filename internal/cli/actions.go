package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/opencode-ai/danmu/internal/actions"
	"github.com/opencode-ai/danmu/internal/queue"
	"github.com/spf13/cobra"
)

var guideWrite string

func init() {
	rootCmd.AddCommand(actionsCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(guideCmd)

	guideCmd.Flags().StringVarP(&guideWrite, "write", "w", "", "write the guide to this file instead of stdout")
}

func loadRegistry() (*actions.Registry, error) {
	reg, err := actions.Load(GetConfig().Actions.KeymapFile)
	if err != nil {
		return nil, fmt.Errorf("load keymap: %w", err)
	}
	return reg, nil
}

var actionsCmd = &cobra.Command{
	Use:     "actions",
	Aliases: []string{"keymap"},
	Short:   "List recognized commands",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := loadRegistry()
		if err != nil {
			return err
		}
		descs := reg.Descriptors()

		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(os.Stdout, descs)
		}

		rows := make([][]string, 0, len(descs))
		for _, d := range descs {
			def := ""
			if d.Default > 0 {
				def = d.Default.String()
			}
			rows = append(rows, []string{
				strings.Join(d.Triggers, " / "),
				string(d.Category),
				string(d.Primitive),
				def,
				formatYesNo(d.Match == actions.MatchPrefix),
				d.ParamRule,
			})
		}
		return writeTable(os.Stdout, []string{"TRIGGERS", "CATEGORY", "PRIMITIVE", "DEFAULT", "PREFIX", "PARAMETER"}, rows)
	},
}

// resolvedCommand is the JSON form of one resolved comment.
type resolvedCommand struct {
	Text     string   `json:"text"`
	Trigger  string   `json:"trigger,omitempty"`
	Action   string   `json:"action,omitempty"`
	Param    *float64 `json:"param,omitempty"`
	Steps    []string `json:"steps,omitempty"`
	Duration string   `json:"duration,omitempty"`
	Error    string   `json:"error,omitempty"`
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <comment>",
	Short: "Show what a comment would do, without executing it",
	Long: `Resolve a comment against the keymap and print the input steps it would
produce. Batches are split with the configured separator and every
segment is resolved.`,
	Example: `  danmu resolve 重攻击3
  danmu resolve "前进，棍花2.5，疾跑左前"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := loadRegistry()
		if err != nil {
			return err
		}

		raw := strings.Join(args, " ")
		cfg := GetConfig()
		q := queue.NewManager(cfg.Queue.Capacity, cfg.Queue.Separator)
		segments := []string{raw}
		if q.IsBatch(raw) {
			segments = q.Split(raw)
		}

		var out []resolvedCommand
		unrecognized := 0
		for _, seg := range segments {
			r := resolveOne(reg, seg)
			if r.Error != "" {
				unrecognized++
			}
			out = append(out, r)
		}

		if IsJSONOutput() || IsJSONLOutput() {
			if err := WriteOutput(os.Stdout, out); err != nil {
				return err
			}
		} else {
			for _, r := range out {
				if r.Error != "" {
					fmt.Printf("%s  %s\n", colorize("??", styleWarn), r.Text)
					continue
				}
				fmt.Printf("%s  %s -> %s (%s)\n", colorize("OK", styleOK), r.Text, r.Action, r.Duration)
				for _, step := range r.Steps {
					fmt.Printf("      %s\n", step)
				}
			}
		}
		if unrecognized > 0 {
			return fmt.Errorf("%d of %d segments not recognized", unrecognized, len(out))
		}
		return nil
	},
}

func resolveOne(reg *actions.Registry, text string) resolvedCommand {
	r := resolvedCommand{Text: strings.TrimSpace(text)}
	cmd, err := reg.Resolve(text)
	if err != nil {
		if errors.Is(err, actions.ErrUnrecognizedCommand) {
			r.Error = "unrecognized"
		} else {
			r.Error = err.Error()
		}
		return r
	}
	r.Trigger = cmd.Trigger
	r.Action = cmd.Descriptor.Name
	r.Param = cmd.Param
	r.Duration = cmd.TotalDuration().String()
	for _, step := range cmd.Steps {
		r.Steps = append(r.Steps, step.String())
	}
	return r
}

var guideCmd = &cobra.Command{
	Use:   "guide",
	Short: "Print the viewer command guide as markdown",
	Example: `  danmu guide
  danmu guide --write guide.md`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := loadRegistry()
		if err != nil {
			return err
		}
		cfg := GetConfig()
		text, err := actions.Guide(reg, actions.GuideOptions{
			Capacity:  cfg.Queue.Capacity,
			Separator: cfg.Queue.Separator,
			Interval:  cfg.Queue.Interval,
		})
		if err != nil {
			return err
		}

		if guideWrite == "" {
			_, err = fmt.Fprint(os.Stdout, text)
			return err
		}
		if err := os.WriteFile(guideWrite, []byte(text), 0o644); err != nil {
			return fmt.Errorf("write guide: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Wrote %s\n", guideWrite)
		return nil
	},
}

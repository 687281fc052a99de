package cli

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/opencode-ai/danmu/internal/actions"
	"github.com/opencode-ai/danmu/internal/config"
	"github.com/opencode-ai/danmu/internal/db"
	"github.com/spf13/cobra"
)

var (
	initForce bool

	configDirFunc = config.DefaultConfigDir
)

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite an existing config file")
}

type initResult struct {
	name    string
	status  string // done, skipped, failed
	message string
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the config file and event database",
	Long: `Write a default config file, create the event database and check that the
selected actuator backend is usable.`,
	Example: `  danmu init
  danmu init --force`,
	RunE: func(cmd *cobra.Command, args []string) error {
		results := []initResult{
			createConfigFile(),
			initDatabase(cmd.Context()),
			checkPrerequisites(),
			checkKeymap(),
		}

		if IsJSONOutput() || IsJSONLOutput() {
			out := make([]map[string]string, len(results))
			for i, r := range results {
				out[i] = map[string]string{"step": r.name, "status": r.status, "message": r.message}
			}
			return WriteOutput(os.Stdout, out)
		}

		failed := false
		rows := make([][]string, len(results))
		for i, r := range results {
			rows[i] = []string{r.name, formatInitStatus(r.status), r.message}
			failed = failed || r.status == "failed"
		}
		if err := writeTable(os.Stdout, []string{"STEP", "STATUS", "DETAIL"}, rows); err != nil {
			return err
		}
		if failed {
			return fmt.Errorf("init finished with failures")
		}
		return nil
	},
}

func formatInitStatus(status string) string {
	switch status {
	case "done":
		return colorize(status, styleOK)
	case "failed":
		return colorize(status, styleErr)
	default:
		return colorize(status, styleMuted)
	}
}

func createConfigFile() initResult {
	result := initResult{name: "Config file"}
	path := filepath.Join(configDirFunc(), "config.yaml")

	force := initForce
	if _, err := os.Stat(path); err == nil && !force {
		if !IsInteractive() || !confirm(fmt.Sprintf("%s exists. Overwrite?", path)) {
			result.status = "skipped"
			result.message = fmt.Sprintf("%s exists (use --force to overwrite)", path)
			return result
		}
		force = true
	}

	if err := config.WriteDefault(path, force); err != nil {
		result.status = "failed"
		result.message = err.Error()
		return result
	}
	result.status = "done"
	result.message = path
	return result
}

func initDatabase(ctx context.Context) initResult {
	result := initResult{name: "Event database"}
	cfg := GetConfig()
	if !cfg.Database.Enabled {
		result.status = "skipped"
		result.message = "database.enabled is false"
		return result
	}
	if ctx == nil {
		ctx = context.Background()
	}

	database, err := db.Open(db.Config{Path: cfg.Database.Path})
	if err != nil {
		result.status = "failed"
		result.message = err.Error()
		return result
	}
	defer database.Close()

	applied, err := database.MigrateUp(ctx)
	if err != nil {
		result.status = "failed"
		result.message = err.Error()
		return result
	}
	result.status = "done"
	result.message = fmt.Sprintf("%s (%d migrations applied)", cfg.Database.Path, applied)
	return result
}

func checkPrerequisites() initResult {
	result := initResult{name: "Actuator"}
	cfg := GetConfig()
	if cfg.Actuator.Backend != config.BackendXdotool {
		result.status = "skipped"
		result.message = fmt.Sprintf("backend %s needs no external tools", cfg.Actuator.Backend)
		return result
	}

	path, err := exec.LookPath(cfg.Actuator.XdotoolPath)
	if err != nil {
		result.status = "failed"
		result.message = fmt.Sprintf("%s not found in PATH", cfg.Actuator.XdotoolPath)
		return result
	}
	result.status = "done"
	result.message = path
	return result
}

func checkKeymap() initResult {
	result := initResult{name: "Keymap"}
	reg, err := actions.Load(GetConfig().Actions.KeymapFile)
	if err != nil {
		result.status = "failed"
		result.message = err.Error()
		return result
	}
	result.status = "done"
	result.message = fmt.Sprintf("%d actions", len(reg.Descriptors()))
	return result
}

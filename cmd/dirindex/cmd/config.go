package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/dirindex/configs"
	"github.com/Aman-CERP/dirindex/internal/config"
	"github.com/Aman-CERP/dirindex/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Show or create dirindex configuration.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. User config (~/.config/dirindex/config.yaml)
  3. Project config (.dirindex.yaml in --config-dir or the current directory)
  4. Environment variables (DIRINDEX_*)`,
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print user config file path",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			return err
		},
	})
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), cfg)
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force, project, expanded bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file",
		Long: `Create the user configuration file from a commented template.

With --project, write .dirindex.yaml to --config-dir (or the current
directory) instead. With --expanded, write every setting with its default
value rather than the template.`,
		Example: `  dirindex config init
  dirindex config init --project
  dirindex config init --force   # back up and overwrite`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := output.New(cmd.OutOrStdout())

			path := config.GetUserConfigPath()
			template := configs.UserConfigTemplate
			if project {
				dir := configDir
				if dir == "" {
					cwd, err := os.Getwd()
					if err != nil {
						return fmt.Errorf("failed to get current directory: %w", err)
					}
					dir = cwd
				}
				path = filepath.Join(dir, ".dirindex.yaml")
				template = configs.ProjectConfigTemplate
			}

			if _, err := os.Stat(path); err == nil {
				if !force {
					out.Warningf("Configuration already exists: %s", path)
					out.Status("", "Use --force to back it up and write a fresh one")
					return nil
				}
				backup, err := config.BackupFile(path)
				if err != nil {
					return err
				}
				out.Status("", "Backup: "+backup)
			}

			if expanded {
				if err := config.NewConfig().WriteYAML(path); err != nil {
					return err
				}
			} else {
				if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
					return fmt.Errorf("failed to create config directory: %w", err)
				}
				if err := os.WriteFile(path, []byte(template), 0o644); err != nil {
					return fmt.Errorf("failed to write config: %w", err)
				}
			}
			out.Successf("Created configuration: %s", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Back up and overwrite an existing configuration")
	cmd.Flags().BoolVar(&project, "project", false, "Write .dirindex.yaml for this project instead of the user config")
	cmd.Flags().BoolVar(&expanded, "expanded", false, "Write every setting with its default value")
	return cmd
}

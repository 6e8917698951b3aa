package cmd

import (
	"fmt"

	"lims-backup/internal/config"
	"lims-backup/internal/display"

	"github.com/spf13/cobra"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Create or check the configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a sample configuration file",
	Long: `Write a configuration file with every option at its default and placeholder
connection settings. The file is created with mode 0600 because it holds the
database password.

Every option can also be set through the environment, e.g.
LIMS_BACKUP_DATABASE_PASSWORD or LIMS_BACKUP_BACKUP_REMOTE_PROVIDER.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.ConfigName + ".yaml"
		if len(args) == 1 {
			path = args[0]
		}
		if err := config.WriteSample(path, configForce); err != nil {
			return err
		}
		p, err := newPrinter(cmd.OutOrStdout())
		if err != nil {
			return err
		}
		p.Success("Wrote %s", path)
		return nil
	},
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration and check storage locations",
	Long: `Validate the configuration, create the backup directory if it is missing,
and check that the file root and remote mirror are usable. The database is
not contacted.`,
	Args: cobra.NoArgs,
	RunE: runConfigCheck,
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd, configCheckCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigCheck(cmd *cobra.Command, args []string) error {
	p, err := newPrinter(cmd.OutOrStdout())
	if err != nil {
		return err
	}

	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Read()
	if err != nil {
		return err
	}
	if used := loader.ConfigFileUsed(); used != "" {
		p.Info("Using %s", used)
	}

	result := config.NewInitializer(cfg, verbose && p.Format() == display.FormatTable).Initialize(cmd.Context())
	if err := p.Result(result, func() {
		p.Header("Configuration check")
		p.KeyValues(
			[2]string{"Configuration", readiness(result.ConfigValid)},
			[2]string{"Backup directory", readiness(result.StorageReady)},
			[2]string{"File root", readiness(result.FileRootReady)},
			[2]string{"Remote mirror", readiness(result.RemoteReady)},
		)
		for _, e := range result.Errors {
			p.Error("%s", e)
		}
		for _, w := range result.Warnings {
			p.Warning("%s", w)
		}
		p.List("Recommended fixes:", result.RecommendedFixes)
	}); err != nil {
		return err
	}

	if !result.Success {
		return fmt.Errorf("configuration check failed with %d errors", len(result.Errors))
	}
	return nil
}

func readiness(ok bool) string {
	if ok {
		return "ok"
	}
	return "not ready"
}

package main

import (
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/matsen/coauthor/internal/config"
	"github.com/matsen/coauthor/internal/embedding"
)

var convertFormat string

func init() {
	configConvertCmd.Flags().StringVar(&convertFormat, "to", embedding.FormatMapped, "Output format: mapped or text")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configSettingsCmd)
	configCmd.AddCommand(configConvertCmd)
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and prepare the experiment configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration (defaults plus file)",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration for invalid values",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
}

var configInitCmd = &cobra.Command{
	Use:   "init <path>",
	Short: "Write the default configuration to a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigInit,
}

var configSettingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "List the embedding settings of the sweep and their artifact paths",
	Args:  cobra.NoArgs,
	RunE:  runConfigSettings,
}

var configConvertCmd = &cobra.Command{
	Use:   "convert-kv <src> <dst>",
	Short: "Convert an embedding file between the text and mapped formats",
	Long: `Convert an embedding file. The mapped binary format can be memory-mapped,
so large embedding tables are paged in lazily instead of parsed at startup.`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigConvert,
}

// SettingInfo describes one setting of the sweep.
type SettingInfo struct {
	Name         string `json:"name"`
	KeyedVectors string `json:"kvs"`
	Model        string `json:"model"`
	Trained      bool   `json:"trained"`
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		exitWithError(configLoadExitCode(err), "loading config: %v", err)
	}

	if humanOutput {
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(cfg)
	}
	return outputJSON(cfg)
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg := mustLoadConfig()

	if humanOutput {
		outputHuman("Configuration is valid (%d settings)\n", len(cfg.Settings()))
		return nil
	}
	return outputJSON(StatusResponse{Status: "valid", Path: resolveConfigPath(), Count: len(cfg.Settings())})
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := args[0]
	if _, err := os.Stat(path); err == nil {
		exitWithError(ExitError, "%s already exists", path)
	}
	if err := config.Default().Save(path); err != nil {
		exitWithError(ExitError, "writing config: %v", err)
	}

	if humanOutput {
		outputHuman("Wrote default configuration to %s\n", path)
		return nil
	}
	return outputJSON(StatusResponse{Status: "created", Path: path})
}

func runConfigSettings(cmd *cobra.Command, args []string) error {
	cfg := mustLoadConfig()

	infos := make([]SettingInfo, 0)
	for _, s := range cfg.Settings() {
		_, err := os.Stat(cfg.ModelPath(s))
		infos = append(infos, SettingInfo{
			Name:         s.Name(),
			KeyedVectors: cfg.KeyedVectorsPath(s),
			Model:        cfg.ModelPath(s),
			Trained:      err == nil,
		})
	}

	if humanOutput {
		for _, info := range infos {
			mark := " "
			if info.Trained {
				mark = "*"
			}
			outputHuman("%s %s\n", mark, info.Name)
		}
		outputHuman("\n* = saved model present\n")
		return nil
	}
	return outputJSON(infos)
}

func runConfigConvert(cmd *cobra.Command, args []string) error {
	src, dst := args[0], args[1]

	store, err := embedding.Load(src, embedding.Options{Format: embedding.FormatAuto})
	if err != nil {
		exitWithErr(err)
	}
	defer store.Close()

	switch convertFormat {
	case embedding.FormatMapped:
		err = embedding.WriteMapped(dst, store)
	case embedding.FormatText:
		err = embedding.WriteText(dst, store)
	default:
		exitWithError(ExitConfigError, "unknown output format %q (valid: mapped, text)", convertFormat)
	}
	if err != nil {
		exitWithError(ExitError, "writing %s: %v", dst, err)
	}

	if humanOutput {
		outputHuman("Converted %d vectors (dim %d) to %s\n", store.Len(), store.Dim(), dst)
		return nil
	}
	return outputJSON(StatusResponse{Status: "converted", Path: dst, Count: store.Len()})
}

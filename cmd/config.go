package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Taichi-iskw/voxrefine/internal/config"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration settings",
	Long:  `Manage configuration settings for voxrefine.`,
}

// configInitCmd represents the config init command
var configInitCmd = &cobra.Command{
	Use:   "init [DATABASE_URL]",
	Short: "Initialize configuration file",
	Long:  `Create a new configuration file with database, transcription and refinement settings.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var databaseURL string
		if len(args) > 0 {
			databaseURL = args[0]
		}

		if err := config.InitConfig(databaseURL); err != nil {
			return err
		}

		configPath, err := config.GetConfigPath()
		if err != nil {
			return err
		}

		fmt.Printf("Created configuration file: %s\n", configPath)
		fmt.Println("Please edit the database_url and provider settings in this file.")

		return nil
	},
}

// configShowCmd represents the config show command
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current configuration file path and effective settings. Secrets are masked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, err := config.GetConfigPath()
		if err != nil {
			return err
		}

		fmt.Printf("Configuration file: %s\n\n", configPath)

		cfg, err := config.Load(false)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		fmt.Printf("DATABASE_URL: %s\n", maskURL(cfg.DatabaseURL))
		fmt.Printf("Transcription backend: %s (model %s, language %s)\n",
			cfg.Transcription.Backend, transcriptionModel(cfg), cfg.Transcription.Language)
		fmt.Printf("Segmenter: max %.0fs, pause %.1fs, min duration %.0fs\n",
			cfg.Segmenter.MaxSegmentSeconds, cfg.Segmenter.PauseThresholdSeconds, cfg.Segmenter.MinDurationSeconds)
		fmt.Printf("Refinement primary: %s\n", describeProvider(cfg.Refinement.Primary))
		fmt.Printf("Refinement secondary: %s\n", describeProvider(cfg.Refinement.Secondary))
		fmt.Printf("Workers: %d (queue %d, poll %s, stale after %s)\n",
			cfg.Worker.Workers, cfg.Worker.QueueSize, cfg.Worker.PollInterval, cfg.Worker.StaleAfter)
		fmt.Printf("Uploads: %s\n", cfg.Media.UploadsDir)

		return nil
	},
}

func transcriptionModel(cfg *config.Config) string {
	if cfg.Transcription.Backend == config.BackendRemote {
		return cfg.Transcription.RemoteModel
	}
	return cfg.Transcription.Model
}

func describeProvider(p config.ProviderConfig) string {
	if p.Provider == "" && p.Model == "" {
		return "(not configured)"
	}
	key := "no api key"
	if p.APIKey != "" {
		key = "api key set"
	}
	return fmt.Sprintf("%s %s (%s)", p.Provider, p.Model, key)
}

func maskURL(raw string) string {
	cfg := &config.Config{DatabaseURL: raw}
	db, err := cfg.ParseDatabaseConfig()
	if err != nil || db.Password == "" {
		return raw
	}
	return fmt.Sprintf("postgres://%s:****@%s:%d/%s", db.User, db.Host, db.Port, db.DBName)
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}

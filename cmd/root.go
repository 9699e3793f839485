package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/Taichi-iskw/voxrefine/cmd/audio"
	"github.com/Taichi-iskw/voxrefine/internal/config"
	"github.com/Taichi-iskw/voxrefine/internal/log"
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "voxrefine",
	Short: "Transcribe voice input and refine it into clean text",
	Long: `voxrefine turns submitted audio into a transcript, splits long recordings
into segments and refines the result with an LLM.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, _ := cmd.Flags().GetString("log-level")
		format, _ := cmd.Flags().GetString("log-format")

		// Flags win over the config file, which already folds in the environment
		if cfg, err := config.Load(false); err == nil {
			if level == "" {
				level = cfg.LogLevel
			}
			if format == "" {
				format = cfg.LogFormat
			}
		} else if level == "" {
			level = os.Getenv("VOXREFINE_LOG_LEVEL")
		}
		if format == "" {
			format = "console"
		}
		log.Configure(level, format)
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: console or json (default console)")

	rootCmd.AddCommand(audio.NewAudioCmd(audio.NewServiceFactory().Processor))
}

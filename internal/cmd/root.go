package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/webpair/internal/cmd/config"
	"github.com/Iron-Ham/webpair/internal/cmd/pending"
	"github.com/Iron-Ham/webpair/internal/cmd/watch"
	appconfig "github.com/Iron-Ham/webpair/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "webpair",
	Short: "Keep an automated messaging web session paired and connected",
	Long: `webpair drives a remote messaging web client through its lifecycle
(QR pairing, syncing, connected), re-pairs it when the session drops, and
delivers new incoming messages in debounced batches.

The remote client is reached through a probe directory shared with the
process that controls the browser.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/webpair/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	config.Register(rootCmd)
	watch.Register(rootCmd)
	pending.Register(rootCmd)
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	appconfig.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(appconfig.ConfigDir())
		viper.AddConfigPath("$HOME/.config/webpair")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("WEBPAIR")
	// Replace dots with underscores for nested keys in env vars
	// e.g., WEBPAIR_SESSION_DEBOUNCE_MS for session.debounce_ms
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}

package main

import (
	"os"

	"github.com/go-training/oauth-gatekeeper/pkg/config"
	"github.com/go-training/oauth-gatekeeper/pkg/logger"

	"github.com/spf13/cobra"
)

var version = "dev"

// cfg is loaded before every command runs.
var cfg *config.Config

var rootFlags struct {
	logLevel      string
	store         string
	storePath     string
	redisAddr     string
	redisPassword string
	redisDB       int
	providers     string
	baseURL       string
	stateSecret   string
	userAgent     string
}

var rootCmd = &cobra.Command{
	Use:   "gatekeeper",
	Short: "OAuth client gateway for provider APIs",
	Long: `gatekeeper authorizes against OAuth 1.0a and OAuth 2.0 providers, keeps
the resulting tokens in a credential store and calls provider APIs with them.

Settings come from the environment (GATEKEEPER_*) and an optional .env file.
Flags override the environment.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootFlags.logLevel, "log-level", "", "log level: DEBUG, INFO, WARN or ERROR")
	pf.StringVar(&rootFlags.store, "store", "", "credential store: memory, redis, bolt, file or sqlite")
	pf.StringVar(&rootFlags.storePath, "store-path", "", "path of the bolt, file or sqlite store")
	pf.StringVar(&rootFlags.redisAddr, "redis-addr", "", "redis address")
	pf.StringVar(&rootFlags.redisPassword, "redis-password", "", "redis password")
	pf.IntVar(&rootFlags.redisDB, "redis-db", 0, "redis database")
	pf.StringVar(&rootFlags.providers, "providers", "", "provider definition file (TOML)")
	pf.StringVar(&rootFlags.baseURL, "base-url", "", "public URL callbacks are built from")
	pf.StringVar(&rootFlags.stateSecret, "state-secret", "", "secret that signs the OAuth state parameter")
	pf.StringVar(&rootFlags.userAgent, "user-agent", "", "User-Agent sent to providers")

	rootCmd.AddCommand(versionCmd)
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	loaded, err := config.Load()
	if err != nil {
		return err
	}
	applyFlags(cmd, loaded)
	if err := loaded.Validate(); err != nil {
		return err
	}
	// stdout carries command output.
	logger.NewWithWriter(os.Stderr, loaded.LogLevel)
	cfg = loaded
	return nil
}

// applyFlags copies the flags set on the command line over c.
func applyFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	set := func(name string, dst *string, v string) {
		if flags.Changed(name) {
			*dst = v
		}
	}
	set("log-level", &c.LogLevel, rootFlags.logLevel)
	set("store", &c.Store, rootFlags.store)
	set("store-path", &c.StorePath, rootFlags.storePath)
	set("redis-addr", &c.RedisAddr, rootFlags.redisAddr)
	set("redis-password", &c.RedisPassword, rootFlags.redisPassword)
	set("providers", &c.Providers, rootFlags.providers)
	set("base-url", &c.BaseURL, rootFlags.baseURL)
	set("state-secret", &c.StateSecret, rootFlags.stateSecret)
	set("user-agent", &c.UserAgent, rootFlags.userAgent)
	if flags.Changed("redis-db") {
		c.RedisDB = rootFlags.redisDB
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	// version needs no configuration.
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Printf("gatekeeper version %s\n", version)
	},
}

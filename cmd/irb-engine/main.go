// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the irb-engine CLI: user and college
// representative administration, studies, protocol submissions and
// amendments, AI analysis reviews, participant response intake, and the
// background worker that drains the job outbox.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/irb-engine/internal/logging"
	"github.com/pdiddy/irb-engine/internal/secrets"
	"github.com/pdiddy/irb-engine/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

// cfg is the effective configuration, loaded before every command.
var cfg types.Config

var rootCmd = &cobra.Command{
	Use:   "irb-engine",
	Short: "IRB protocol review workflow",
	Long: `irb-engine runs the institutional review board workflow for research
studies: protocol submissions are routed to college representatives, reviewed
by the board, and screened by AI analysis agents; participant responses feed a
sequential evidence monitor that notifies the researcher when a study's
evidence reaches its threshold.

Lifecycle commands act on behalf of a registered user given with --as.
Background work (analysis runs, evidence recomputation, notifications) is
written to the job outbox and processed by "irb-engine work".`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := loadConfig()
		if err != nil {
			return err
		}
		cfg = loaded

		level, err := logging.ParseLevel(cfg.Log.Level)
		if err != nil {
			return err
		}
		logging.Init(level, cfg.Log.Format, os.Stderr)

		s, err := secrets.Load(secrets.DefaultDir)
		if err != nil {
			return err
		}
		secrets.Apply(&cfg, s)
		if len(s) > 0 {
			keys := make([]string, 0, len(s))
			for k := range s {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			logging.New("cli").Debug("loaded secrets", "keys", keys)
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./irb-engine.yaml or ~/.config/irb-engine/irb-engine.yaml)")
	rootCmd.PersistentFlags().String("db", "", "SQLite database path (overrides database.path)")
	rootCmd.PersistentFlags().String("as", "", "act as this user (ID or email)")
	rootCmd.PersistentFlags().String("output", "text", "output format: text, json, or yaml")

	_ = viper.BindPFlag("database.path", rootCmd.PersistentFlags().Lookup("db"))
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("irb-engine")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "irb-engine"))
		}
	}

	viper.SetEnvPrefix("IRB_ENGINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	setDefaults(types.DefaultConfig())

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// setDefaults registers every key so that environment variables can
// override settings absent from the config file.
func setDefaults(d types.Config) {
	viper.SetDefault("database.path", d.Database.Path)
	viper.SetDefault("log.level", d.Log.Level)
	viper.SetDefault("log.format", d.Log.Format)
	viper.SetDefault("analysis.model", d.Analysis.Model)
	viper.SetDefault("analysis.api_key", d.Analysis.APIKey)
	viper.SetDefault("analysis.max_retries", d.Analysis.MaxRetries)
	viper.SetDefault("analysis.requests_per_minute", d.Analysis.RequestsPerMinute)
	viper.SetDefault("analysis.agent_timeout", d.Analysis.AgentTimeout)
	viper.SetDefault("analysis.on_submit", d.Analysis.OnSubmit)
	viper.SetDefault("analysis.criteria_file", d.Analysis.CriteriaFile)
	viper.SetDefault("monitor.default_strategy", d.Monitor.DefaultStrategy)
	viper.SetDefault("workers.count", d.Workers.Count)
	viper.SetDefault("workers.queue_size", d.Workers.QueueSize)
	viper.SetDefault("workers.max_attempts", d.Workers.MaxAttempts)
	viper.SetDefault("documents.dir", d.Documents.Dir)
	viper.SetDefault("documents.container_runtime", d.Documents.ContainerRuntime)
	viper.SetDefault("osf.base_url", d.OSF.BaseURL)
	viper.SetDefault("osf.token", d.OSF.Token)
	viper.SetDefault("osf.timeout", d.OSF.Timeout)
	viper.SetDefault("osf.user_agent", d.OSF.UserAgent)
	viper.SetDefault("notify.dispatcher", d.Notify.Dispatcher)
	viper.SetDefault("notify.from", d.Notify.From)
	viper.SetDefault("notify.site_url", d.Notify.SiteURL)
}

func loadConfig() (types.Config, error) {
	c := types.DefaultConfig()
	if err := viper.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("reading configuration: %w", err)
	}
	if err := c.Validate(); err != nil {
		return c, fmt.Errorf("invalid configuration: %w", err)
	}
	return c, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

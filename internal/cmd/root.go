package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile   string
	outputFmt string
)

// rootCmd is the base command when called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "logscope",
	Short: "logscope: access and error log analyzer",
	Long: `logscope parses nginx access logs (with a trusted-proxy client chain) and
PHP error logs collected per origin server, derives file types and bot
traffic, and flags brute-force, SQL injection, XSS and high error-rate
clients. Reports go to the terminal, JSON, CSV, or an HTTP API.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&cfgFile, "config", "c", "", "config file (default: $HOME/.logscope.yaml)")
	pf.StringVarP(&outputFmt, "output", "o", "text", "output format: text, json")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.String("log-format", "console", "log format: console, json")
	pf.String("rules", "", "YAML file overriding detection rules")
	pf.Int("workers", 0, "shards parsed in parallel (default: number of CPUs)")
	pf.Int("top", 0, "rows per ranked table (default: from rules)")
	pf.String("error-marker", "", "word between timestamp and severity in error logs (default: PHP)")
	pf.String("access-glob", "", "access log pattern inside a server directory")
	pf.String("error-glob", "", "error log pattern inside a server directory")
	pf.Bool("resolve", false, "look up host names of the top client IPs")

	for key, flag := range map[string]string{
		"log.level":    "log-level",
		"log.format":   "log-format",
		"rules":        "rules",
		"workers":      "workers",
		"top":          "top",
		"error_marker": "error-marker",
		"access_glob":  "access-glob",
		"error_glob":   "error-glob",
		"resolve":      "resolve",
	} {
		cobra.CheckErr(viper.BindPFlag(key, pf.Lookup(flag)))
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigName(".logscope")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("LOGSCOPE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
			cobra.CheckErr(fmt.Errorf("reading config: %w", err))
		}
	}
}

// Package cmd implements the visitor CLI, grounded on the elps cmd
// package's cobra/viper wiring (cmd/debug.go): a root command plus a
// "serve" subcommand that stands up the DAP server (package dap) over a
// pair of freshly constructed host/debugger machines.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "visitor",
	Short: "Cross-VM variable visitor debugger core",
	Long:  "visitor inspects and mutates the state of an embedded scripting runtime from a separate debugger runtime through opaque reference blobs.",
}

// Execute runs the CLI, exiting the process with status 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.visitor.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error)")
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName(".visitor")
		viper.AddConfigPath("$HOME")
	}
	viper.SetEnvPrefix("VISITOR")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()
}

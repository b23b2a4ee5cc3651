package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/not-nullexception/image-derivatives/config"
	"github.com/not-nullexception/image-derivatives/internal/logger"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "derive",
	Short: "derive - generate responsive image derivatives locally",
	Long:  "derive runs the derivative pipeline on local files: responsive sizes, a blur placeholder and the dominant color per image.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.Setup(&config.LogConfig{Level: logLevel})
	},
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
}

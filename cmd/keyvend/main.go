package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/iurnickita/keyvend/internal/config"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:           "keyvend",
	Short:         "License key shop order engine",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "config", "", "path to .env file")
	rootCmd.AddCommand(serveCmd, migrateCmd, keysCmd(), auditCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func loadConfig() config.Config {
	if envFile != "" {
		return config.GetConfig(envFile)
	}
	return config.GetConfig()
}

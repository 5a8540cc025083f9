package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set via ldflags at build time
var (
	Version   = "dev"
	BuildTime = ""
	GitCommit = ""
)

var configPath string

var rootCmd = &cobra.Command{
	Use:     "specgate",
	Short:   "specgate - dynamic API gateway over OpenAPI and AsyncAPI documents",
	Long:    `A gateway that registers OpenAPI 3.x and AsyncAPI 2.x documents and proxies live calls to the endpoints they describe, over HTTP, WebSocket, MQTT, AMQP, Kafka, and NATS.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate("specgate version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file")
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

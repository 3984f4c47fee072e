// Cascade CLI — инструмент командной строки для управления runs.
//
// Использование:
//
//	cascade [--config FILE] [--json] run <subcommand> [flags]
//
// CLI играет роль API-слоя: создаёт runs в state store и публикует
// события в inbox оркестратора.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/Cascade/internal/cli"
	"github.com/shaiso/Cascade/internal/config"
	_ "github.com/shaiso/Cascade/internal/transport/rabbitmq"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var configFile string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "cascade",
		Short:         "Cascade CLI — analysis pipeline control tool",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", defaultConfigPath(), "Path to config file")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	// Логи транспорта — в stderr, чтобы не мешать данным в stdout.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	clientFn := func() (*cli.Client, error) {
		cfg, err := config.Load(configFile)
		if err != nil {
			return nil, err
		}
		return cli.NewClient(context.Background(), cfg, logger)
	}
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewRunCmd(clientFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	if v := os.Getenv("CONFIG_FILE"); v != "" {
		return v
	}
	return "config.yaml"
}

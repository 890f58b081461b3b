// Durable CLI — инструмент командной строки для запуска, опроса
// и остановки orchestration instances через HTTP API.
//
// Использование:
//
//	durable [--api-url URL] [--json] <command> [args] [flags]
//
// Команды:
//
//	start [NAME]   Запуск orchestration (по умолчанию messaging)
//	status         Незавершённые instances
//	show ID        Состояние instance
//	history ID     Журнал instance
//	terminate ID   Запрос остановки
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/Durable/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "durable",
		Short:         "Durable CLI — durable orchestration coordinator",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultURL := "http://localhost:8080"
	if v := os.Getenv("DURABLE_API_URL"); v != "" {
		defaultURL = v
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", defaultURL, "API server URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(cli.NewCommands(clientFn, outputFn)...)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

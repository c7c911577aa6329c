package cmd

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ErrandDispatchPlatform/pkg/logger"
	"ErrandDispatchPlatform/services/tracker-agent/internal/client"
)

var rootCmd = &cobra.Command{
	Use:   "errand-tracker",
	Short: "Errand tracker - отслеживание местоположения исполнителя",
	Long: `Errand tracker выводит исполнителя на линию и периодически отправляет
его местоположение в сервис диспетчеризации.

Источником позиции служит фиксированная точка или записанный маршрут.`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

// Execute запускает корневую команду
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.errand-tracker.yaml)")
	rootCmd.PersistentFlags().StringP("server", "s", "http://localhost:8080", "dispatch service base URL")
	rootCmd.PersistentFlags().String("token", "", "worker access token")
	rootCmd.PersistentFlags().Duration("report-timeout", 15*time.Second, "timeout of a single report call")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("environment", "dev", "environment (dev, staging, prod)")

	for _, name := range []string{"config", "server", "token", "report-timeout", "log-level", "environment"} {
		cobra.CheckErr(viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)))
	}

	rootCmd.AddCommand(trackCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(offlineCmd)
}

// initConfig читает файл конфигурации и переменные окружения ERRAND_TRACKER_*
func initConfig() error {
	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".errand-tracker")
	}

	viper.SetEnvPrefix("errand_tracker")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !stderrors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}
	return nil
}

func newLogger() (logger.Logger, error) {
	return logger.NewLogger(viper.GetString("environment"), viper.GetString("log-level"), "tracker-agent")
}

func newDispatchClient() (*client.DispatchClient, error) {
	token := viper.GetString("token")
	if token == "" {
		return nil, fmt.Errorf("worker token is required (--token or ERRAND_TRACKER_TOKEN)")
	}
	return client.NewDispatchClient(viper.GetString("server"), token, viper.GetDuration("report-timeout")), nil
}

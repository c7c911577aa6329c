package cmd

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ErrandDispatchPlatform/pkg/logger"
	"ErrandDispatchPlatform/services/tracker-agent/internal/agent"
	"ErrandDispatchPlatform/services/tracker-agent/internal/geolocation"
)

var trackCmd = &cobra.Command{
	Use:   "track",
	Short: "Выйти на линию и отслеживать местоположение до прерывания",
	Long: `Выводит исполнителя на линию и отправляет позицию периодически и при
перемещении. SIGUSR1 запрашивает внеочередное обновление, SIGINT/SIGTERM
снимают исполнителя с линии.`,
	RunE: runTrack,
}

func init() {
	trackCmd.Flags().Float64("lat", 0, "fixed latitude")
	trackCmd.Flags().Float64("lng", 0, "fixed longitude")
	trackCmd.Flags().Float64("accuracy", 0, "fixed accuracy in meters (0 = unknown)")
	trackCmd.Flags().String("track", "", "YAML track file to replay instead of a fixed point")
	trackCmd.Flags().Duration("interval", agent.DefaultConfig().ReportInterval, "periodic report interval")
	trackCmd.Flags().Duration("fix-timeout", agent.DefaultConfig().FixTimeout, "position fix timeout")
	trackCmd.Flags().Float64("threshold-km", agent.DefaultConfig().MovementThresholdKm, "movement threshold for watch reports")

	for _, name := range []string{"lat", "lng", "accuracy", "track", "interval", "fix-timeout", "threshold-km"} {
		cobra.CheckErr(viper.BindPFlag("track."+name, trackCmd.Flags().Lookup(name)))
	}
}

func runTrack(cmd *cobra.Command, _ []string) error {
	appLogger, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = appLogger.Sync() }()

	dispatch, err := newDispatchClient()
	if err != nil {
		return err
	}

	provider, err := newProvider(cmd)
	if err != nil {
		return err
	}

	a := agent.New(provider, dispatch, agent.Config{
		FixTimeout:          viper.GetDuration("track.fix-timeout"),
		ReportInterval:      viper.GetDuration("track.interval"),
		ReportTimeout:       viper.GetDuration("report-timeout"),
		MovementThresholdKm: viper.GetFloat64("track.threshold-km"),
	}, appLogger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		var fe *geolocation.FixError
		if stderrors.As(err, &fe) {
			fmt.Fprintln(cmd.ErrOrStderr(), fe.UserMessage())
		}
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "На линии. Ctrl+C чтобы уйти с линии.")

	refresh := make(chan os.Signal, 1)
	signal.Notify(refresh, syscall.SIGUSR1)
	defer signal.Stop(refresh)

	halted := a.Halted()
	for {
		select {
		case <-ctx.Done():
			return a.Stop(context.Background())
		case <-halted:
			st := a.Status()
			_ = a.Stop(context.Background())
			if st.LastError != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), st.LastError.UserMessage())
				return st.LastError
			}
			if st.ReportError != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "Сервер отклонил отчет о местоположении, отслеживание остановлено.")
				return st.ReportError
			}
			return nil
		case <-refresh:
			if err := a.UpdateNow(ctx); err != nil {
				appLogger.Warn("Manual update failed", logger.Error(err))
			}
		}
	}
}

func newProvider(cmd *cobra.Command) (geolocation.Provider, error) {
	if path := viper.GetString("track.track"); path != "" {
		return geolocation.LoadTrack(path)
	}
	if !cmd.Flags().Changed("lat") && !viper.IsSet("track.lat") {
		return nil, fmt.Errorf("either --track or --lat/--lng is required")
	}

	var accuracy *float64
	if acc := viper.GetFloat64("track.accuracy"); acc > 0 {
		accuracy = &acc
	}
	return geolocation.NewStaticProvider(viper.GetFloat64("track.lat"), viper.GetFloat64("track.lng"), accuracy), nil
}

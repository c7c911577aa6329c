package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"ErrandDispatchPlatform/services/tracker-agent/internal/client"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Отправить одну позицию",
	RunE: func(cmd *cobra.Command, _ []string) error {
		dispatch, err := newDispatchClient()
		if err != nil {
			return err
		}

		lat, _ := cmd.Flags().GetFloat64("lat")
		lng, _ := cmd.Flags().GetFloat64("lng")
		report := client.PositionReport{Lat: lat, Lng: lng}
		if cmd.Flags().Changed("accuracy") {
			acc, _ := cmd.Flags().GetFloat64("accuracy")
			report.Accuracy = &acc
		}
		if cmd.Flags().Changed("online") {
			online, _ := cmd.Flags().GetBool("online")
			report.IsOnline = &online
		}

		ack, err := dispatch.ReportPosition(cmd.Context(), report)
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(ack, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

var offlineCmd = &cobra.Command{
	Use:   "offline",
	Short: "Уйти с линии",
	RunE: func(cmd *cobra.Command, _ []string) error {
		dispatch, err := newDispatchClient()
		if err != nil {
			return err
		}
		if err := dispatch.SetOffline(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Исполнитель снят с линии")
		return nil
	},
}

func init() {
	reportCmd.Flags().Float64("lat", 0, "latitude")
	reportCmd.Flags().Float64("lng", 0, "longitude")
	reportCmd.Flags().Float64("accuracy", 0, "accuracy in meters")
	reportCmd.Flags().Bool("online", false, "set online flag")
	_ = reportCmd.MarkFlagRequired("lat")
	_ = reportCmd.MarkFlagRequired("lng")
}

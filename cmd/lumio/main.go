// Command lumio is the CLI companion to lumiod. It talks to a running
// device over its HTTP API.
package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/lumio-dev/lumio/internal/client"
	"github.com/lumio-dev/lumio/internal/version"
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var baseURL string

	cmd := &cobra.Command{
		Use:           "lumio",
		Short:         "Control a Lumio device over its HTTP API",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&baseURL, "url", "",
		"device base URL (default $LUMIO_BASE_URL or "+client.DefaultBaseURL+")")

	cmd.AddCommand(newStatusCmd(&baseURL))
	cmd.AddCommand(newSettingsCmd(&baseURL))
	return cmd
}

func newStatusCmd(baseURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show device status",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := client.New(*baseURL).Status(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("state:      %s\n", status.State)
			fmt.Printf("retries:    %d\n", status.Retries)
			fmt.Printf("occupancy:  %d (roster %d)\n", status.Occupancy, status.RosterSize)
			fmt.Printf("indicator:  %s\n", status.IndicatorMode)
			fmt.Printf("uptime:     %.0fs\n", status.UptimeSeconds)
			fmt.Printf("version:    %s\n", status.Version)

			if len(status.Events) > 0 {
				topics := make([]string, 0, len(status.Events))
				for topic := range status.Events {
					topics = append(topics, topic)
				}
				sort.Strings(topics)
				fmt.Println("events:")
				for _, topic := range topics {
					fmt.Printf("  %-20s %d\n", topic, status.Events[topic])
				}
			}
			return nil
		},
	}
}

func newSettingsCmd(baseURL *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Read or write device settings",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Show the saved settings (password redacted)",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := client.New(*baseURL).Settings(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("ssid:       %s\n", settings.SSID)
			fmt.Printf("pass:       %s\n", settings.Password)
			fmt.Printf("led_color:  %s\n", settings.LEDColor)
			return nil
		},
	})

	var ssid, pass, ledColor string
	set := &cobra.Command{
		Use:   "set",
		Short: "Save settings; changing credentials reboots the device",
		RunE: func(cmd *cobra.Command, args []string) error {
			fields := make(map[string]string)
			if cmd.Flags().Changed("ssid") {
				fields["ssid"] = ssid
			}
			if cmd.Flags().Changed("pass") {
				fields["pass"] = pass
			}
			if cmd.Flags().Changed("led-color") {
				fields["led_color"] = ledColor
			}
			if len(fields) == 0 {
				return fmt.Errorf("nothing to save, pass at least one of --ssid, --pass, --led-color")
			}

			if err := client.New(*baseURL).Save(cmd.Context(), fields); err != nil {
				return err
			}
			fmt.Println("saved")
			return nil
		},
	}
	set.Flags().StringVar(&ssid, "ssid", "", "Wi-Fi network name")
	set.Flags().StringVar(&pass, "pass", "", "Wi-Fi password")
	set.Flags().StringVar(&ledColor, "led-color", "", "indicator color as #RRGGBB")
	cmd.AddCommand(set)

	return cmd
}

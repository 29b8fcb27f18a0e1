package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mkushima/canbus-dev-utils/driver"
)

const flagBitrate = "bitrate"

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Bring a CAN interface up with the given bitrate",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ifname, _ := cmd.Flags().GetString(flagInterface)
		bitrate, _ := cmd.Flags().GetUint32(flagBitrate)
		if err := driver.SetupInterface(ifname, bitrate); err != nil {
			return err
		}
		log.Info().Str("interface", ifname).Uint32("bitrate", bitrate).Msg("interface up")
		return nil
	},
}

func init() {
	setupCmd.Flags().Uint32(flagBitrate, 500000, "bus bitrate in bit/s (0 keeps the configured one)")
	rootCmd.AddCommand(setupCmd)
}

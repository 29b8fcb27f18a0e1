package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mkushima/canbus-dev-utils/isotp"
	"github.com/mkushima/canbus-dev-utils/logrecorder"
)

const (
	flagInterface = "interface"
	flagRxID      = "rx-id"
	flagTxID      = "tx-id"
	flagFD        = "fd"
	flagVerbose   = "verbose"
	flagRecord    = "record"
)

var rootCmd = &cobra.Command{
	Use:          "canbusdev",
	Short:        "Diagnostic transport tooling for CAN networks",
	Long:         "canbusdev speaks ISO-TP and the diagnostic services on top of it, as a bench client or a simulated node.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		verbose, _ := cmd.Flags().GetBool(flagVerbose)
		record, _ := cmd.Flags().GetBool(flagRecord)
		return logrecorder.Setup(cmd.Name(), verbose, record)
	},
}

// Execute runs the root command with the given lifetime context.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringP(flagInterface, "i", "can0", "SocketCAN interface name")
	pf.Bool(flagFD, false, "use CAN FD frame sizes on the transport")
	pf.BoolP(flagVerbose, "v", false, "debug logging")
	pf.Bool(flagRecord, false, "also write log output to a dated capture file")
}

// parseCanID accepts decimal or 0x-prefixed hexadecimal identifiers.
func parseCanID(s string) (uint32, error) {
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s, base = s[2:], 16
	}
	id, err := strconv.ParseUint(s, base, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid CAN identifier %q", s)
	}
	return uint32(id), nil
}

// addressFromFlags builds the session address from the command's rx-id
// and tx-id flags. Identifiers above the 11-bit range select extended
// addressing.
func addressFromFlags(cmd *cobra.Command) (*isotp.Address, error) {
	rxStr, _ := cmd.Flags().GetString(flagRxID)
	txStr, _ := cmd.Flags().GetString(flagTxID)
	rxID, err := parseCanID(rxStr)
	if err != nil {
		return nil, err
	}
	txID, err := parseCanID(txStr)
	if err != nil {
		return nil, err
	}
	mode := isotp.Normal11Bits
	if rxID > 0x7FF || txID > 0x7FF {
		mode = isotp.Normal29Bits
	}
	return isotp.NewAddress(mode, txID, rxID)
}

func sessionConfig(cmd *cobra.Command) isotp.Config {
	cfg := isotp.DefaultConfig()
	cfg.FDEnabled, _ = cmd.Flags().GetBool(flagFD)
	return cfg
}

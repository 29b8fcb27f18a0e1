package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mkushima/canbus-dev-utils/driver"
	"github.com/mkushima/canbus-dev-utils/isotp"
	"github.com/mkushima/canbus-dev-utils/uds"
	"github.com/mkushima/canbus-dev-utils/udsclient"
)

const (
	flagDID     = "did"
	flagWrite   = "write"
	flagRetries = "retries"
	flagTimeout = "timeout"
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Read and write data identifiers on a remote node",
	RunE:  runClient,
}

func init() {
	f := clientCmd.Flags()
	f.String(flagRxID, "0x18DA4AEE", "CAN identifier responses arrive on")
	f.String(flagTxID, "0x18DAEE4A", "CAN identifier requests are sent on")
	f.StringSlice(flagDID, []string{"0xF190"}, "data identifiers to read")
	f.StringSlice(flagWrite, nil, "records to write, as did=hexvalue")
	f.Uint(flagRetries, 3, "attempts per request")
	f.Duration(flagTimeout, time.Second, "response timeout per attempt")
	rootCmd.AddCommand(clientCmd)
}

func runClient(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	ifname, _ := cmd.Flags().GetString(flagInterface)

	addr, err := addressFromFlags(cmd)
	if err != nil {
		return err
	}
	transport, err := driver.NewSocketCAN(ctx, ifname)
	if err != nil {
		return err
	}
	defer transport.Close()

	cfg := sessionConfig(cmd)
	cfg.STmin = 32
	session, err := isotp.NewSession(transport, addr, cfg)
	if err != nil {
		return err
	}

	client := udsclient.New(session)
	timeout, _ := cmd.Flags().GetDuration(flagTimeout)
	client.SetTimeout(timeout)
	attempts, _ := cmd.Flags().GetUint(flagRetries)

	writes, _ := cmd.Flags().GetStringSlice(flagWrite)
	for _, spec := range writes {
		did, value, err := parseWriteSpec(spec)
		if err != nil {
			return err
		}
		err = retry.Do(
			func() error {
				return client.WriteDataByIdentifier(ctx, did, value)
			},
			retry.Context(ctx),
			retry.Attempts(attempts),
			retry.RetryIf(isTransient),
			retry.OnRetry(func(n uint, err error) {
				log.Warn().Uint("attempt", n+1).Err(err).Str("did", did.String()).Msg("write retried")
			}),
		)
		if err != nil {
			return fmt.Errorf("write %s: %w", did, err)
		}
		log.Info().Str("did", did.String()).Int("len", len(value)).Msg("record written")
	}

	dids, _ := cmd.Flags().GetStringSlice(flagDID)
	for _, s := range dids {
		did, err := parseDIDFlag(s)
		if err != nil {
			return err
		}
		var value []byte
		err = retry.Do(
			func() error {
				var err error
				value, err = client.ReadDataByIdentifier(ctx, did)
				return err
			},
			retry.Context(ctx),
			retry.Attempts(attempts),
			retry.RetryIf(isTransient),
			retry.OnRetry(func(n uint, err error) {
				log.Warn().Uint("attempt", n+1).Err(err).Str("did", did.String()).Msg("read retried")
			}),
		)
		if err != nil {
			return fmt.Errorf("read %s: %w", did, err)
		}
		printRecord(cmd, did, value)
	}
	return nil
}

// isTransient keeps retries for timeouts and transport hiccups but not
// for negative responses, which would only repeat.
func isTransient(err error) bool {
	var neg *udsclient.NegativeResponseError
	return !errors.As(err, &neg)
}

func parseDIDFlag(s string) (uds.DataIdentifier, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	id, err := strconv.ParseUint(trimmed, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid data identifier %q", s)
	}
	return uds.DataIdentifier(id), nil
}

func parseWriteSpec(spec string) (uds.DataIdentifier, []byte, error) {
	parts := strings.SplitN(spec, "=", 2)
	if len(parts) != 2 {
		return 0, nil, fmt.Errorf("write spec %q must be did=hexvalue", spec)
	}
	did, err := parseDIDFlag(parts[0])
	if err != nil {
		return 0, nil, err
	}
	value, err := decodeHexValue(parts[1])
	if err != nil {
		return 0, nil, fmt.Errorf("write spec %q: %w", spec, err)
	}
	return did, value, nil
}

func decodeHexValue(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd length hex value")
	}
	value := make([]byte, len(s)/2)
	for i := range value {
		b, err := strconv.ParseUint(s[2*i:2*i+2], 16, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid hex value %q", s)
		}
		value[i] = uint8(b)
	}
	return value, nil
}

func printRecord(cmd *cobra.Command, did uds.DataIdentifier, value []byte) {
	if printable(value) {
		codec := uds.AsciiCodec{Length: len(value)}
		if text, err := codec.Decode(value); err == nil {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %q\n", did, text)
			return
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: % X\n", did, value)
}

func printable(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for _, c := range b {
		if c < 0x20 || c > 0x7E {
			return false
		}
	}
	return true
}

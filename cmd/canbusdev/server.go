package main

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mkushima/canbus-dev-utils/cyclic"
	"github.com/mkushima/canbus-dev-utils/driver"
	"github.com/mkushima/canbus-dev-utils/isotp"
	"github.com/mkushima/canbus-dev-utils/udsserver"
)

const (
	flagData            = "data"
	flagPollInterval    = "poll-interval"
	flagHeartbeatID     = "heartbeat-id"
	flagHeartbeatPeriod = "heartbeat-period"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Simulate a diagnostic node answering read and write requests",
	RunE:  runServer,
}

func init() {
	f := serverCmd.Flags()
	f.String(flagRxID, "0x18DAEE4A", "CAN identifier requests arrive on")
	f.String(flagTxID, "0x18DA4AEE", "CAN identifier responses are sent on")
	f.String(flagData, "", "TOML file with the data identifier table (built-in dummy records when empty)")
	f.Duration(flagPollInterval, 100*time.Millisecond, "dispatch loop interval")
	f.String(flagHeartbeatID, "", "CAN identifier for a periodic heartbeat frame (disabled when empty)")
	f.Duration(flagHeartbeatPeriod, time.Second, "heartbeat transmission period")
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, _ []string) error {
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

	session, err := isotp.NewSession(transport, addr, sessionConfig(cmd))
	if err != nil {
		return err
	}

	store := udsserver.DefaultDataStore()
	if path, _ := cmd.Flags().GetString(flagData); path != "" {
		records, err := udsserver.LoadDataFile(path)
		if err != nil {
			return err
		}
		store = udsserver.NewDataStore(records)
	}
	server := udsserver.NewWithStore(session, store)

	interval, _ := cmd.Flags().GetDuration(flagPollInterval)
	log.Info().
		Str("interface", ifname).
		Uint32("rx", addr.RxID).
		Uint32("tx", addr.TxID).
		Int("records", len(store.Identifiers())).
		Msg("diagnostic node up")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(ctx, interval)
	})
	if heartbeat, _ := cmd.Flags().GetString(flagHeartbeatID); heartbeat != "" {
		id, err := parseCanID(heartbeat)
		if err != nil {
			return err
		}
		period, _ := cmd.Flags().GetDuration(flagHeartbeatPeriod)
		g.Go(func() error {
			return runHeartbeat(ctx, transport, id, period)
		})
	}
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	log.Info().Msg("diagnostic node stopped")
	return nil
}

// runHeartbeat broadcasts an alive counter frame on its own identifier
// so bus monitors can tell the node is up between requests.
func runHeartbeat(ctx context.Context, transport isotp.FrameTransport, id uint32, period time.Duration) error {
	sched := cyclic.NewScheduler()
	var counter byte
	msg := isotp.CanMessage{
		ArbitrationID: id,
		Data:          []byte{counter},
		IsExtendedID:  id > 0x7FF,
	}
	sched.Add(msg, period, time.Now())

	ticker := time.NewTicker(period / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			for range sched.Due(now) {
				counter++
				beat := msg
				beat.Data = []byte{counter}
				if err := transport.Send(beat); err != nil {
					log.Warn().Err(err).Msg("heartbeat transmission failed")
				}
			}
		}
	}
}

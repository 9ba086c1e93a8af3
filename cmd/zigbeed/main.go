// Command zigbeed boots the ZigBee Network Manager against a serial EZSP
// radio and blocks until it is asked to shut down. It issues no commands of
// its own — a CLI/UI surface is out of scope (spec.md Non-goals) — it only
// wires transport, persistence, and the manager together and keeps the
// process alive.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nsavage/zigbee-netmgr/pkg/zigbee"
	"github.com/nsavage/zigbee-netmgr/pkg/zigbee/attrschema"
	"github.com/nsavage/zigbee-netmgr/pkg/zigbee/store"
	"github.com/nsavage/zigbee-netmgr/pkg/zigbee/transport/ezsp"
	"github.com/nsavage/zigbee-netmgr/pkg/zigbee/zcl"
	"github.com/nsavage/zigbee-netmgr/pkg/zigbee/zdo"
)

// shutdownGrace is the deadline of the context passed to Shutdown. Shutdown
// does not consult that context: its final persistence save and transport
// close run to completion however long they take.
const shutdownGrace = 10 * time.Second

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	dbPath := flag.String("db", "zigbeed.db", "path to the network state SQLite database")
	serialPort := flag.String("device", "/dev/ttyUSB0", "path to the radio's serial device")
	baud := flag.Int("baud", 115200, "serial baud rate (informational; the EZSP transport always uses 115200 8N1)")
	channel := flag.Uint("channel", 15, "ZigBee operating channel (11-26)")
	panID := flag.Uint("pan-id", 0xFFFF, "ZigBee PAN id (0-0x3FFF, or 0xFFFF for \"transport chooses\")")
	reinitialize := flag.Bool("reinitialize", false, "discard any network state surviving on the radio and form fresh instead of resuming")
	flag.Parse()
	_ = baud // the EZSP transport does not expose a configurable baud rate

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	persistence, err := store.OpenAdapter(*dbPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open state database")
	}
	defer func() {
		if err := persistence.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close state database")
		}
	}()

	transport := ezsp.New(*serialPort, log.Logger)

	manager := zigbee.NewManager(transport, zcl.New(), zdo.New(),
		zigbee.WithLogger(log.Logger),
		zigbee.WithPersistence(persistence),
		zigbee.WithAttributeValidator(attrschema.NewValidator()),
	)

	if err := manager.Initialize(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize manager")
	}
	if err := manager.SetChannel(uint8(*channel)); err != nil {
		log.Fatal().Err(err).Msg("failed to set channel")
	}
	if err := manager.SetPANID(uint16(*panID)); err != nil {
		log.Fatal().Err(err).Msg("failed to set PAN id")
	}

	manager.OnNode(func(ev zigbee.NodeEvent) {
		log.Info().Stringer("kind", ev.Kind).Str("node", ev.Node.IEEEAddress.String()).Msg("node event")
	})
	manager.OnAnnounce(func(ev zigbee.AnnounceEvent) {
		log.Info().Str("ieee", ev.IEEEAddress.String()).Msg("device announced")
	})

	if err := manager.Startup(ctx, *reinitialize); err != nil {
		log.Fatal().Err(err).Msg("failed to start network manager")
	}
	log.Info().Msg("zigbeed running")

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	if err := manager.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown reported an error")
	}
}

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/beastsplitter/beastsplitter/internal/beastio"
	"github.com/beastsplitter/beastsplitter/internal/config"
	"github.com/beastsplitter/beastsplitter/internal/modesfilter"
	"github.com/beastsplitter/beastsplitter/internal/monitor"
	"github.com/beastsplitter/beastsplitter/internal/statuswriter"
)

var (
	configPath  string
	devicePath  string
	monitorAddr string
)

var rootCmd = &cobra.Command{
	Use:   "beastsplitterd",
	Short: "Split a Beast/Radarcape Mode-S feed across multiple consumers",
	Long: `beastsplitterd connects to a Beast or Radarcape-compatible serial
receiver, autodetects its baud rate and type, and fans the decoded
message stream out to any number of downstream consumers (currently a
websocket live-monitoring dashboard and a GPS sync status file).`,
	RunE: runServe,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "/etc/beastsplitterd/beastsplitterd.yaml", "path to config file")
	rootCmd.Flags().StringVar(&devicePath, "device", "", "override the configured serial device path")
	rootCmd.Flags().StringVar(&monitorAddr, "monitor-addr", "", "override the configured monitor listen address")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("[main] beastsplitterd starting")

	cfg := config.Load(configPath)
	if devicePath != "" {
		cfg.Receiver.DevicePath = devicePath
	}
	if monitorAddr != "" {
		cfg.Monitor.ListenAddr = monitorAddr
	}
	if !cfg.Receiver.FixedTypeValid() {
		return fmt.Errorf("invalid receiver.fixed_type %q: must be \"\", \"beast\", or \"radarcape\"", cfg.Receiver.FixedType)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %v, shutting down", sig)
		cancel()
	}()

	fixedType := beastio.ReceiverUnknown
	switch strings.ToLower(cfg.Receiver.FixedType) {
	case "beast":
		fixedType = beastio.ReceiverBeast
	case "radarcape":
		fixedType = beastio.ReceiverRadarcape
	}

	engine := beastio.NewEngine(beastio.EngineConfig{
		DevicePath:              cfg.Receiver.DevicePath,
		FixedBaudRate:           cfg.Receiver.FixedBaudRate,
		FixedReceiverType:       fixedType,
		RadarcapeDetectInterval: time.Duration(cfg.Receiver.RadarcapeDetectMillis) * time.Millisecond,
		FixedSettings: beastio.Settings{
			FilterDF11DF17Only: cfg.Settings.FilterDF11DF17Only,
			CRCDisable:         cfg.Settings.CRCDisable,
			MaskDF0DF4DF5:      cfg.Settings.MaskDF0DF4DF5,
			FECDisable:         cfg.Settings.FECDisable,
			ModeAC:             cfg.Settings.ModeAC,
		},
	})
	engine.Start()
	defer engine.Close()

	distributor := modesfilter.NewDistributor()
	distributor.SetFilterNotifier(engine.SetFilter)
	engine.SetMessageNotifier(distributor.Broadcast)

	mon := monitor.New(cfg.Monitor, distributor)
	engine.SetReceiverTypeNotifier(func(t beastio.ReceiverType) {
		mon.SetReceiverStatus(t.String(), engine.Connected())
	})
	engine.SetErrorNotifier(func(err error) {
		log.Printf("[main] receiver error: %v", err)
		mon.SetReceiverStatus(engine.ReceiverTypeName(), engine.Connected())
	})

	var sw *statuswriter.Writer
	if cfg.Status.Enabled {
		interval := time.Duration(cfg.Status.Interval) * time.Millisecond
		sw = statuswriter.New(distributor, engine, cfg.Status.Path, interval)
		sw.Start()
		defer sw.Close()
	}

	if err := mon.Run(ctx); err != nil {
		log.Printf("[main] monitor exited: %v", err)
	}

	return nil
}

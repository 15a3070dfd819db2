package main

import (
	"FlowSentinel/internal/api"
	"FlowSentinel/internal/config"
	"FlowSentinel/internal/engine/manager"
	"FlowSentinel/internal/engine/protocol"
	"FlowSentinel/internal/logging"
	"FlowSentinel/internal/model"
	"FlowSentinel/internal/probe"
	"FlowSentinel/internal/query"
	fspcap "FlowSentinel/pkg/pcap"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	iface      string
	bpfFilter  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "fs-engine",
		Short: "Per-flow feature extraction and classification engine",
		Long: `fs-engine groups packets into bidirectional flows, computes the 78 flow
features when a flow goes idle, and hands the features to a classifier.

Packets come from a live interface, a pcap trace or a fs-probe stream.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "Path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log.level from the configuration")

	liveCmd := &cobra.Command{
		Use:   "live",
		Short: "Capture from a network interface",
		Args:  cobra.NoArgs,
		RunE:  runLive,
	}
	liveCmd.Flags().StringVarP(&iface, "iface", "i", "", "Interface to capture from (overrides capture.interface)")
	liveCmd.Flags().StringVarP(&bpfFilter, "filter", "f", "", "BPF filter (overrides capture.bpf_filter)")

	rootCmd.AddCommand(
		liveCmd,
		&cobra.Command{
			Use:   "replay <pcap>",
			Short: "Replay a pcap trace, expiring flows on packet time",
			Args:  cobra.ExactArgs(1),
			RunE:  runReplay,
		},
		&cobra.Command{
			Use:   "stream",
			Short: "Consume packets published by fs-probe over NATS",
			Args:  cobra.NoArgs,
			RunE:  runStream,
		},
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := logging.Setup(cfg.Log); err != nil {
		return nil, err
	}
	log.Println("Configuration loaded successfully.")
	return cfg, nil
}

// engine bundles the manager with its optional API server.
type engine struct {
	manager *manager.Manager
	api     *api.Server
}

func startEngine(cfg *config.Config) (*engine, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m, err := manager.NewManager(cfg, reg)
	if err != nil {
		return nil, fmt.Errorf("failed to create manager: %w", err)
	}
	m.Start()

	e := &engine{manager: m}
	if cfg.API.Enabled {
		e.api = api.NewServer(cfg.API.ListenAddr, m, m.Recent(), reg)
		for _, def := range cfg.Writers {
			if !def.Enabled || def.Type != "clickhouse" {
				continue
			}
			querier, err := query.NewClickHouseQuerier(def.ClickHouse)
			if err != nil {
				log.Warnf("Verdict history disabled: %v", err)
				break
			}
			e.api.WithHistory(querier)
			break
		}
		e.api.Start()
	}
	return e, nil
}

func (e *engine) stop() {
	if e.api != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.api.Shutdown(ctx); err != nil {
			log.Warnf("API server forced to shutdown: %v", err)
		}
	}
	e.manager.Stop()
	s := e.manager.Stats()
	log.Printf("Shutdown complete: %d packets, %d flows, %d flagged, %d unclassified.",
		s.PacketsIngested, s.FlowsEvicted, s.Flagged, s.Unclassified)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runLive(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if iface != "" {
		cfg.Capture.Interface = iface
	}
	if bpfFilter != "" {
		cfg.Capture.BPFFilter = bpfFilter
	}
	if cfg.Capture.Interface == "" {
		return errors.New("no capture interface: set capture.interface or pass --iface")
	}

	handle, err := pcap.OpenLive(cfg.Capture.Interface, cfg.Capture.SnapLen, cfg.Capture.Promiscuous, pcap.BlockForever)
	if err != nil {
		return fmt.Errorf("error opening device %s: %w", cfg.Capture.Interface, err)
	}
	defer handle.Close()
	if cfg.Capture.BPFFilter != "" {
		if err := handle.SetBPFFilter(cfg.Capture.BPFFilter); err != nil {
			return fmt.Errorf("invalid BPF filter %q: %w", cfg.Capture.BPFFilter, err)
		}
	}

	e, err := startEngine(cfg)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	log.Printf("Capturing on %s...", cfg.Capture.Interface)
	packets := gopacket.NewPacketSource(handle, handle.LinkType()).Packets()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case packet, ok := <-packets:
			if !ok {
				break loop
			}
			info, err := protocol.ParsePacket(packet)
			if err != nil {
				continue
			}
			e.manager.Submit(info)
		}
	}

	log.Println("Shutdown signal received, stopping engine...")
	e.stop()
	return nil
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// Recorded traces expire on their own clock.
	cfg.Engine.TimeSource = "packet"

	reader, err := fspcap.NewReader(args[0])
	if err != nil {
		return err
	}
	defer reader.Close()

	e, err := startEngine(cfg)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	log.Printf("Reading packets from '%s'...", args[0])
	packets := make(chan *model.PacketInfo, 1024)
	go reader.ReadPackets(ctx, packets)
	for info := range packets {
		e.manager.Submit(info)
	}
	log.Printf("Finished reading pcap file, %d packets skipped.", reader.Skipped())

	e.stop()
	return nil
}

func runStream(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sub, err := probe.NewSubscriber(cfg.Probe)
	if err != nil {
		return err
	}

	e, err := startEngine(cfg)
	if err != nil {
		sub.Close()
		return err
	}
	// A callback may still be running when the connection closes, so Submit is
	// fenced off before the manager stops.
	var mu sync.RWMutex
	stopped := false
	handler := func(info *model.PacketInfo) {
		mu.RLock()
		defer mu.RUnlock()
		if !stopped {
			e.manager.Submit(info)
		}
	}
	if err := sub.Start(handler); err != nil {
		sub.Close()
		e.stop()
		return fmt.Errorf("subscriber failed to start: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()
	<-ctx.Done()

	log.Println("Shutdown signal received, stopping engine...")
	sub.Close()
	mu.Lock()
	stopped = true
	mu.Unlock()
	e.stop()
	return nil
}

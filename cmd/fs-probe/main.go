package main

import (
	"FlowSentinel/internal/config"
	"FlowSentinel/internal/engine/protocol"
	"FlowSentinel/internal/logging"
	"FlowSentinel/internal/model"
	"FlowSentinel/internal/probe"
	"FlowSentinel/internal/probe/persistent"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
	log "github.com/sirupsen/logrus"
)

func main() {
	// --- Command-Line Flag Parsing ---
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file.")
	mode := flag.String("mode", "sub", "Operating mode: 'pub' to capture and publish, 'sub' to subscribe and print.")
	iface := flag.String("iface", "", "Interface to capture packets from (overrides capture.interface).")
	record := flag.Bool("record", false, "Record captured packets (overrides probe.record.enabled).")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := logging.Setup(cfg.Log); err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	if *iface != "" {
		cfg.Capture.Interface = *iface
	}
	if *record {
		cfg.Probe.Record.Enabled = true
	}

	// --- Mode Dispatch ---
	switch *mode {
	case "pub":
		runProbe(cfg)
	case "sub":
		runSubscriber(cfg)
	default:
		fmt.Fprintf(os.Stderr, "Invalid mode: %s\n", *mode)
		flag.Usage()
		os.Exit(1)
	}
}

// runProbe captures packets, publishes their descriptors to NATS and optionally
// records them to disk.
func runProbe(cfg *config.Config) {
	if cfg.Capture.Interface == "" {
		log.Println("Error: -iface flag or capture.interface is required for probe mode.")
		flag.Usage()
		os.Exit(1)
	}
	log.Printf("Starting fs-probe in PROBE mode on interface: %s", cfg.Capture.Interface)

	pub, err := probe.NewPublisher(cfg.Probe)
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer pub.Close()

	handle, err := pcap.OpenLive(cfg.Capture.Interface, cfg.Capture.SnapLen, cfg.Capture.Promiscuous, pcap.BlockForever)
	if err != nil {
		log.Fatalf("Error opening device %s: %v", cfg.Capture.Interface, err)
	}
	defer handle.Close()
	if cfg.Capture.BPFFilter != "" {
		if err := handle.SetBPFFilter(cfg.Capture.BPFFilter); err != nil {
			log.Fatalf("Invalid BPF filter %q: %v", cfg.Capture.BPFFilter, err)
		}
	}

	var recorder *persistent.Worker
	if cfg.Probe.Record.Enabled {
		recorder, err = persistent.NewWorker(cfg.Probe.Record, handle.LinkType(), cfg.Capture.SnapLen)
		if err != nil {
			log.Fatalf("Failed to start packet recorder: %v", err)
		}
		defer recorder.Stop()
	}

	log.Println("Capture started successfully. Publishing packets to NATS...")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	packets := gopacket.NewPacketSource(handle, handle.LinkType()).Packets()
	published := 0
	for {
		select {
		case <-sigChan:
			log.Printf("Shutdown signal received after %d packets, cleaning up...", published)
			return
		case packet, ok := <-packets:
			if !ok {
				return
			}
			info, err := protocol.ParsePacket(packet)
			if recorder != nil {
				recorder.Enqueue(&persistent.PacketContainer{RawPacket: packet, PacketInfo: info})
			}
			if err != nil {
				continue // not flow-trackable
			}
			if err := pub.Publish(info); err != nil {
				log.Warnf("Failed to publish packet: %v", err)
				continue
			}
			published++
			if published%1000 == 0 {
				log.Debugf("%d packets published...", published)
			}
		}
	}
}

// runSubscriber prints every packet descriptor received from NATS.
func runSubscriber(cfg *config.Config) {
	log.Println("Starting fs-probe in SUBSCRIBER mode...")

	sub, err := probe.NewSubscriber(cfg.Probe)
	if err != nil {
		log.Fatalf("Failed to create subscriber: %v", err)
	}
	defer sub.Close()

	handler := func(info *model.PacketInfo) {
		dir := "->"
		if !info.FromClient {
			dir = "<-"
		}
		log.Printf("%s %s %s:%d %s %s:%d len=%d payload=%d",
			info.Timestamp.Format("15:04:05.000000"), info.Protocol,
			info.Client.IP, info.Client.Port, dir, info.Server.IP, info.Server.Port,
			info.WireLength, info.PayloadLength)
	}
	if err := sub.Start(handler); err != nil {
		log.Fatalf("Subscriber failed to start: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
}

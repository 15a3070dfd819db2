package main

import (
	"FlowSentinel/internal/config"
	"FlowSentinel/internal/dispatch"
	"FlowSentinel/internal/logging"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
)

// fs-model puts the configured exec classifier behind the gRPC or NATS
// contract, so engines on other hosts can use it.
func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file.")
	transport := flag.String("transport", "grpc", "Transport to serve: 'grpc' or 'nats'.")
	listen := flag.String("listen", "", "gRPC listen address (defaults to classifier.grpc.addr).")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := logging.Setup(cfg.Log); err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}

	backend, err := dispatch.NewExec(cfg.Classifier.Exec)
	if err != nil {
		log.Fatalf("Failed to create exec classifier: %v", err)
	}
	defer backend.Close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	switch *transport {
	case "grpc":
		addr := *listen
		if addr == "" {
			addr = cfg.Classifier.GRPC.Addr
		}
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			log.Fatalf("Failed to listen on %s: %v", addr, err)
		}
		s := grpc.NewServer(
			grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{MinTime: 20 * time.Second, PermitWithoutStream: true}),
			grpc.MaxRecvMsgSize(dispatch.MaxMessageSize),
			grpc.MaxSendMsgSize(dispatch.MaxMessageSize),
		)
		dispatch.RegisterClassifierServer(s, dispatch.NewServer(backend))
		go func() {
			log.Printf("Classifier gRPC server listening on %s", lis.Addr())
			if err := s.Serve(lis); err != nil {
				log.Fatalf("gRPC server failed: %v", err)
			}
		}()
		<-sigChan
		log.Println("Shutdown signal received, stopping gRPC server...")
		s.GracefulStop()

	case "nats":
		nc, err := nats.Connect(cfg.Classifier.NATS.URL, nats.Name("flowsentinel-model"))
		if err != nil {
			log.Fatalf("Failed to connect to NATS at %s: %v", cfg.Classifier.NATS.URL, err)
		}
		if _, err := dispatch.ServeNATS(nc, cfg.Classifier.NATS.Subject, backend); err != nil {
			log.Fatalf("Failed to serve on subject %s: %v", cfg.Classifier.NATS.Subject, err)
		}
		log.Printf("Classifier answering requests on '%s'", cfg.Classifier.NATS.Subject)
		<-sigChan
		log.Println("Shutdown signal received, draining NATS connection...")
		nc.Drain()

	default:
		fmt.Fprintf(os.Stderr, "Invalid transport: %s\n", *transport)
		flag.Usage()
		os.Exit(1)
	}
}

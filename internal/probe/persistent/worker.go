package persistent

import (
	"FlowSentinel/internal/config"
	"FlowSentinel/internal/model"
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	log "github.com/sirupsen/logrus"
)

// PacketContainer holds both the raw packet and the parsed info.
type PacketContainer struct {
	RawPacket  gopacket.Packet
	PacketInfo *model.PacketInfo
}

// Worker records captured packets to disk on a single goroutine, either as a
// pcap trace that fs-engine can replay or as a one-line-per-packet text log.
type Worker struct {
	packetChan chan *PacketContainer
	done       chan struct{}
	stopOnce   sync.Once
	path       string
	dropped    uint64
}

// NewWorker creates the output file and starts the writer goroutine.
func NewWorker(cfg config.RecordConfig, linkType layers.LinkType, snapLen int32) (*Worker, error) {
	if err := os.MkdirAll(cfg.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create record directory: %w", err)
	}

	bufferSize := cfg.ChannelBufferSize
	if bufferSize <= 0 {
		bufferSize = 10000
	}

	ext := ".log"
	if cfg.Encoding == "pcap" {
		ext = ".pcap"
	} else if cfg.Encoding != "text" {
		return nil, fmt.Errorf("unknown record encoding %q", cfg.Encoding)
	}
	filePath := filepath.Join(cfg.Path, time.Now().Format("2006-01-02_15-04-05")+ext)
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create record file: %w", err)
	}

	w := &Worker{
		packetChan: make(chan *PacketContainer, bufferSize),
		done:       make(chan struct{}),
		path:       filePath,
	}

	var run func(*bufio.Writer) error
	buffered := bufio.NewWriter(file)
	switch cfg.Encoding {
	case "pcap":
		pcapWriter := pcapgo.NewWriter(buffered)
		if err := pcapWriter.WriteFileHeader(uint32(snapLen), linkType); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to write pcap header: %w", err)
		}
		run = func(*bufio.Writer) error { return w.runPcap(pcapWriter) }
	case "text":
		run = w.runText
	}

	go func() {
		defer close(w.done)
		if err := run(buffered); err != nil {
			log.Errorf("Packet recorder stopped: %v", err)
		}
		if err := buffered.Flush(); err != nil {
			log.Errorf("Packet recorder: error flushing %s: %v", filePath, err)
		}
		if err := file.Close(); err != nil {
			log.Errorf("Packet recorder: error closing %s: %v", filePath, err)
		}
	}()

	log.Printf("Packet recorder started, encoding: %s, writing to: %s", cfg.Encoding, filePath)
	return w, nil
}

// Path is the file the worker writes to.
func (w *Worker) Path() string { return w.path }

func (w *Worker) runPcap(pw *pcapgo.Writer) error {
	for c := range w.packetChan {
		if c.RawPacket == nil {
			continue
		}
		if err := pw.WritePacket(c.RawPacket.Metadata().CaptureInfo, c.RawPacket.Data()); err != nil {
			log.Warnf("Packet recorder (pcap): error writing packet: %v", err)
		}
	}
	return nil
}

func (w *Worker) runText(bw *bufio.Writer) error {
	for c := range w.packetChan {
		p := c.PacketInfo
		if p == nil {
			continue
		}
		dir := "->"
		if !p.FromClient {
			dir = "<-"
		}
		line := fmt.Sprintf("%s %s %s:%d %s %s:%d len=%d payload=%d flags=%08b\n",
			p.Timestamp.Format("2006-01-02 15:04:05.000000"),
			p.Protocol,
			p.Client.IP, p.Client.Port,
			dir,
			p.Server.IP, p.Server.Port,
			p.WireLength, p.PayloadLength, uint8(p.TCPFlags),
		)
		if _, err := bw.WriteString(line); err != nil {
			return fmt.Errorf("error writing packet: %w", err)
		}
	}
	return nil
}

// Stop closes the queue and waits until everything queued has been written.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.packetChan) })
	<-w.done
	if w.dropped > 0 {
		log.Warnf("Packet recorder dropped %d packets", w.dropped)
	}
}

// Enqueue hands a packet to the writer; it drops the packet when the queue is full.
// Enqueue must not be called after Stop.
func (w *Worker) Enqueue(container *PacketContainer) {
	select {
	case w.packetChan <- container:
	default:
		w.dropped++
	}
}

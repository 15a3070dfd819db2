package pcap

import (
	"FlowSentinel/internal/engine/protocol"
	"FlowSentinel/internal/model"
	"context"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
	log "github.com/sirupsen/logrus"
)

// Reader reads packets from a pcap file.
type Reader struct {
	handle  *pcap.Handle
	skipped int
}

// NewReader creates a new pcap reader for the given file path.
func NewReader(filePath string) (*Reader, error) {
	handle, err := pcap.OpenOffline(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open pcap file %s: %w", filePath, err)
	}
	return &Reader{handle: handle}, nil
}

// Close closes the pcap handle.
func (r *Reader) Close() {
	r.handle.Close()
}

// Skipped is the number of packets the parser rejected.
func (r *Reader) Skipped() int { return r.skipped }

// ReadPackets parses every packet of the file in order and sends it to out. It
// closes out when the file is exhausted or ctx is cancelled.
func (r *Reader) ReadPackets(ctx context.Context, out chan<- *model.PacketInfo) {
	defer close(out)

	packetSource := gopacket.NewPacketSource(r.handle, r.handle.LinkType())
	for packet := range packetSource.Packets() {
		info, err := protocol.ParsePacket(packet)
		if err != nil {
			// Unsupported or corrupt packets are skipped.
			log.Debugf("Skipping packet: %v", err)
			r.skipped++
			continue
		}
		select {
		case out <- info:
		case <-ctx.Done():
			return
		}
	}
}

package persistent

import (
	"FlowSentinel/internal/config"
	"FlowSentinel/internal/model"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

func udpFrame(t *testing.T, ts time.Time) gopacket.Packet {
	t.Helper()
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP, SrcIP: net.IP{10, 0, 0, 1}, DstIP: net.IP{10, 0, 0, 2}}
	udp := &layers.UDP{SrcPort: 50000, DstPort: 53}
	udp.SetNetworkLayerForChecksum(ip)
	eth := &layers.Ethernet{SrcMAC: net.HardwareAddr{0, 1, 2, 3, 4, 5}, DstMAC: net.HardwareAddr{6, 7, 8, 9, 10, 11}, EthernetType: layers.EthernetTypeIPv4}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(make([]byte, 30))); err != nil {
		t.Fatal(err)
	}
	p := gopacket.NewPacket(buf.Bytes(), layers.LayerTypeEthernet, gopacket.Default)
	md := p.Metadata()
	md.Timestamp = ts
	md.CaptureLength = len(buf.Bytes())
	md.Length = len(buf.Bytes())
	return p
}

func TestWorker_Pcap(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWorker(config.RecordConfig{Path: dir, Encoding: "pcap"}, layers.LinkTypeEthernet, 1600)
	if err != nil {
		t.Fatalf("NewWorker() error = %v", err)
	}
	base := time.Unix(1700000000, 0)
	for i := 0; i < 3; i++ {
		w.Enqueue(&PacketContainer{RawPacket: udpFrame(t, base.Add(time.Duration(i)*time.Second))})
	}
	w.Stop()

	f, err := os.Open(w.Path())
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	r, err := pcapgo.NewReader(f)
	if err != nil {
		t.Fatalf("recorded file is not a pcap: %v", err)
	}
	n := 0
	for {
		_, ci, err := r.ReadPacketData()
		if err != nil {
			break
		}
		if !ci.Timestamp.Equal(base.Add(time.Duration(n) * time.Second)) {
			t.Errorf("packet %d timestamp = %v", n, ci.Timestamp)
		}
		n++
	}
	if n != 3 {
		t.Errorf("recorded %d packets, want 3", n)
	}
}

func TestWorker_Text(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWorker(config.RecordConfig{Path: dir, Encoding: "text"}, layers.LinkTypeEthernet, 1600)
	if err != nil {
		t.Fatal(err)
	}
	w.Enqueue(&PacketContainer{PacketInfo: &model.PacketInfo{
		Timestamp:     time.Unix(1700000000, 0),
		Protocol:      model.ProtocolTCP,
		WireLength:    60,
		PayloadLength: 6,
		FromClient:    true,
		Client:        model.Endpoint{IP: net.ParseIP("10.0.0.1"), Port: 40000},
		Server:        model.Endpoint{IP: net.ParseIP("10.0.0.2"), Port: 80},
		TCPFlags:      model.FlagSYN,
	}})
	w.Stop()

	data, err := os.ReadFile(w.Path())
	if err != nil {
		t.Fatal(err)
	}
	line := string(data)
	if !strings.Contains(line, "TCP 10.0.0.1:40000 -> 10.0.0.2:80 len=60 payload=6") {
		t.Errorf("unexpected line %q", line)
	}
}

func TestNewWorker_UnknownEncoding(t *testing.T) {
	if _, err := NewWorker(config.RecordConfig{Path: t.TempDir(), Encoding: "csv"}, layers.LinkTypeEthernet, 1600); err == nil {
		t.Error("unknown encoding accepted")
	}
}

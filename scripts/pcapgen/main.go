package main

import (
	"flag"
	"log"
	"math/rand"
	"net"
	"os"
	"slices"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// pcapgen writes a synthetic trace of complete conversations (TCP sessions,
// UDP request/response pairs and ICMP echoes) spread over time, so that a
// replay exercises flow expiry.
func main() {
	outputFile := flag.String("o", "test.pcap", "Output pcap file path")
	flows := flag.Int("n", 100, "Number of conversations to generate")
	span := flag.Duration("span", 10*time.Minute, "Time span the conversations start within")
	seed := flag.Int64("seed", 1, "Random seed")
	flag.Parse()

	f, err := os.Create(*outputFile)
	if err != nil {
		log.Fatalf("Failed to create output file: %v", err)
	}
	defer f.Close()

	pcapWriter := pcapgo.NewWriter(f)
	if err := pcapWriter.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		log.Fatalf("Failed to write pcap header: %v", err)
	}

	g := &generator{rng: rand.New(rand.NewSource(*seed)), base: time.Unix(1700000000, 0)}
	for i := 0; i < *flows; i++ {
		start := g.base.Add(time.Duration(g.rng.Int63n(int64(*span))))
		switch g.rng.Intn(4) {
		case 0, 1:
			g.tcpSession(start)
		case 2:
			g.udpExchange(start)
		default:
			g.icmpEcho(start)
		}
	}

	// pcap readers expect non-decreasing timestamps.
	sortFrames(g.frames)
	for _, fr := range g.frames {
		ci := gopacket.CaptureInfo{Timestamp: fr.ts, CaptureLength: len(fr.data), Length: len(fr.data)}
		if err := pcapWriter.WritePacket(ci, fr.data); err != nil {
			log.Fatalf("Failed to write packet: %v", err)
		}
	}
	log.Printf("Successfully generated %d packets in %d conversations into %s.", len(g.frames), *flows, *outputFile)
}

type frame struct {
	ts   time.Time
	data []byte
}

type generator struct {
	rng    *rand.Rand
	base   time.Time
	frames []frame
}

func (g *generator) host() net.IP {
	return net.IP{10, byte(g.rng.Intn(4)), byte(g.rng.Intn(256)), byte(1 + g.rng.Intn(254))}
}

func (g *generator) emit(ts time.Time, src, dst net.IP, l4 gopacket.SerializableLayer, proto layers.IPProtocol, payload int) {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		DstMAC:       net.HardwareAddr{0x00, 0x66, 0x77, 0x88, 0x99, 0xAA},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{SrcIP: src, DstIP: dst, Version: 4, TTL: 64, Protocol: proto}
	switch l := l4.(type) {
	case *layers.TCP:
		l.SetNetworkLayerForChecksum(ip)
	case *layers.UDP:
		l.SetNetworkLayerForChecksum(ip)
	}
	body := make([]byte, payload)
	g.rng.Read(body)

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, l4, gopacket.Payload(body)); err != nil {
		log.Fatalf("Failed to serialize layers: %v", err)
	}
	g.frames = append(g.frames, frame{ts: ts, data: append([]byte(nil), buf.Bytes()...)})
}

// tcpSession emits a handshake, a few request/response rounds with an optional
// idle pause, and a FIN close.
func (g *generator) tcpSession(ts time.Time) {
	client, server := g.host(), g.host()
	cport := layers.TCPPort(32768 + g.rng.Intn(28000))
	sport := []layers.TCPPort{22, 80, 443, 8080}[g.rng.Intn(4)]
	step := func(d time.Duration) { ts = ts.Add(d) }
	c2s := func(flags func(*layers.TCP), payload int) {
		t := &layers.TCP{SrcPort: cport, DstPort: sport, Window: 64240}
		flags(t)
		g.emit(ts, client, server, t, layers.IPProtocolTCP, payload)
	}
	s2c := func(flags func(*layers.TCP), payload int) {
		t := &layers.TCP{SrcPort: sport, DstPort: cport, Window: 65160}
		flags(t)
		g.emit(ts, server, client, t, layers.IPProtocolTCP, payload)
	}

	c2s(func(t *layers.TCP) { t.SYN = true }, 0)
	step(time.Duration(200+g.rng.Intn(800)) * time.Microsecond)
	s2c(func(t *layers.TCP) { t.SYN, t.ACK = true, true }, 0)
	step(time.Duration(100+g.rng.Intn(400)) * time.Microsecond)
	c2s(func(t *layers.TCP) { t.ACK = true }, 0)

	rounds := 1 + g.rng.Intn(6)
	for i := 0; i < rounds; i++ {
		if g.rng.Intn(5) == 0 {
			step(time.Duration(2+g.rng.Intn(8)) * time.Second)
		}
		step(time.Duration(g.rng.Intn(50)) * time.Millisecond)
		c2s(func(t *layers.TCP) { t.PSH, t.ACK = true, true }, 50+g.rng.Intn(500))
		replies := 1 + g.rng.Intn(5)
		for j := 0; j < replies; j++ {
			step(time.Duration(100+g.rng.Intn(2000)) * time.Microsecond)
			s2c(func(t *layers.TCP) { t.ACK = true }, 1000+g.rng.Intn(448))
		}
	}

	step(time.Duration(g.rng.Intn(100)) * time.Millisecond)
	c2s(func(t *layers.TCP) { t.FIN, t.ACK = true, true }, 0)
	step(time.Millisecond)
	s2c(func(t *layers.TCP) { t.FIN, t.ACK = true, true }, 0)
	step(time.Millisecond)
	c2s(func(t *layers.TCP) { t.ACK = true }, 0)
}

func (g *generator) udpExchange(ts time.Time) {
	client, server := g.host(), g.host()
	cport := layers.UDPPort(32768 + g.rng.Intn(28000))
	sport := []layers.UDPPort{53, 123, 5353}[g.rng.Intn(3)]
	exchanges := 1 + g.rng.Intn(3)
	for i := 0; i < exchanges; i++ {
		g.emit(ts, client, server, &layers.UDP{SrcPort: cport, DstPort: sport}, layers.IPProtocolUDP, 30+g.rng.Intn(40))
		ts = ts.Add(time.Duration(500+g.rng.Intn(20000)) * time.Microsecond)
		g.emit(ts, server, client, &layers.UDP{SrcPort: sport, DstPort: cport}, layers.IPProtocolUDP, 60+g.rng.Intn(400))
		ts = ts.Add(time.Duration(g.rng.Intn(3)) * time.Second)
	}
}

func (g *generator) icmpEcho(ts time.Time) {
	client, server := g.host(), g.host()
	id := uint16(g.rng.Intn(65536))
	pings := uint16(1 + g.rng.Intn(4))
	for seq := uint16(1); seq <= pings; seq++ {
		g.emit(ts, client, server, &layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0), Id: id, Seq: seq}, layers.IPProtocolICMPv4, 56)
		ts = ts.Add(time.Duration(1+g.rng.Intn(30)) * time.Millisecond)
		g.emit(ts, server, client, &layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoReply, 0), Id: id, Seq: seq}, layers.IPProtocolICMPv4, 56)
		ts = ts.Add(time.Second)
	}
}

func sortFrames(frames []frame) {
	slices.SortStableFunc(frames, func(a, b frame) int { return a.ts.Compare(b.ts) })
}

package protocol

import (
	"FlowSentinel/internal/model"
	"errors"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var (
	ErrNotIP          = errors.New("not an IPv4 or IPv6 packet")
	ErrUnsupportedL4  = errors.New("not a TCP, UDP or ICMP packet")
	errTruncatedLayer = errors.New("truncated transport layer")
)

// ParsePacket decodes a captured packet into the metadata the flow engine needs,
// with the client and server roles of the conversation already decided.
func ParsePacket(packet gopacket.Packet) (*model.PacketInfo, error) {
	info := &model.PacketInfo{
		Timestamp:  time.Now(), // overwritten by capture metadata when present
		WireLength: len(packet.Data()),
	}
	if meta := packet.Metadata(); meta != nil {
		if !meta.Timestamp.IsZero() {
			info.Timestamp = meta.Timestamp
		}
		if meta.Length > 0 {
			info.WireLength = meta.Length
		}
	}

	var srcIP, dstIP net.IP
	if l := packet.Layer(layers.LayerTypeIPv4); l != nil {
		ip := l.(*layers.IPv4)
		srcIP, dstIP = ip.SrcIP, ip.DstIP
	} else if l := packet.Layer(layers.LayerTypeIPv6); l != nil {
		ip := l.(*layers.IPv6)
		srcIP, dstIP = ip.SrcIP, ip.DstIP
	} else {
		return nil, ErrNotIP
	}

	src := model.Endpoint{IP: srcIP}
	dst := model.Endpoint{IP: dstIP}
	senderIsClient := false

	switch {
	case packet.Layer(layers.LayerTypeTCP) != nil:
		tcp := packet.Layer(layers.LayerTypeTCP).(*layers.TCP)
		info.Protocol = model.ProtocolTCP
		src.Port, dst.Port = uint16(tcp.SrcPort), uint16(tcp.DstPort)
		info.TCPFlags = tcpFlags(tcp)
		info.Window = tcp.Window
		info.PayloadLength = len(tcp.Payload)
		switch {
		case tcp.SYN && !tcp.ACK:
			senderIsClient = true
		case tcp.SYN && tcp.ACK:
			senderIsClient = false
		default:
			senderIsClient = byPort(src.Port, dst.Port)
		}

	case packet.Layer(layers.LayerTypeUDP) != nil:
		udp := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		info.Protocol = model.ProtocolUDP
		src.Port, dst.Port = uint16(udp.SrcPort), uint16(udp.DstPort)
		info.PayloadLength = len(udp.Payload)
		senderIsClient = byPort(src.Port, dst.Port)

	case packet.Layer(layers.LayerTypeICMPv4) != nil:
		icmp := packet.Layer(layers.LayerTypeICMPv4).(*layers.ICMPv4)
		info.Protocol = model.ProtocolICMP
		info.PayloadLength = len(icmp.Payload)
		senderIsClient = true
		switch icmp.TypeCode.Type() {
		case layers.ICMPv4TypeEchoRequest:
			info.ICMPID = icmp.Id
		case layers.ICMPv4TypeEchoReply:
			info.ICMPID = icmp.Id
			senderIsClient = false
		}

	case packet.Layer(layers.LayerTypeICMPv6) != nil:
		icmp := packet.Layer(layers.LayerTypeICMPv6).(*layers.ICMPv6)
		info.Protocol = model.ProtocolICMP
		info.PayloadLength = len(icmp.Payload)
		senderIsClient = true
		if l := packet.Layer(layers.LayerTypeICMPv6Echo); l != nil {
			echo := l.(*layers.ICMPv6Echo)
			info.ICMPID = echo.Identifier
			info.PayloadLength = len(echo.Payload)
			if icmp.TypeCode.Type() == layers.ICMPv6TypeEchoReply {
				senderIsClient = false
			}
		}

	default:
		if err := packet.ErrorLayer(); err != nil {
			return nil, errTruncatedLayer
		}
		return nil, ErrUnsupportedL4
	}

	info.FromClient = senderIsClient
	if senderIsClient {
		info.Client, info.Server = src, dst
	} else {
		info.Client, info.Server = dst, src
	}
	return info, nil
}

// byPort reports whether the sender looks like the client when nothing in the
// packet says so: the lower port is taken as the service, and on a tie the
// destination is the server.
func byPort(srcPort, dstPort uint16) bool {
	return srcPort >= dstPort
}

func tcpFlags(tcp *layers.TCP) model.TCPFlags {
	var f model.TCPFlags
	set := func(on bool, bit model.TCPFlags) {
		if on {
			f |= bit
		}
	}
	set(tcp.FIN, model.FlagFIN)
	set(tcp.SYN, model.FlagSYN)
	set(tcp.RST, model.FlagRST)
	set(tcp.PSH, model.FlagPSH)
	set(tcp.ACK, model.FlagACK)
	set(tcp.URG, model.FlagURG)
	set(tcp.ECE, model.FlagECE)
	set(tcp.CWR, model.FlagCWR)
	return f
}

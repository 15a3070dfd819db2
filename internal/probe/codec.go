package probe

import (
	"FlowSentinel/internal/model"
	"errors"
	"fmt"
	"net"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Field numbers of the packet message published by the probe:
//
//	message Packet {
//	  google.protobuf.Timestamp timestamp = 1;
//	  uint32 protocol = 2;  uint32 wire_len = 3;  uint32 payload_len = 4;
//	  bool from_client = 5; bytes client_ip = 6;  bytes server_ip = 7;
//	  uint32 client_port = 8; uint32 server_port = 9;
//	  uint32 tcp_flags = 10; uint32 window = 11; uint32 icmp_id = 12;
//	}
const (
	fieldTimestamp protowire.Number = iota + 1
	fieldProtocol
	fieldWireLen
	fieldPayloadLen
	fieldFromClient
	fieldClientIP
	fieldServerIP
	fieldClientPort
	fieldServerPort
	fieldTCPFlags
	fieldWindow
	fieldICMPID
)

var errBadWireType = errors.New("unexpected wire type")

// Marshal encodes a packet descriptor in protobuf wire format.
func Marshal(p *model.PacketInfo) ([]byte, error) {
	ts, err := proto.Marshal(timestamppb.New(p.Timestamp))
	if err != nil {
		return nil, fmt.Errorf("failed to encode timestamp: %w", err)
	}

	b := make([]byte, 0, 64+len(ts))
	b = protowire.AppendTag(b, fieldTimestamp, protowire.BytesType)
	b = protowire.AppendBytes(b, ts)

	varint := func(n protowire.Number, v uint64) {
		if v == 0 {
			return
		}
		b = protowire.AppendTag(b, n, protowire.VarintType)
		b = protowire.AppendVarint(b, v)
	}
	varint(fieldProtocol, uint64(p.Protocol))
	varint(fieldWireLen, uint64(p.WireLength))
	varint(fieldPayloadLen, uint64(p.PayloadLength))
	varint(fieldFromClient, protowire.EncodeBool(p.FromClient))

	b = protowire.AppendTag(b, fieldClientIP, protowire.BytesType)
	b = protowire.AppendBytes(b, compactIP(p.Client.IP))
	b = protowire.AppendTag(b, fieldServerIP, protowire.BytesType)
	b = protowire.AppendBytes(b, compactIP(p.Server.IP))

	varint(fieldClientPort, uint64(p.Client.Port))
	varint(fieldServerPort, uint64(p.Server.Port))
	varint(fieldTCPFlags, uint64(p.TCPFlags))
	varint(fieldWindow, uint64(p.Window))
	varint(fieldICMPID, uint64(p.ICMPID))
	return b, nil
}

// Unmarshal decodes a message produced by Marshal. Unknown fields are skipped.
func Unmarshal(b []byte) (*model.PacketInfo, error) {
	p := &model.PacketInfo{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]

		switch typ {
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
			switch num {
			case fieldTimestamp:
				var ts timestamppb.Timestamp
				if err := proto.Unmarshal(v, &ts); err != nil {
					return nil, fmt.Errorf("bad timestamp: %w", err)
				}
				p.Timestamp = ts.AsTime()
			case fieldClientIP:
				p.Client.IP = net.IP(append([]byte(nil), v...))
			case fieldServerIP:
				p.Server.IP = net.IP(append([]byte(nil), v...))
			}

		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
			switch num {
			case fieldProtocol:
				p.Protocol = model.Protocol(v)
			case fieldWireLen:
				p.WireLength = int(v)
			case fieldPayloadLen:
				p.PayloadLength = int(v)
			case fieldFromClient:
				p.FromClient = protowire.DecodeBool(v)
			case fieldClientPort:
				p.Client.Port = uint16(v)
			case fieldServerPort:
				p.Server.Port = uint16(v)
			case fieldTCPFlags:
				p.TCPFlags = model.TCPFlags(v)
			case fieldWindow:
				p.Window = uint16(v)
			case fieldICMPID:
				p.ICMPID = uint16(v)
			}

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("field %d: %w", num, errBadWireType)
			}
			b = b[n:]
		}
	}
	return p, nil
}

func compactIP(ip net.IP) []byte {
	if v4 := ip.To4(); v4 != nil {
		return v4
	}
	return ip
}

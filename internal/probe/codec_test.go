package probe

import (
	"FlowSentinel/internal/model"
	"net"
	"testing"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

func TestCodec_TCPv4(t *testing.T) {
	in := &model.PacketInfo{
		Timestamp:     time.Unix(1700000000, 987654000).UTC(),
		Protocol:      model.ProtocolTCP,
		WireLength:    1514,
		PayloadLength: 1448,
		FromClient:    false,
		Client:        model.Endpoint{IP: net.ParseIP("10.0.0.1"), Port: 40000},
		Server:        model.Endpoint{IP: net.ParseIP("10.0.0.2"), Port: 443},
		TCPFlags:      model.FlagACK | model.FlagPSH,
		Window:        509,
	}
	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	out, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if !out.Timestamp.Equal(in.Timestamp) {
		t.Errorf("Timestamp = %v, want %v", out.Timestamp, in.Timestamp)
	}
	if out.Protocol != in.Protocol || out.WireLength != in.WireLength || out.PayloadLength != in.PayloadLength {
		t.Errorf("sizes = %+v", out)
	}
	if out.FromClient || out.TCPFlags != in.TCPFlags || out.Window != 509 {
		t.Errorf("tcp fields = %+v", out)
	}
	if !out.Client.IP.Equal(in.Client.IP) || out.Client.Port != 40000 || !out.Server.IP.Equal(in.Server.IP) || out.Server.Port != 443 {
		t.Errorf("endpoints = %v / %v", out.Client, out.Server)
	}
	if len(out.Client.IP) != net.IPv4len {
		t.Errorf("IPv4 address carried as %d bytes", len(out.Client.IP))
	}
}

func TestCodec_ICMPv6(t *testing.T) {
	in := &model.PacketInfo{
		Timestamp:  time.Unix(1700000001, 0).UTC(),
		Protocol:   model.ProtocolICMP,
		WireLength: 118,
		FromClient: true,
		Client:     model.Endpoint{IP: net.ParseIP("2001:db8::1")},
		Server:     model.Endpoint{IP: net.ParseIP("2001:db8::2")},
		ICMPID:     4242,
	}
	data, err := Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := Unmarshal(data)
	if err != nil {
		t.Fatal(err)
	}
	if out.ICMPID != 4242 || !out.FromClient || !out.Server.IP.Equal(in.Server.IP) {
		t.Errorf("Unmarshal() = %+v", out)
	}
}

func TestUnmarshal_SkipsUnknownFields(t *testing.T) {
	data, err := Marshal(&model.PacketInfo{Timestamp: time.Unix(1, 0), Protocol: model.ProtocolUDP})
	if err != nil {
		t.Fatal(err)
	}
	data = protowire.AppendTag(data, 99, protowire.Fixed64Type)
	data = protowire.AppendFixed64(data, 7)
	data = protowire.AppendTag(data, 100, protowire.BytesType)
	data = protowire.AppendBytes(data, []byte("future"))

	out, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if out.Protocol != model.ProtocolUDP {
		t.Errorf("Protocol = %v", out.Protocol)
	}
}

func TestUnmarshal_Truncated(t *testing.T) {
	data, err := Marshal(&model.PacketInfo{Timestamp: time.Unix(1, 0), Protocol: model.ProtocolUDP, WireLength: 300})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Unmarshal(data[:len(data)-1]); err == nil {
		t.Error("truncated message decoded without error")
	}
}

package model

import (
	"net"
	"time"
)

// Protocol is the transport protocol of a packet as far as flow tracking is concerned.
type Protocol uint8

const (
	ProtocolOther Protocol = iota
	ProtocolTCP
	ProtocolUDP
	ProtocolICMP
)

func (p Protocol) String() string {
	switch p {
	case ProtocolTCP:
		return "TCP"
	case ProtocolUDP:
		return "UDP"
	case ProtocolICMP:
		return "ICMP"
	default:
		return "OTHER"
	}
}

// MarshalText renders the protocol by name in JSON and other text encodings.
func (p Protocol) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Protocol) UnmarshalText(b []byte) error {
	switch string(b) {
	case "TCP":
		*p = ProtocolTCP
	case "UDP":
		*p = ProtocolUDP
	case "ICMP":
		*p = ProtocolICMP
	default:
		*p = ProtocolOther
	}
	return nil
}

// TCPFlags is the TCP control-bit set of a packet.
type TCPFlags uint8

const (
	FlagFIN TCPFlags = 1 << iota
	FlagSYN
	FlagRST
	FlagPSH
	FlagACK
	FlagURG
	FlagECE
	FlagCWR
)

// Has reports whether every bit of f is set.
func (t TCPFlags) Has(f TCPFlags) bool { return t&f == f }

// Endpoint is one side of a conversation.
type Endpoint struct {
	IP   net.IP `json:"ip"`
	Port uint16 `json:"port"`
}

// PacketInfo holds the metadata extracted from a single packet, already oriented
// so that the client and server roles of the conversation are known.
type PacketInfo struct {
	Timestamp     time.Time
	Protocol      Protocol
	WireLength    int // total captured frame length on the wire
	PayloadLength int // transport payload length
	FromClient    bool
	Client        Endpoint
	Server        Endpoint
	TCPFlags      TCPFlags
	Window        uint16
	ICMPID        uint16
}

// HeaderLength is everything in the frame that is not transport payload.
func (p *PacketInfo) HeaderLength() int {
	if h := p.WireLength - p.PayloadLength; h > 0 {
		return h
	}
	return 0
}

// Verdict is the outcome of classifying one expired flow.
type Verdict struct {
	BatchID    string    `json:"batch_id"`
	FlowID     string    `json:"flow_id"`
	Protocol   Protocol  `json:"protocol"`
	Client     Endpoint  `json:"client"`
	Server     Endpoint  `json:"server"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
	Features   []float64 `json:"features"`
	Label      float64   `json:"label"`
	Classified bool      `json:"classified"` // false when the classifier returned no label for this flow
}

// Flagged reports whether the classifier marked the flow as malicious.
func (v *Verdict) Flagged() bool { return v.Classified && v.Label != 0 }

// VerdictBatch groups the verdicts of the flows evicted in one reaper pass.
type VerdictBatch struct {
	ID        string    `json:"id"`
	EvictedAt time.Time `json:"evicted_at"`
	Verdicts  []Verdict `json:"verdicts"`
}

package flow

import (
	"FlowSentinel/internal/model"
	"errors"
	"hash/fnv"
	"strconv"
	"strings"
)

// ErrMalformedPacket is returned for packets that cannot be tied to a conversation.
var ErrMalformedPacket = errors.New("packet lacks flow context")

// ResolveKeys returns the forward identifier (observed client as client) and the
// reversed identifier (client and server swapped) of the packet's conversation.
func ResolveKeys(p *model.PacketInfo) (forward, reverse string, err error) {
	if err := validate(p); err != nil {
		return "", "", err
	}
	client := endpointString(p.Client)
	server := endpointString(p.Server)

	var suffix string
	if p.Protocol == model.ProtocolICMP {
		suffix = "-" + strconv.Itoa(int(p.ICMPID))
	}
	proto := p.Protocol.String()
	forward = proto + "-" + client + "-" + server + suffix
	reverse = proto + "-" + server + "-" + client + suffix
	return forward, reverse, nil
}

func validate(p *model.PacketInfo) error {
	if p == nil {
		return ErrMalformedPacket
	}
	switch p.Protocol {
	case model.ProtocolTCP, model.ProtocolUDP, model.ProtocolICMP:
	default:
		return ErrMalformedPacket
	}
	if len(p.Client.IP) == 0 || len(p.Server.IP) == 0 {
		return ErrMalformedPacket
	}
	return nil
}

func endpointString(e model.Endpoint) string {
	var b strings.Builder
	b.WriteString(e.IP.String())
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(int(e.Port)))
	return b.String()
}

// conversationHash is the same for both directions of a conversation, so the
// forward and reverse identifiers always land in the same shard.
func conversationHash(forward, reverse string) uint32 {
	canonical := forward
	if reverse < forward {
		canonical = reverse
	}
	hasher := fnv.New32a()
	hasher.Write([]byte(canonical))
	return hasher.Sum32()
}

// ConversationHash exposes the direction-independent hash of a packet's
// conversation so that callers can pin a conversation to a worker.
func ConversationHash(p *model.PacketInfo) (uint32, error) {
	forward, reverse, err := ResolveKeys(p)
	if err != nil {
		return 0, err
	}
	return conversationHash(forward, reverse), nil
}

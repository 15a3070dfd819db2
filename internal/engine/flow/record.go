package flow

import (
	"FlowSentinel/internal/engine/statistic"
	"FlowSentinel/internal/model"
	"time"
)

// tcpFlagOrder is the order of the flag tally in the feature vector.
var tcpFlagOrder = [...]model.TCPFlags{
	model.FlagFIN, model.FlagSYN, model.FlagRST, model.FlagPSH,
	model.FlagACK, model.FlagURG, model.FlagCWR, model.FlagECE,
}

// direction holds the counters kept separately for each side of a flow.
type direction struct {
	count       uint64
	bytes       uint64
	headerBytes uint64
	lastSeen    int64
	psh         uint64
	urg         uint64
	initWindow  uint32

	length statistic.Accumulator
	iat    statistic.Accumulator
	bulk   statistic.BulkTracker
}

// Record aggregates the lifetime state of one bidirectional flow. A Record is not
// safe for concurrent use; Table serializes access to the records it owns.
type Record struct {
	id       string
	protocol model.Protocol
	client   model.Endpoint
	server   model.Endpoint

	firstSeen int64
	lastSeen  int64

	fwd direction
	bwd direction

	flags [len(tcpFlagOrder)]uint64

	actDataPktFwd uint64
	// seeded only by a forward first packet; a backward-first flow keeps 0
	minSegSizeFwd uint64

	flowIAT    statistic.Accumulator
	flowLength statistic.Accumulator
	subflow    statistic.SubflowTracker
}

// NewRecord creates the record of a flow from its first packet.
func NewRecord(id string, p *model.PacketInfo) *Record {
	ts := p.Timestamp.UnixMicro()
	r := &Record{
		id:        id,
		protocol:  p.Protocol,
		client:    p.Client,
		server:    p.Server,
		firstSeen: ts,
		lastSeen:  ts,
	}

	r.updateBulk(p, ts)
	r.subflow.Update(ts)
	r.updateFlags(p)
	r.flowLength.Update(float64(p.PayloadLength))

	if p.FromClient {
		r.minSegSizeFwd = uint64(p.HeaderLength())
		if p.Protocol == model.ProtocolTCP {
			r.fwd.initWindow = uint32(p.Window)
		}
		r.countForward(p, ts)
	} else {
		if p.Protocol == model.ProtocolTCP {
			r.bwd.initWindow = uint32(p.Window)
		}
		r.countPacket(&r.bwd, p, ts)
	}
	return r
}

// AddPacket folds a subsequent packet of either direction into the record.
func (r *Record) AddPacket(p *model.PacketInfo) {
	ts := p.Timestamp.UnixMicro()

	r.updateBulk(p, ts)
	r.subflow.Update(ts)
	r.updateFlags(p)
	r.flowLength.Update(float64(p.PayloadLength))

	if p.FromClient {
		r.countForward(p, ts)
		r.minSegSizeFwd = min(r.minSegSizeFwd, uint64(p.HeaderLength()))
	} else {
		if p.Protocol == model.ProtocolTCP {
			r.bwd.initWindow = uint32(p.Window)
		}
		r.countPacket(&r.bwd, p, ts)
	}

	r.flowIAT.Update(float64(ts - r.lastSeen))
	if ts > r.lastSeen {
		r.lastSeen = ts
	}
}

func (r *Record) countForward(p *model.PacketInfo, ts int64) {
	if p.PayloadLength >= 1 {
		r.actDataPktFwd++
	}
	r.countPacket(&r.fwd, p, ts)
}

func (r *Record) countPacket(d *direction, p *model.PacketInfo, ts int64) {
	if p.Protocol == model.ProtocolTCP {
		if p.TCPFlags.Has(model.FlagPSH) {
			d.psh++
		}
		if p.TCPFlags.Has(model.FlagURG) {
			d.urg++
		}
	}
	d.length.Update(float64(p.PayloadLength))
	d.bytes += uint64(p.PayloadLength)
	d.headerBytes += uint64(p.HeaderLength())
	d.count++
	if d.count > 1 {
		d.iat.Update(float64(ts - d.lastSeen))
	}
	d.lastSeen = ts
}

func (r *Record) updateBulk(p *model.PacketInfo, ts int64) {
	if p.FromClient {
		r.fwd.bulk.Update(ts, p.PayloadLength, r.bwd.bulk.LastTimestamp())
	} else {
		r.bwd.bulk.Update(ts, p.PayloadLength, r.fwd.bulk.LastTimestamp())
	}
}

func (r *Record) updateFlags(p *model.PacketInfo) {
	if p.Protocol != model.ProtocolTCP {
		return
	}
	for i, f := range tcpFlagOrder {
		if p.TCPFlags.Has(f) {
			r.flags[i]++
		}
	}
}

// ID returns the table identifier of the flow.
func (r *Record) ID() string { return r.id }

func (r *Record) Protocol() model.Protocol { return r.protocol }
func (r *Record) Client() model.Endpoint   { return r.client }
func (r *Record) Server() model.Endpoint   { return r.server }

// FirstSeen and LastSeen are microseconds since the Unix epoch.
func (r *Record) FirstSeen() int64 { return r.firstSeen }
func (r *Record) LastSeen() int64  { return r.lastSeen }

// Packets returns the forward and backward packet counts.
func (r *Record) Packets() (forward, backward uint64) { return r.fwd.count, r.bwd.count }

// Verdict builds the classification result of this flow.
func (r *Record) Verdict(batchID string, features []float64, label float64, classified bool) model.Verdict {
	return model.Verdict{
		BatchID:    batchID,
		FlowID:     r.id,
		Protocol:   r.protocol,
		Client:     r.client,
		Server:     r.server,
		FirstSeen:  time.UnixMicro(r.firstSeen),
		LastSeen:   time.UnixMicro(r.lastSeen),
		Features:   features,
		Label:      label,
		Classified: classified,
	}
}

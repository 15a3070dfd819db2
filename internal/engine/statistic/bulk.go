package statistic

// BulkGap is the largest gap, in microseconds, between two packets of the same bulk.
const BulkGap int64 = 1_000_000

// BulkMinPackets is the number of packets a candidate run needs before it counts as a bulk.
const BulkMinPackets = 4

// BulkTracker detects bulk transfers in one direction of a flow: runs of at least
// BulkMinPackets payload-carrying packets with no gap above BulkGap and no
// payload from the opposite direction in between.
type BulkTracker struct {
	stateCount  uint32
	packetCount uint32
	totalSize   uint64
	duration    int64

	// candidate run
	inProgress bool
	runStart   int64
	runSize    uint64
	runPackets uint32
	last       int64
}

// Update feeds one packet of this direction. ts is in microseconds, size is the
// payload length and oppositeLast is the last bulk timestamp of the other direction.
func (b *BulkTracker) Update(ts int64, size int, oppositeLast int64) {
	if b.inProgress && oppositeLast > b.runStart {
		b.inProgress = false
	}
	if size <= 0 {
		return
	}

	if !b.inProgress || ts-b.last > BulkGap {
		b.inProgress = true
		b.runStart = ts
		b.runSize = uint64(size)
		b.runPackets = 1
		b.last = ts
		return
	}

	b.runSize += uint64(size)
	b.runPackets++
	switch {
	case b.runPackets == BulkMinPackets:
		b.stateCount++
		b.packetCount += b.runPackets
		b.totalSize += b.runSize
		b.duration += ts - b.runStart
	case b.runPackets > BulkMinPackets:
		b.packetCount++
		b.totalSize += uint64(size)
		b.duration += ts - b.last
	}
	b.last = ts
}

// LastTimestamp is the timestamp of the last payload packet that touched the tracker.
func (b *BulkTracker) LastTimestamp() int64 { return b.last }

func (b *BulkTracker) StateCount() uint32  { return b.stateCount }
func (b *BulkTracker) PacketCount() uint32 { return b.packetCount }
func (b *BulkTracker) TotalSize() uint64   { return b.totalSize }

// Duration is the accumulated bulk time in microseconds.
func (b *BulkTracker) Duration() int64 { return b.duration }

// AvgBytesPerBulk truncates like the reference dataset does.
func (b *BulkTracker) AvgBytesPerBulk() uint64 {
	if b.stateCount == 0 {
		return 0
	}
	return b.totalSize / uint64(b.stateCount)
}

func (b *BulkTracker) AvgPacketsPerBulk() uint32 {
	if b.stateCount == 0 {
		return 0
	}
	return b.packetCount / b.stateCount
}

// AvgBulkRate is bulk bytes per second of bulk time, truncated.
func (b *BulkTracker) AvgBulkRate() uint64 {
	if b.duration == 0 {
		return 0
	}
	return uint64(float64(b.totalSize) / (float64(b.duration) / 1e6))
}

package flow

import (
	"FlowSentinel/internal/model"
	"math"
	"net"
	"reflect"
	"testing"
	"time"
)

var (
	clientIP = net.ParseIP("10.0.0.1")
	serverIP = net.ParseIP("10.0.0.2")
	baseTime = time.Unix(1700000000, 0)
)

type scripted struct {
	offset     int64 // µs since baseTime
	fromClient bool
	payload    int
	wire       int
	flags      model.TCPFlags
	window     uint16
}

func (s scripted) packet() *model.PacketInfo {
	return &model.PacketInfo{
		Timestamp:     baseTime.Add(time.Duration(s.offset) * time.Microsecond),
		Protocol:      model.ProtocolTCP,
		WireLength:    s.wire,
		PayloadLength: s.payload,
		FromClient:    s.fromClient,
		Client:        model.Endpoint{IP: clientIP, Port: 1000},
		Server:        model.Endpoint{IP: serverIP, Port: 80},
		TCPFlags:      s.flags,
		Window:        s.window,
	}
}

// handshakeScript is a short HTTP-like exchange with one subflow boundary.
var handshakeScript = []scripted{
	{0, true, 0, 74, model.FlagSYN, 64240},
	{1000, false, 0, 74, model.FlagSYN | model.FlagACK, 65160},
	{2000, true, 0, 66, model.FlagACK, 502},
	{3000, true, 517, 583, model.FlagPSH | model.FlagACK, 502},
	{50000, false, 1448, 1514, model.FlagACK, 509},
	{51000, false, 1448, 1514, model.FlagPSH | model.FlagACK, 509},
	{60000, true, 0, 66, model.FlagACK, 501},
	{2560000, true, 0, 66, model.FlagFIN | model.FlagACK, 501},
}

func buildRecord(t *testing.T, script []scripted) *Record {
	t.Helper()
	r := NewRecord("test", script[0].packet())
	for _, s := range script[1:] {
		r.AddPacket(s.packet())
		if r.FirstSeen() > r.LastSeen() {
			t.Fatalf("first_seen %d > last_seen %d", r.FirstSeen(), r.LastSeen())
		}
	}
	return r
}

// reference statistics computed the slow way
func refMean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

func refStd(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := refMean(xs)
	var sq float64
	for _, x := range xs {
		sq += (x - m) * (x - m)
	}
	return math.Sqrt(sq / float64(len(xs)))
}

func refSum(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s
}

func refMinMax(xs []float64) (float64, float64) {
	lo, hi := xs[0], xs[0]
	for _, x := range xs {
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
	}
	return lo, hi
}

func diffs(ts []float64) []float64 {
	var out []float64
	for i := 1; i < len(ts); i++ {
		out = append(out, ts[i]-ts[i-1])
	}
	return out
}

func assertField(t *testing.T, v []float64, field int, want float64) {
	t.Helper()
	got := v[field-1]
	if math.Abs(got-want) > 1e-9*math.Max(1, math.Abs(want)) {
		t.Errorf("field %d (%s) = %v, want %v", field, FeatureNames[field-1], got, want)
	}
}

func TestRecord_FeatureVectorMatchesReference(t *testing.T) {
	r := buildRecord(t, handshakeScript)
	v := r.FeatureVector()
	if len(v) != FeatureCount {
		t.Fatalf("len(vector) = %d, want %d", len(v), FeatureCount)
	}

	var fwdLen, bwdLen, allLen, fwdTS, bwdTS, allTS []float64
	var fwdHdr, bwdHdr float64
	for _, s := range handshakeScript {
		allLen = append(allLen, float64(s.payload))
		allTS = append(allTS, float64(s.offset))
		if s.fromClient {
			fwdLen = append(fwdLen, float64(s.payload))
			fwdTS = append(fwdTS, float64(s.offset))
			fwdHdr += float64(s.wire - s.payload)
		} else {
			bwdLen = append(bwdLen, float64(s.payload))
			bwdTS = append(bwdTS, float64(s.offset))
			bwdHdr += float64(s.wire - s.payload)
		}
	}
	duration := allTS[len(allTS)-1] - allTS[0]
	seconds := duration / 1e6
	totalBytes := refSum(fwdLen) + refSum(bwdLen)
	fwdMin, fwdMax := refMinMax(fwdLen)
	bwdMin, bwdMax := refMinMax(bwdLen)
	allMin, allMax := refMinMax(allLen)
	flowIAT := diffs(allTS)
	flowIATMin, flowIATMax := refMinMax(flowIAT)
	fwdIAT := diffs(fwdTS)
	fwdIATMin, fwdIATMax := refMinMax(fwdIAT)
	bwdIAT := diffs(bwdTS)
	bwdIATMin, bwdIATMax := refMinMax(bwdIAT)

	assertField(t, v, 1, 80)
	assertField(t, v, 2, duration)
	assertField(t, v, 3, float64(len(fwdLen)))
	assertField(t, v, 4, float64(len(bwdLen)))
	assertField(t, v, 5, refSum(fwdLen))
	assertField(t, v, 6, refSum(bwdLen))
	assertField(t, v, 7, fwdMax)
	assertField(t, v, 8, fwdMin)
	assertField(t, v, 9, refMean(fwdLen))
	assertField(t, v, 10, refStd(fwdLen))
	assertField(t, v, 11, bwdMax)
	assertField(t, v, 12, bwdMin)
	assertField(t, v, 13, refMean(bwdLen))
	assertField(t, v, 14, refStd(bwdLen))
	assertField(t, v, 15, totalBytes/seconds)
	assertField(t, v, 16, float64(len(allLen))/seconds)
	assertField(t, v, 17, refMean(flowIAT))
	assertField(t, v, 18, refStd(flowIAT))
	assertField(t, v, 19, flowIATMax)
	assertField(t, v, 20, flowIATMin)
	assertField(t, v, 21, refSum(fwdIAT))
	assertField(t, v, 22, refMean(fwdIAT))
	assertField(t, v, 23, refStd(fwdIAT))
	assertField(t, v, 24, fwdIATMax)
	assertField(t, v, 25, fwdIATMin)
	assertField(t, v, 26, refSum(bwdIAT))
	assertField(t, v, 27, refMean(bwdIAT))
	assertField(t, v, 28, refStd(bwdIAT))
	assertField(t, v, 29, bwdIATMax)
	assertField(t, v, 30, bwdIATMin)
	assertField(t, v, 31, 1) // fwd PSH
	assertField(t, v, 32, 1) // bwd PSH
	assertField(t, v, 33, 0)
	assertField(t, v, 34, v[31])
	assertField(t, v, 35, fwdHdr)
	assertField(t, v, 36, bwdHdr)
	assertField(t, v, 37, float64(len(fwdLen))/seconds)
	assertField(t, v, 38, float64(len(bwdLen))/seconds)
	assertField(t, v, 39, allMin)
	assertField(t, v, 40, allMax)
	assertField(t, v, 41, refMean(allLen))
	assertField(t, v, 42, refStd(allLen))
	assertField(t, v, 43, refStd(allLen)*refStd(allLen))
	assertField(t, v, 44, 1) // FIN
	assertField(t, v, 45, 2) // SYN
	assertField(t, v, 46, 0) // RST
	assertField(t, v, 47, 2) // PSH
	assertField(t, v, 48, 7) // ACK
	assertField(t, v, 52, float64(len(bwdLen))/float64(len(fwdLen)))
	assertField(t, v, 53, refSum(allLen)/float64(len(allLen)))
	assertField(t, v, 54, refSum(fwdLen)/float64(len(fwdLen)))
	assertField(t, v, 55, refSum(bwdLen)/float64(len(bwdLen)))
	assertField(t, v, 56, fwdHdr)
	for f := 57; f <= 62; f++ {
		assertField(t, v, f, 0)
	}
	// one gap above 1s: a single subflow boundary
	assertField(t, v, 63, float64(len(fwdLen)))
	assertField(t, v, 64, refSum(fwdLen))
	assertField(t, v, 65, float64(len(bwdLen)))
	assertField(t, v, 66, refSum(bwdLen))
	assertField(t, v, 67, 64240)
	assertField(t, v, 68, 509) // last backward window
	assertField(t, v, 69, 1)
	assertField(t, v, 70, 66)
	// the only gap is under the activity timeout
	for f := 71; f <= 78; f++ {
		assertField(t, v, f, 0)
	}
}

func TestRecord_SinglePacketPerDirectionHasNoIAT(t *testing.T) {
	r := buildRecord(t, []scripted{
		{0, true, 10, 64, model.FlagSYN, 1024},
		{500, false, 20, 74, model.FlagSYN | model.FlagACK, 2048},
	})
	if r.fwd.iat.Count() != 0 || r.bwd.iat.Count() != 0 {
		t.Fatalf("direction IAT counts = %d/%d, want 0/0", r.fwd.iat.Count(), r.bwd.iat.Count())
	}
	v := r.FeatureVector()
	for f := 21; f <= 30; f++ {
		assertField(t, v, f, 0)
	}
	// the flow itself has one gap
	assertField(t, v, 17, 500)
}

func TestRecord_FirstPacketOnly(t *testing.T) {
	r := NewRecord("solo", scripted{0, true, 0, 60, model.FlagSYN, 1024}.packet())
	v := r.FeatureVector()
	if len(v) != FeatureCount {
		t.Fatalf("len(vector) = %d", len(v))
	}
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			t.Errorf("field %d is %v", i+1, x)
		}
	}
	assertField(t, v, 2, 0)
	assertField(t, v, 15, 0)
	assertField(t, v, 16, 0)
	assertField(t, v, 3, 1)
	assertField(t, v, 67, 1024)
	assertField(t, v, 70, 60)
}

func TestRecord_BackwardIATFromScript(t *testing.T) {
	// backward packets at 1000, 50000 and 51000 µs
	v := buildRecord(t, handshakeScript).FeatureVector()
	assertField(t, v, 26, 50000)
	assertField(t, v, 27, 25000)
	assertField(t, v, 28, 24000)
	assertField(t, v, 29, 49000)
	assertField(t, v, 30, 1000)
}

func TestRecord_MinSegmentSize(t *testing.T) {
	t.Run("forward first", func(t *testing.T) {
		r := buildRecord(t, []scripted{
			{0, true, 0, 74, model.FlagSYN, 1024},
			{100, false, 0, 60, model.FlagSYN | model.FlagACK, 2048},
			{200, true, 10, 62, model.FlagACK, 1024},
		})
		assertField(t, r.FeatureVector(), 70, 52)
	})

	t.Run("backward first stays zero", func(t *testing.T) {
		r := buildRecord(t, []scripted{
			{0, false, 0, 60, model.FlagSYN | model.FlagACK, 2048},
			{100, true, 0, 66, model.FlagACK, 1024},
			{200, true, 5, 71, model.FlagPSH | model.FlagACK, 1024},
		})
		assertField(t, r.FeatureVector(), 70, 0)
	})
}

func TestRecord_BulkAcrossPackets(t *testing.T) {
	script := []scripted{{0, true, 0, 60, model.FlagSYN, 1024}}
	for i := int64(1); i <= 4; i++ {
		script = append(script, scripted{i * 100000, false, 1000, 1066, model.FlagACK, 2048})
	}
	r := buildRecord(t, script)
	bwd := &r.bwd.bulk
	if bwd.StateCount() != 1 || bwd.PacketCount() != 4 {
		t.Fatalf("bulk state=%d packets=%d, want 1/4", bwd.StateCount(), bwd.PacketCount())
	}

	r.AddPacket(scripted{500000, false, 1000, 1066, model.FlagACK, 2048}.packet())
	if bwd.StateCount() != 1 || bwd.PacketCount() != 5 {
		t.Fatalf("after 5th: state=%d packets=%d, want 1/5", bwd.StateCount(), bwd.PacketCount())
	}

	r.AddPacket(scripted{2000000, false, 1000, 1066, model.FlagACK, 2048}.packet())
	if bwd.StateCount() != 1 || bwd.PacketCount() != 5 {
		t.Fatalf("after gap: state=%d packets=%d, want 1/5", bwd.StateCount(), bwd.PacketCount())
	}

	v := r.FeatureVector()
	assertField(t, v, 60, 5000) // bytes per bulk
	assertField(t, v, 61, 5)    // packets per bulk
	assertField(t, v, 62, 12500)
}

func TestRecord_ForwardTalliesUseForwardCounters(t *testing.T) {
	r := buildRecord(t, []scripted{
		{0, true, 0, 60, model.FlagSYN, 1024},
		{100, true, 5, 65, model.FlagPSH | model.FlagURG | model.FlagACK, 1024},
	})
	v := r.FeatureVector()
	assertField(t, v, 31, 1) // one forward PSH
	assertField(t, v, 32, 0)
	assertField(t, v, 33, 1)
}

func TestRecord_FeatureVectorIsIdempotent(t *testing.T) {
	r := buildRecord(t, handshakeScript)
	first := r.FeatureVector()
	second := r.FeatureVector()
	if !reflect.DeepEqual(first, second) {
		t.Errorf("repeated extraction differs:\n%v\n%v", first, second)
	}
}

func TestRecord_NonTCPKeepsFlagsAtZero(t *testing.T) {
	p := scripted{0, true, 32, 74, model.FlagSYN, 0}.packet()
	p.Protocol = model.ProtocolUDP
	r := NewRecord("udp", p)
	q := scripted{10, false, 64, 106, model.FlagPSH, 777}.packet()
	q.Protocol = model.ProtocolUDP
	r.AddPacket(q)

	v := r.FeatureVector()
	for f := 44; f <= 51; f++ {
		assertField(t, v, f, 0)
	}
	assertField(t, v, 31, 0)
	assertField(t, v, 68, 0)
}

func TestFeatureNames_Length(t *testing.T) {
	for i, n := range FeatureNames {
		if n == "" {
			t.Errorf("feature %d has no name", i+1)
		}
	}
}

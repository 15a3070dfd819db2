package flow

import "FlowSentinel/internal/engine/statistic"

// FeatureCount is the fixed length of a flow feature vector.
const FeatureCount = 78

// FeatureNames are the column names of the feature vector, in order. They follow
// the CICIDS2017 MachineLearningCVE layout the classifiers are trained on,
// duplicated columns included.
var FeatureNames = [FeatureCount]string{
	"Destination Port", "Flow Duration", "Total Fwd Packets", "Total Backward Packets",
	"Total Length of Fwd Packets", "Total Length of Bwd Packets",
	"Fwd Packet Length Max", "Fwd Packet Length Min", "Fwd Packet Length Mean", "Fwd Packet Length Std",
	"Bwd Packet Length Max", "Bwd Packet Length Min", "Bwd Packet Length Mean", "Bwd Packet Length Std",
	"Flow Bytes/s", "Flow Packets/s",
	"Flow IAT Mean", "Flow IAT Std", "Flow IAT Max", "Flow IAT Min",
	"Fwd IAT Total", "Fwd IAT Mean", "Fwd IAT Std", "Fwd IAT Max", "Fwd IAT Min",
	"Bwd IAT Total", "Bwd IAT Mean", "Bwd IAT Std", "Bwd IAT Max", "Bwd IAT Min",
	"Fwd PSH Flags", "Bwd PSH Flags", "Fwd URG Flags", "Bwd URG Flags",
	"Fwd Header Length", "Bwd Header Length", "Fwd Packets/s", "Bwd Packets/s",
	"Min Packet Length", "Max Packet Length", "Packet Length Mean", "Packet Length Std", "Packet Length Variance",
	"FIN Flag Count", "SYN Flag Count", "RST Flag Count", "PSH Flag Count",
	"ACK Flag Count", "URG Flag Count", "CWE Flag Count", "ECE Flag Count",
	"Down/Up Ratio", "Average Packet Size", "Avg Fwd Segment Size", "Avg Bwd Segment Size",
	"Fwd Header Length.1",
	"Fwd Avg Bytes/Bulk", "Fwd Avg Packets/Bulk", "Fwd Avg Bulk Rate",
	"Bwd Avg Bytes/Bulk", "Bwd Avg Packets/Bulk", "Bwd Avg Bulk Rate",
	"Subflow Fwd Packets", "Subflow Fwd Bytes", "Subflow Bwd Packets", "Subflow Bwd Bytes",
	"Init_Win_bytes_forward", "Init_Win_bytes_backward", "act_data_pkt_fwd", "min_seg_size_forward",
	"Active Mean", "Active Std", "Active Max", "Active Min",
	"Idle Mean", "Idle Std", "Idle Max", "Idle Min",
}

// FeatureVector returns the 78-field summary of the flow. It does not modify the
// record, so repeated calls on an unchanged record return identical vectors.
// Undefined ratios resolve to 0.
func (r *Record) FeatureVector() []float64 {
	v := make([]float64, 0, FeatureCount)
	duration := r.lastSeen - r.firstSeen
	seconds := float64(duration) / 1e6
	perSecond := func(x float64) float64 {
		if duration <= 0 {
			return 0
		}
		return x / seconds
	}
	ratio := func(num float64, den uint64) float64 {
		if den == 0 {
			return 0
		}
		return num / float64(den)
	}
	totalPackets := r.fwd.count + r.bwd.count

	v = append(v,
		float64(r.server.Port),
		float64(duration),
		float64(r.fwd.length.Count()),
		float64(r.bwd.length.Count()),
		r.fwd.length.Sum(),
		r.bwd.length.Sum(),
	)
	v = appendLength(v, &r.fwd.length)
	v = appendLength(v, &r.bwd.length)

	v = append(v,
		perSecond(float64(r.fwd.bytes+r.bwd.bytes)),
		perSecond(float64(totalPackets)),
	)
	v = appendIAT(v, &r.flowIAT)
	v = appendDirectionIAT(v, &r.fwd)
	v = appendDirectionIAT(v, &r.bwd)

	v = append(v,
		float64(r.fwd.psh),
		float64(r.bwd.psh),
		float64(r.fwd.urg),
		float64(r.bwd.psh),
		float64(r.fwd.headerBytes),
		float64(r.bwd.headerBytes),
		perSecond(float64(r.fwd.count)),
		perSecond(float64(r.bwd.count)),
	)

	if r.flowLength.Count() > 0 {
		v = append(v,
			r.flowLength.Min(),
			r.flowLength.Max(),
			r.flowLength.Mean(),
			r.flowLength.Stddev(),
			r.flowLength.Variance(),
		)
	} else {
		v = append(v, 0, 0, 0, 0, 0)
	}

	for _, n := range r.flags {
		v = append(v, float64(n))
	}

	subflows := uint64(r.subflow.Count())
	v = append(v,
		ratio(float64(r.bwd.count), r.fwd.count),
		ratio(r.flowLength.Sum(), totalPackets),
		ratio(r.fwd.length.Sum(), r.fwd.count),
		ratio(r.bwd.length.Sum(), r.bwd.count),
		float64(r.fwd.headerBytes),
	)
	v = appendBulk(v, &r.fwd.bulk)
	v = appendBulk(v, &r.bwd.bulk)
	v = append(v,
		ratio(float64(r.fwd.count), subflows),
		ratio(float64(r.fwd.bytes), subflows),
		ratio(float64(r.bwd.count), subflows),
		ratio(float64(r.bwd.bytes), subflows),
		float64(r.fwd.initWindow),
		float64(r.bwd.initWindow),
		float64(r.actDataPktFwd),
		float64(r.minSegSizeFwd),
	)
	v = appendIAT(v, r.subflow.Active())
	v = appendIAT(v, r.subflow.Idle())
	return v
}

// appendLength appends max, min, mean, std.
func appendLength(v []float64, a *statistic.Accumulator) []float64 {
	if a.Count() == 0 {
		return append(v, 0, 0, 0, 0)
	}
	return append(v, a.Max(), a.Min(), a.Mean(), a.Stddev())
}

// appendIAT appends mean, std, max, min.
func appendIAT(v []float64, a *statistic.Accumulator) []float64 {
	if a.Count() == 0 {
		return append(v, 0, 0, 0, 0)
	}
	return append(v, a.Mean(), a.Stddev(), a.Max(), a.Min())
}

// appendDirectionIAT appends total, mean, std, max, min. A direction needs at
// least two packets to have an inter-arrival time.
func appendDirectionIAT(v []float64, d *direction) []float64 {
	if d.count <= 1 {
		return append(v, 0, 0, 0, 0, 0)
	}
	return append(v, d.iat.Sum(), d.iat.Mean(), d.iat.Stddev(), d.iat.Max(), d.iat.Min())
}

func appendBulk(v []float64, b *statistic.BulkTracker) []float64 {
	return append(v,
		float64(b.AvgBytesPerBulk()),
		float64(b.AvgPacketsPerBulk()),
		float64(b.AvgBulkRate()),
	)
}

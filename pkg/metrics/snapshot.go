package metrics

import (
	dto "github.com/prometheus/client_model/go"
)

// Snapshot is the JSON projection served at GET /metrics (spec §6).
type Snapshot struct {
	Counters   map[string]map[string]float64            `json:"counters"`
	Gauges     map[string]map[string]float64            `json:"gauges"`
	Histograms map[string]map[string]HistogramSnapshot  `json:"histograms"`
}

// HistogramSnapshot summarizes one labeled histogram series.
type HistogramSnapshot struct {
	SampleCount uint64  `json:"sampleCount"`
	SampleSum   float64 `json:"sampleSum"`
}

// Snapshot gathers every registered metric family into a JSON-friendly
// value, keyed by metric name then by a rendered label string.
func (m *Metrics) Snapshot() (Snapshot, error) {
	families, err := m.Registry.Gather()
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		Counters:   make(map[string]map[string]float64),
		Gauges:     make(map[string]map[string]float64),
		Histograms: make(map[string]map[string]HistogramSnapshot),
	}

	for _, fam := range families {
		name := fam.GetName()
		for _, metric := range fam.GetMetric() {
			key := labelKey(metric.GetLabel())
			switch fam.GetType() {
			case dtoTypeCounter:
				if snap.Counters[name] == nil {
					snap.Counters[name] = make(map[string]float64)
				}
				snap.Counters[name][key] = metric.GetCounter().GetValue()
			case dtoTypeGauge:
				if snap.Gauges[name] == nil {
					snap.Gauges[name] = make(map[string]float64)
				}
				snap.Gauges[name][key] = metric.GetGauge().GetValue()
			case dtoTypeHistogram:
				if snap.Histograms[name] == nil {
					snap.Histograms[name] = make(map[string]HistogramSnapshot)
				}
				h := metric.GetHistogram()
				snap.Histograms[name][key] = HistogramSnapshot{
					SampleCount: h.GetSampleCount(),
					SampleSum:   h.GetSampleSum(),
				}
			}
		}
	}
	return snap, nil
}

const (
	dtoTypeCounter   = dto.MetricType_COUNTER
	dtoTypeGauge     = dto.MetricType_GAUGE
	dtoTypeHistogram = dto.MetricType_HISTOGRAM
)

func labelKey(labels []*dto.LabelPair) string {
	if len(labels) == 0 {
		return ""
	}
	s := ""
	for i, l := range labels {
		if i > 0 {
			s += ","
		}
		s += l.GetName() + "=" + l.GetValue()
	}
	return s
}

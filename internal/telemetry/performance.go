package telemetry

import "time"

// Bar is one non-empty bucket of the tick time distribution.
type Bar struct {
	From  time.Duration `json:"from_ns"`
	To    time.Duration `json:"to_ns"`
	Count int64         `json:"count"`
}

// Performance summarises the tick time histogram.
type Performance struct {
	Count int64         `json:"count"`
	Mean  time.Duration `json:"mean_ns"`
	Max   time.Duration `json:"max_ns"`
	P50   time.Duration `json:"p50_ns"`
	P90   time.Duration `json:"p90_ns"`
	P99   time.Duration `json:"p99_ns"`
	Bars  []Bar         `json:"bars"`
}

// Performance copies out the histogram summary. Empty buckets are omitted.
func (s *State) Performance() Performance {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.histogram
	p := Performance{
		Count: h.TotalCount(),
		Bars:  []Bar{},
	}
	if p.Count == 0 {
		return p
	}
	p.Mean = time.Duration(h.Mean())
	p.Max = time.Duration(h.Max())
	p.P50 = time.Duration(h.ValueAtQuantile(50))
	p.P90 = time.Duration(h.ValueAtQuantile(90))
	p.P99 = time.Duration(h.ValueAtQuantile(99))
	for _, b := range h.Distribution() {
		if b.Count == 0 {
			continue
		}
		p.Bars = append(p.Bars, Bar{From: time.Duration(b.From), To: time.Duration(b.To), Count: b.Count})
	}
	return p
}

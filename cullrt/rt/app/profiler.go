package app

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"
)

// Profiler keeps per-scope CPU frame timings, smoothed over recent frames, and a few
// named counters.
type Profiler struct {
	Scopes     map[string]time.Duration
	Average    map[string]time.Duration
	StartTimes map[string]time.Time
	Counts     map[string]int
	Order      []string

	// Smoothing is the weight of the newest sample in Average.
	Smoothing float64
	now       func() time.Time
}

func NewProfiler() *Profiler {
	return &Profiler{
		Scopes:     make(map[string]time.Duration),
		Average:    make(map[string]time.Duration),
		StartTimes: make(map[string]time.Time),
		Counts:     make(map[string]int),
		Order:      make([]string, 0),
		Smoothing:  0.1,
		now:        time.Now,
	}
}

func (p *Profiler) BeginScope(name string) {
	p.StartTimes[name] = p.now()
	if !slices.Contains(p.Order, name) {
		p.Order = append(p.Order, name)
	}
}

func (p *Profiler) EndScope(name string) {
	start, ok := p.StartTimes[name]
	if !ok {
		return
	}
	d := p.now().Sub(start)
	p.Scopes[name] = d
	if avg, seen := p.Average[name]; seen {
		p.Average[name] = avg + time.Duration(p.Smoothing*float64(d-avg))
	} else {
		p.Average[name] = d
	}
}

func (p *Profiler) SetCount(name string, count int) {
	p.Counts[name] = count
}

func (p *Profiler) Reset() {
	// Keep Order, reset times
	for k := range p.Scopes {
		p.Scopes[k] = 0
	}
	clear(p.Average)
}

func (p *Profiler) GetStatsString() string {
	var sb strings.Builder

	sb.WriteString("Timings (CPU):\n")
	for _, name := range p.Order {
		last := float64(p.Scopes[name].Microseconds()) / 1000.0
		avg := float64(p.Average[name].Microseconds()) / 1000.0
		sb.WriteString(fmt.Sprintf("  %-15s: %.2f ms (avg %.2f ms)\n", name, last, avg))
	}

	sb.WriteString("\nStats:\n")
	keys := make([]string, 0, len(p.Counts))
	for k := range p.Counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(fmt.Sprintf("  %-15s: %d\n", k, p.Counts[k]))
	}

	return sb.String()
}

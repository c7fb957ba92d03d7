package report

import (
	"sync"

	"github.com/guptarohit/asciigraph"

	"github.com/itohio/gopump/pkg/control"
)

// FlowPlot keeps a rolling window of flow and setpoint samples and
// renders them as a terminal graph. It stands in for the desktop scope
// widget on a headless controller.
type FlowPlot struct {
	mu       sync.Mutex
	capacity int
	flow     []float64
	setpoint []float64
}

// NewFlowPlot creates a plot holding up to capacity samples.
func NewFlowPlot(capacity int) *FlowPlot {
	if capacity <= 0 {
		capacity = 120
	}
	return &FlowPlot{
		capacity: capacity,
		flow:     make([]float64, 0, capacity),
		setpoint: make([]float64, 0, capacity),
	}
}

// Observe appends one snapshot to the window. Use it directly as a
// Reporter callback.
func (p *FlowPlot) Observe(state control.SystemState) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.flow = append(p.flow, float64(state.Flow))
	p.setpoint = append(p.setpoint, float64(state.Setpoint))
	if len(p.flow) > p.capacity {
		p.flow = p.flow[1:]
		p.setpoint = p.setpoint[1:]
	}
}

// Render returns the current window as an ASCII graph: measured flow and
// setpoint overlaid, in mL/min.
func (p *FlowPlot) Render(height int) string {
	p.mu.Lock()
	flow := make([]float64, len(p.flow))
	copy(flow, p.flow)
	setpoint := make([]float64, len(p.setpoint))
	copy(setpoint, p.setpoint)
	p.mu.Unlock()

	if len(flow) < 2 {
		return "(collecting samples...)"
	}
	if height <= 0 {
		height = 10
	}

	return asciigraph.PlotMany(
		[][]float64{setpoint, flow},
		asciigraph.Height(height),
		asciigraph.Caption("flow vs setpoint (mL/min)"),
		asciigraph.SeriesColors(asciigraph.Gray, asciigraph.Default),
	)
}

package viz

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/trailermpc/internal/horizon"
	"github.com/san-kum/trailermpc/internal/mpc"
	"github.com/san-kum/trailermpc/internal/sim"
	"github.com/san-kum/trailermpc/internal/vehicle"
)

const (
	trailCapacity   = 400
	historyCapacity = 120
	defaultSpan     = 60.0
)

type TickMsg time.Time

// Live is a Bubble Tea model that ticks an executor at the scenario rate
// and draws the vehicle with its predicted horizon.
type Live struct {
	exec     *mpc.Executor
	scenario sim.Scenario
	scene    Scene
	canvas   *Canvas

	step       int
	running    bool
	plan       *horizon.Solution
	lastErr    error
	infeasible int
	trail      []horizon.Point
	xtrack     []float64
	span       float64
	width      int
	height     int
}

func NewLive(e *mpc.Executor, sc sim.Scenario, width, height int) Live {
	return Live{
		exec:     e,
		scenario: sc,
		scene: Scene{
			Path:          sc.Path,
			Obstacles:     sc.Obstacles,
			VehicleRadius: sc.Executor.Horizon.VehicleRadius,
		},
		canvas:  NewCanvas(width, height),
		running: true,
		trail:   make([]horizon.Point, 0, trailCapacity),
		xtrack:  make([]float64, 0, historyCapacity),
		span:    defaultSpan,
		width:   width,
		height:  height,
	}
}

func (m Live) tick() tea.Cmd {
	interval := time.Duration(m.scenario.Dt * float64(time.Second))
	return tea.Tick(interval, func(t time.Time) tea.Msg { return TickMsg(t) })
}

func (m Live) Init() tea.Cmd {
	return m.tick()
}

func (m Live) Done() bool {
	return m.step >= m.scenario.Steps()
}

func (m Live) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case " ":
			m.running = !m.running
		case "n":
			if !m.running {
				m = m.advance()
			}
		case "r":
			m = m.reset()
		case "+", "=":
			m.span = math.Max(10, m.span/1.25)
		case "-":
			m.span = math.Min(500, m.span*1.25)
		}
		return m, nil
	case tea.WindowSizeMsg:
		m.width = max(20, msg.Width-4)
		m.height = max(8, msg.Height-14)
		m.canvas = NewCanvas(m.width, m.height)
		return m, nil
	case TickMsg:
		if m.running && !m.Done() {
			m = m.advance()
		}
		return m, m.tick()
	}
	return m, nil
}

func (m Live) advance() Live {
	if m.Done() {
		return m
	}
	plan, err := m.exec.Tick(context.Background(), m.scenario.Dt, m.scenario.Path, m.scenario.Obstacles)
	m.step++
	switch {
	case errors.Is(err, mpc.ErrNoSolution):
		m.infeasible++
		m.lastErr = err
	case err != nil:
		m.lastErr = err
		m.running = false
	default:
		m.plan = plan
		m.lastErr = nil
	}

	s, g := m.exec.State(), m.exec.Geometry()
	cx, cy := vehicle.ControlPoint(s, g)
	m.trail = appendBounded(m.trail, horizon.Point{X: cx, Y: cy}, trailCapacity)
	m.xtrack = appendBounded(m.xtrack, m.scenario.Path.CrossTrack(cx, cy), historyCapacity)
	return m
}

func (m Live) reset() Live {
	cfg := m.scenario.Executor
	m.lastErr = m.exec.Reset(cfg.InitialState, cfg.InitialSteering)
	m.step = 0
	m.plan = nil
	m.infeasible = 0
	m.trail = m.trail[:0]
	m.xtrack = m.xtrack[:0]
	return m
}

func appendBounded[T any](s []T, v T, capacity int) []T {
	if len(s) >= capacity {
		s = append(s[:0], s[1:]...)
	}
	return append(s, v)
}

func (m Live) View() string {
	s := m.exec.State()
	m.scene.Draw(m.canvas, NewViewport(m.canvas, s.X, s.Y, m.span), Frame{
		State:    s,
		Steering: m.exec.Steering(),
		Geometry: m.exec.Geometry(),
		Plan:     m.plan,
		Trail:    m.trail,
	})

	var b strings.Builder
	name := m.scenario.Name
	if name == "" {
		name = "trailer"
	}
	b.WriteString(HeaderStyle.Render(strings.ToUpper(name)) + "\n")
	b.WriteString(m.status() + "\n\n")
	b.WriteString(Panel.Render(strings.TrimRight(m.canvas.String(), "\n")) + "\n")

	lim := m.scenario.Executor.Limits
	steer := m.exec.Steering()
	b.WriteString(MetricLabel.Render("time") + MetricValue.Render(fmt.Sprintf("%.1fs", float64(m.step)*m.scenario.Dt)) + "\n")
	b.WriteString(MetricLabel.Render("steering") + UsageBar(math.Abs(steer)/lim.MaxSteer, 16) +
		MetricValue.Render(fmt.Sprintf(" %+.1f°", steer*180/math.Pi)) + "\n")
	b.WriteString(MetricLabel.Render("articulation") + UsageBar(math.Abs(s.Articulation())/lim.MaxArticulation, 16) +
		MetricValue.Render(fmt.Sprintf(" %+.1f°", s.Articulation()*180/math.Pi)) + "\n")
	b.WriteString(MetricLabel.Render("infeasible") + MetricValue.Render(fmt.Sprintf("%d", m.infeasible)) + "\n")

	if len(m.xtrack) > 1 {
		chart := asciigraph.Plot(m.xtrack, asciigraph.Height(4), asciigraph.Width(40), asciigraph.Caption("cross-track [m]"))
		b.WriteString("\n" + chart + "\n")
	}
	b.WriteString("\n" + KeyHint.Render("space pause · n step · r reset · +/- zoom · q quit"))
	return b.String()
}

func (m Live) status() string {
	switch {
	case m.lastErr != nil && !errors.Is(m.lastErr, mpc.ErrNoSolution):
		return StatusFailed.Render("ERROR " + m.lastErr.Error())
	case m.lastErr != nil:
		return StatusFailed.Render("NO SOLUTION, holding steering")
	case m.Done():
		return StatusPaused.Render("FINISHED")
	case !m.running:
		return StatusPaused.Render("PAUSED")
	default:
		return StatusRunning.Render(strings.ToUpper(m.exec.Status().String()))
	}
}

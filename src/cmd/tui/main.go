package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"molecule-lab/src/internal/config"
	"molecule-lab/src/internal/gateway"
	"molecule-lab/src/internal/interaction"
	"molecule-lab/src/internal/molecule"
	"molecule-lab/src/internal/render"
	"molecule-lab/src/internal/scene"
	"molecule-lab/src/internal/storage"
)

const (
	frameInterval = 50 * time.Millisecond
	// idle rotation is tuned per 60 Hz frame
	ticksPerFrame = 3
	keyDrag       = 20.0
	keyZoom       = 100.0
	infoWidth     = 40
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

type generatedMsg struct {
	query string
	rec   *molecule.Record
	err   error
}

type exportedMsg struct {
	path string
	err  error
}

type frameMsg time.Time

type Model struct {
	ctx     context.Context
	cancel  context.CancelFunc
	gw      *gateway.Gateway
	input   textinput.Model
	spinner spinner.Model
	info    viewport.Model
	ctrl    *interaction.Controller

	rec     *molecule.Record
	graph   *scene.Graph
	stats   molecule.Stats
	pending string
	status  string
	failed  bool
	width   int
	height  int
}

func initialModel(ctx context.Context, cancel context.CancelFunc, gw *gateway.Gateway) Model {
	ti := textinput.New()
	ti.Placeholder = "输入物质名称，例如：水"
	ti.CharLimit = 64
	ti.Width = 32
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = titleStyle

	m := Model{
		ctx:     ctx,
		cancel:  cancel,
		gw:      gw,
		input:   ti,
		spinner: sp,
		info:    viewport.New(infoWidth, 20),
		ctrl:    interaction.NewController(gw.Params().Interaction),
		status:  "Samples: " + strings.Join(gw.Samples(), ", "),
		width:   100,
		height:  30,
	}
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, frame())
}

func frame() tea.Cmd {
	return tea.Tick(frameInterval, func(t time.Time) tea.Msg { return frameMsg(t) })
}

func (m Model) generate(query string) tea.Cmd {
	return func() tea.Msg {
		rec, err := m.gw.Generate(m.ctx, query)
		return generatedMsg{query: query, rec: rec, err: err}
	}
}

func (m Model) export() tea.Cmd {
	rec := m.rec
	return func() tea.Msg {
		doc, err := m.gw.Export(rec, true)
		if err != nil {
			return exportedMsg{err: err}
		}
		return exportedMsg{path: filepath.Join(m.gw.Storage.ExportsDir(), doc.Filename)}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.info.Height = max(msg.Height-8, 4)
	case frameMsg:
		if m.rec != nil {
			for range ticksPerFrame {
				m.ctrl.Tick()
			}
		}
		return m, frame()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case generatedMsg:
		// a newer query supersedes this one
		if msg.query != m.pending {
			return m, nil
		}
		m.pending = ""
		if msg.err != nil {
			m.failed = true
			m.status = gateway.FailureMessage
			if errors.Is(msg.err, gateway.ErrEmptyQuery) {
				m.status = gateway.EmptyQueryMessage
			}
			slog.Debug("generation failed", "query", msg.query, "error", msg.err)
			return m, nil
		}
		m.failed = false
		m.rec = msg.rec
		m.graph = m.gw.Scene(msg.rec)
		m.stats = molecule.Analyze(msg.rec)
		m.ctrl.Reset()
		m.info.SetContent(infoView(m.rec, m.stats))
		m.info.GotoTop()
		m.status = fmt.Sprintf("%s loaded", m.rec.Name)
		return m, nil
	case exportedMsg:
		if msg.err != nil {
			m.failed = true
			m.status = "Export failed: " + msg.err.Error()
		} else {
			m.failed = false
			m.status = "Report saved to " + msg.path
		}
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.cancel()
			return m, tea.Quit
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q == "" {
				return m, nil
			}
			m.pending = q
			m.failed = false
			m.status = fmt.Sprintf("实验机器人正在分析「%s」…", q)
			return m, tea.Batch(m.generate(q), m.spinner.Tick)
		case "ctrl+e":
			if m.rec != nil {
				return m, m.export()
			}
			return m, nil
		case "left", "right", "up", "down":
			m.drag(msg.String())
			return m, nil
		case "pgup", "pgdown":
			if msg.String() == "pgup" {
				m.ctrl.Wheel(-keyZoom)
			} else {
				m.ctrl.Wheel(keyZoom)
			}
			return m, nil
		case "ctrl+u", "ctrl+d":
			var cmd tea.Cmd
			m.info, cmd = m.info.Update(msg)
			return m, cmd
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// drag turns an arrow key into a short pointer drag.
func (m *Model) drag(key string) {
	var dx, dy float64
	switch key {
	case "left":
		dx = -keyDrag
	case "right":
		dx = keyDrag
	case "up":
		dy = -keyDrag
	case "down":
		dy = keyDrag
	}
	m.ctrl.PointerDown()
	m.ctrl.PointerMove(dx, dy)
	m.ctrl.PointerUp()
}

func infoView(r *molecule.Record, st molecule.Stats) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(r.Name) + "\n")
	b.WriteString(r.Formula + "\n\n")
	b.WriteString(r.Description + "\n\n")
	fmt.Fprintf(&b, "状态: %s\n", r.Properties.State)
	fmt.Fprintf(&b, "熔点: %s\n", r.Properties.MeltingPoint)
	fmt.Fprintf(&b, "原子: %d  化学键: %d  片段: %d\n", st.Atoms, st.Bonds, st.Fragments)
	if st.Dropped > 0 || st.Duplicates > 0 {
		b.WriteString(dimStyle.Render(fmt.Sprintf("忽略无效键 %d, 重复键 %d", st.Dropped, st.Duplicates)) + "\n")
	}
	b.WriteString("\n趣味冷知识: " + r.FunFact)
	return b.String()
}

type cell struct {
	ch    rune
	color string
	z     float64
}

// preview rasterizes the scene into terminal cells. Rows count double since
// a cell is roughly twice as tall as it is wide.
func preview(g *scene.Graph, bondColor string, v interaction.ViewTransform, cols, rows int) string {
	vp := render.NewViewport(cols, rows*2, scene.CameraFOV, v)
	cols, rows = vp.Width, vp.Height/2
	grid := make([][]cell, rows)
	for y := range grid {
		grid[y] = make([]cell, cols)
		for x := range grid[y] {
			grid[y][x].z = math.Inf(-1)
		}
	}
	plot := func(px, py float64, ch rune, color string, z float64) {
		x, y := int(px), int(py/2)
		if x < 0 || y < 0 || x >= cols || y >= rows || z < grid[y][x].z {
			return
		}
		grid[y][x] = cell{ch: ch, color: color, z: z}
	}

	for _, c := range g.Cylinders {
		a, b := c.Pose.Ends()
		a, b = vp.Transform(a), vp.Transform(b)
		const steps = 32
		for i := 0; i <= steps; i++ {
			p := a.Add(b.Sub(a).Scale(float64(i) / steps))
			if x, y, _, ok := vp.Project(p); ok {
				plot(x, y, '·', bondColor, p.Z)
			}
		}
	}
	for _, s := range g.Spheres {
		c := vp.Transform(s.Center)
		x, y, k, ok := vp.Project(c)
		if !ok {
			continue
		}
		r := s.Radius * k
		for dy := -r; dy <= r; dy++ {
			for dx := -r; dx <= r; dx++ {
				if dx*dx+dy*dy <= r*r {
					plot(x+dx, y+dy, '●', s.Color, c.Z+s.Radius*0.5)
				}
			}
		}
		for i, ch := range s.Element {
			plot(x+float64(i), y, ch, "#ffffff", c.Z+s.Radius)
		}
	}

	var b strings.Builder
	for y, row := range grid {
		for _, cl := range row {
			if cl.ch == 0 {
				b.WriteByte(' ')
				continue
			}
			b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color(cl.color)).Render(string(cl.ch)))
		}
		if y < len(grid)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func helpView() string {
	return dimStyle.Render("enter: generate | ←↑↓→: rotate | pgup/pgdown: zoom | ctrl+e: export report | ctrl+u/ctrl+d: scroll info | esc: quit")
}

func (m Model) View() string {
	header := lipgloss.JoinHorizontal(lipgloss.Center, titleStyle.Render("趣味分子实验室  "), m.input.View())

	status := m.status
	if m.pending != "" {
		status = m.spinner.View() + " " + status
	}
	if m.failed {
		status = errStyle.Render(status)
	}

	stageW := max(m.width-infoWidth-8, 20)
	stageH := max(m.height-8, 8)
	var stage string
	if m.graph != nil {
		stage = preview(m.graph, m.gw.Params().BondColor, m.ctrl.View(), stageW, stageH)
	} else {
		stage = lipgloss.Place(stageW, stageH, lipgloss.Center, lipgloss.Center, dimStyle.Render("输入一种物质开始实验"))
	}

	body := lipgloss.JoinHorizontal(lipgloss.Top,
		boxStyle.Render(stage),
		boxStyle.Width(infoWidth).Render(m.info.View()),
	)
	return lipgloss.JoinVertical(lipgloss.Left, header, body, status, helpView())
}

func main() {
	var configFile string
	flag.StringVar(&configFile, "config", "", "config path")
	flag.Parse()

	// the alternate screen owns stdout, so logs go to a file
	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(cfg.StorageDir, 0755); err != nil {
		fmt.Fprintln(os.Stderr, "failed to create storage dir:", err)
		os.Exit(1)
	}
	logFile, err := os.OpenFile(filepath.Join(cfg.StorageDir, "tui.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to open log file:", err)
		os.Exit(1)
	}
	defer logFile.Close()
	level := slog.LevelInfo
	if cfg.Log.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(logFile, &slog.HandlerOptions{Level: level})))

	st, err := storage.New(cfg.StorageDir)
	if err != nil {
		slog.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	gw, err := gateway.New(cfg, st, gateway.Deps{})
	if err != nil {
		slog.Error("failed to initialize gateway", "error", err)
		os.Exit(1)
	}
	defer gw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	p := tea.NewProgram(initialModel(ctx, cancel, gw), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		slog.Error("TUI error", "err", err)
		os.Exit(1)
	}
}

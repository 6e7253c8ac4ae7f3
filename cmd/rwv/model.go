package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"pkt.systems/pslog"

	"github.com/daviddao/ramwiz_viewer/internal/config"
	"github.com/daviddao/ramwiz_viewer/internal/decode"
	"github.com/daviddao/ramwiz_viewer/internal/loader"
	"github.com/daviddao/ramwiz_viewer/internal/render"
	"github.com/daviddao/ramwiz_viewer/internal/snapshot"
	"github.com/daviddao/ramwiz_viewer/internal/style"
	"github.com/daviddao/ramwiz_viewer/internal/termgpu"
	"github.com/daviddao/ramwiz_viewer/internal/trace"
	"github.com/daviddao/ramwiz_viewer/internal/view"
)

const (
	// chromeLines counts the title, info, ruler and legend lines.
	chromeLines = 4
	// fullHelpLines is the height of the expanded key help.
	fullHelpLines = 3
	// rulerTickCells is the preferred spacing of ruler ticks in cells.
	rulerTickCells = 16
	// panDivisor sets keyboard pan steps to a fraction of the canvas width.
	panDivisor = 10

	initialWidth, initialHeight = 80, 20
)

// --- Messages ---

type batchMsg struct {
	batch loader.Batch
}

type frameMsg time.Time

type configChangedMsg struct{}

type styleMsg struct {
	style *style.Table
	err   error
}

// --- Key bindings ---

type keyMap struct {
	Quit    key.Binding
	ZoomIn  key.Binding
	ZoomOut key.Binding
	Left    key.Binding
	Right   key.Binding
	Home    key.Binding
	End     key.Binding
	Fit     key.Binding
	Grid    key.Binding
	Reload  key.Binding
	Help    key.Binding
}

var keys = keyMap{
	Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	ZoomIn:  key.NewBinding(key.WithKeys("+", "="), key.WithHelp("+", "zoom in")),
	ZoomOut: key.NewBinding(key.WithKeys("-", "_"), key.WithHelp("-", "zoom out")),
	Left:    key.NewBinding(key.WithKeys("left", "h"), key.WithHelp("←/h", "pan left")),
	Right:   key.NewBinding(key.WithKeys("right", "l"), key.WithHelp("→/l", "pan right")),
	Home:    key.NewBinding(key.WithKeys("home"), key.WithHelp("home", "first event")),
	End:     key.NewBinding(key.WithKeys("end"), key.WithHelp("end", "last event")),
	Fit:     key.NewBinding(key.WithKeys("0"), key.WithHelp("0", "fit")),
	Grid:    key.NewBinding(key.WithKeys("g"), key.WithHelp("g", "grid")),
	Reload:  key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reload colors")),
	Help:    key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.ZoomIn, k.ZoomOut, k.Left, k.Right, k.Fit, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.ZoomIn, k.ZoomOut, k.Fit},
		{k.Left, k.Right, k.Home},
		{k.End, k.Grid, k.Reload},
		{k.Help, k.Quit},
	}
}

// --- Model ---

type uiModel struct {
	ctx    context.Context
	log    pslog.Logger
	file   *trace.File
	stream *loader.Session
	frames *render.Session
	canvas *termgpu.Device
	source config.Source
	pub    *snapshot.Publisher
	view   *view.State

	names     []string
	style     *style.Table
	schema    decode.Schema
	lanes     int
	fps       int
	threshold float64
	grid      bool

	width    int
	height   int
	dragging bool
	dragX    int

	stats    render.Stats
	status   string
	fetching bool

	help     help.Model
	showHelp bool
}

// newModel opens tracePath and starts a stream session over it. The model
// owns everything it opens; release it with close.
func newModel(ctx context.Context, cfg config.Config, tracePath string, src config.Source, opts viewOptions) (uiModel, error) {
	logger := pslog.Ctx(ctx)

	cc, err := src.LoadCommandConfig()
	if err != nil {
		logger.With("err", err).Warn("command config unreadable, using defaults")
	}
	st, err := cc.Style()
	if err != nil {
		logger.With("err", err).Warn("command config has invalid entries")
	}
	ml, err := src.LoadMemoryLayout()
	if err != nil {
		ml = nil
	}
	layout := ml.Layout()
	schema := cfg.WireSchema()

	f, err := trace.Open(tracePath, trace.Options{Schema: schema, Layout: layout, Style: st})
	if err != nil {
		return uiModel{}, err
	}
	names, err := f.Dictionary(ctx)
	if err != nil {
		logger.With("err", err).Warn("trace dictionary unreadable")
	}
	from, to, err := entryRange(ctx, f, opts)
	if err != nil {
		f.Close()
		return uiModel{}, err
	}
	hdr, err := f.Header(ctx)
	if err != nil {
		f.Close()
		return uiModel{}, err
	}

	v := view.New()
	v.ZoomFactor = cfg.View.ZoomFactor
	stream, err := loader.Open(ctx, f, &v, loader.Options{
		Schema:    schema,
		BatchSize: cfg.Loader.BatchSize,
		Factors:   cfg.LOD.Factors,
		From:      from,
		To:        to,
	})
	if err != nil {
		f.Close()
		return uiModel{}, err
	}
	frames, err := render.NewSession(func() (render.Device, error) {
		return termgpu.New(initialWidth, initialHeight)
	}, stream.Store(), st)
	if err != nil {
		stream.Close()
		return uiModel{}, err
	}

	h := help.New()
	return uiModel{
		ctx:       ctx,
		log:       logger,
		file:      f,
		stream:    stream,
		frames:    frames,
		canvas:    frames.Device().(*termgpu.Device),
		source:    src,
		pub:       &snapshot.Publisher{},
		view:      &v,
		names:     names,
		style:     st,
		schema:    schema,
		lanes:     laneCount(schema, layout, hdr),
		fps:       cfg.Render.FPS,
		threshold: cfg.LOD.Threshold,
		grid:      cfg.Render.Grid,
		help:      h,
	}, nil
}

// entryRange resolves the --from/--to clock bounds to entry indices.
func entryRange(ctx context.Context, f *trace.File, opts viewOptions) (from, to uint64, err error) {
	if opts.From > 0 {
		if from, err = f.EntryIndexByTime(ctx, opts.From); err != nil {
			return 0, 0, fmt.Errorf("resolve --from: %w", err)
		}
	}
	if opts.To > 0 {
		if to, err = f.EntryIndexByTime(ctx, opts.To); err != nil {
			return 0, 0, fmt.Errorf("resolve --to: %w", err)
		}
		if to <= from {
			return 0, 0, fmt.Errorf("--from %v --to %v selects no entries", opts.From, opts.To)
		}
	}
	return from, to, nil
}

// laneCount is the number of timeline rows: one per bank for the wide schema
// with a memory layout, otherwise one per command.
func laneCount(schema decode.Schema, layout trace.Layout, hdr *trace.Header) int {
	if schema == decode.Wide && layout.Lanes() > 0 {
		return layout.Lanes()
	}
	if hdr == nil || hdr.NumCommands == 0 {
		return 1
	}
	return int(hdr.NumCommands)
}

func (m uiModel) close() {
	m.frames.Close()
	if err := m.stream.Close(); err != nil {
		m.log.With("err", err).Warn("close stream")
	}
}

func (m uiModel) Init() tea.Cmd {
	return m.frameTick()
}

func (m uiModel) frameTick() tea.Cmd {
	interval := time.Second / time.Duration(max(m.fps, 1))
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return frameMsg(t)
	})
}

// fetchNext reads the next batch off the UI goroutine. Update issues it at
// most once per frame, so loading yields a frame between batches.
func (m uiModel) fetchNext() tea.Cmd {
	req, ok := m.stream.Next()
	if !ok {
		return nil
	}
	s, ctx := m.stream, m.ctx
	return func() tea.Msg {
		return batchMsg{batch: s.Fetch(ctx, req)}
	}
}

func (m uiModel) reloadConfig() tea.Cmd {
	src := m.source
	return func() tea.Msg {
		cc, err := src.LoadCommandConfig()
		if err != nil {
			return styleMsg{err: err}
		}
		st, err := cc.Style()
		return styleMsg{style: st, err: err}
	}
}

func (m uiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.stream.Cancel()
			return m, tea.Quit

		case key.Matches(msg, keys.ZoomIn):
			m.view.Zoom(0.5, -1)

		case key.Matches(msg, keys.ZoomOut):
			m.view.Zoom(0.5, 1)

		case key.Matches(msg, keys.Left):
			w := m.canvasWidth()
			m.view.Pan(float64(max(w/panDivisor, 1)), float64(w))

		case key.Matches(msg, keys.Right):
			w := m.canvasWidth()
			m.view.Pan(-float64(max(w/panDivisor, 1)), float64(w))

		case key.Matches(msg, keys.Home):
			m.view.Start = m.view.ClampStart(math.Inf(-1))

		case key.Matches(msg, keys.End):
			m.view.Start = m.view.ClampStart(math.Inf(1))

		case key.Matches(msg, keys.Fit):
			m.view.Fit()

		case key.Matches(msg, keys.Grid):
			m.grid = !m.grid

		case key.Matches(msg, keys.Reload):
			return m, m.reloadConfig()

		case key.Matches(msg, keys.Help):
			m.showHelp = !m.showHelp
			m.help.ShowAll = m.showHelp
			m.resizeCanvas()
		}

	case tea.MouseMsg:
		m = m.handleMouse(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.resizeCanvas()

	case batchMsg:
		m.fetching = false
		if err := m.stream.Apply(msg.batch); err != nil && !errors.Is(err, loader.ErrStale) {
			m.status = "stream stopped: " + err.Error()
		}

	case frameMsg:
		rows := render.LayoutRows(m.lanes, 0, float64(m.canvasHeight()))
		m.stats = m.frames.Frame(time.Time(msg), *m.view, rows, render.FrameOptions{Grid: m.grid, Threshold: m.threshold})
		f := snapshot.Build(m.stream, m.file.Path(), m.names, *m.view, m.stats)
		f.Origin = m.file.Origin()
		m.pub.Publish(f)

		cmds := []tea.Cmd{m.frameTick()}
		if !m.fetching {
			if fetch := m.fetchNext(); fetch != nil {
				m.fetching = true
				cmds = append(cmds, fetch)
			}
		}
		return m, tea.Batch(cmds...)

	case configChangedMsg:
		return m, m.reloadConfig()

	case styleMsg:
		if msg.style != nil {
			m.style = msg.style
			m.file.SetStyle(msg.style)
			if err := m.frames.SetStyle(msg.style); err != nil {
				m.log.With("err", err).Error("style upload failed")
			}
		}
		if msg.err != nil {
			m.log.With("err", msg.err).Warn("command config reload")
			m.status = "config: " + msg.err.Error()
		} else {
			m.log.Info("command config reloaded")
			m.status = "colors reloaded"
		}
	}

	return m, nil
}

func (m uiModel) handleMouse(msg tea.MouseMsg) uiModel {
	w := m.canvasWidth()
	frac := float64(msg.X) / float64(max(w, 1))
	switch msg.Action {
	case tea.MouseActionPress:
		switch msg.Button {
		case tea.MouseButtonWheelUp:
			m.view.Zoom(frac, -1)
		case tea.MouseButtonWheelDown:
			m.view.Zoom(frac, 1)
		case tea.MouseButtonLeft:
			m.dragging = true
			m.dragX = msg.X
		}
	case tea.MouseActionMotion:
		if m.dragging {
			m.view.Pan(float64(msg.X-m.dragX), float64(w))
			m.dragX = msg.X
		}
	case tea.MouseActionRelease:
		m.dragging = false
	}
	return m
}

func (m uiModel) footerLines() int {
	if m.showHelp {
		return fullHelpLines
	}
	return 1
}

func (m uiModel) canvasWidth() int {
	w, _ := m.canvas.Size()
	return w
}

func (m uiModel) canvasHeight() int {
	_, h := m.canvas.Size()
	return h
}

// resizeCanvas fits the canvas between the chrome lines.
func (m uiModel) resizeCanvas() {
	if m.width == 0 {
		return
	}
	m.canvas.Resize(m.width, max(m.height-chromeLines-m.footerLines(), 1))
}

// --- Styles ---

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED")).
			Background(lipgloss.Color("#1E1E2E")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#89B4FA"))

	doneStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#A6E3A1"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAB387"))

	errStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F38BA8")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6C7086"))

	rulerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F9E2AF"))

	statusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#CDD6F4")).
			Background(lipgloss.Color("#1E1E2E"))
)

// --- View rendering ---

func (m uiModel) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(m.renderTitleBar())
	b.WriteRune('\n')
	b.WriteString(m.renderInfoBar())
	b.WriteRune('\n')
	b.WriteString(m.renderRuler())
	b.WriteRune('\n')
	b.WriteString(m.canvas.Render())
	b.WriteRune('\n')
	b.WriteString(m.renderLegend())
	b.WriteRune('\n')

	if m.showHelp {
		b.WriteString(m.help.View(keys))
	} else {
		b.WriteString(m.renderStatusBar())
	}

	// Truncate each line to terminal width so content doesn't wrap
	// on resize.
	return truncateLines(b.String(), m.width)
}

func (m uiModel) renderTitleBar() string {
	title := titleStyle.Render("ramwiz viewer")
	info := dimStyle.Render(fmt.Sprintf("%s | %s | %d lanes", filepath.Base(m.file.Path()), m.schema, m.lanes))
	gap := strings.Repeat(" ", max(0, m.width-lipgloss.Width(title)-lipgloss.Width(info)-1))
	return title + gap + info
}

func (m uiModel) renderInfoBar() string {
	st := m.stats
	parts := []string{
		headerStyle.Render(fmt.Sprintf("%5.1f fps", st.FPS)),
		fmt.Sprintf("%s/%s events %3.0f%%", formatCount(st.EventCount), formatCount(st.TotalEvents), 100*st.Progress),
		fmt.Sprintf("LOD %d x%d", st.CurrentLOD, max(st.Factor, 1)),
		fmt.Sprintf("%s drawn", formatCount(st.InstancesDrawn)),
		fmt.Sprintf("p95 %s", st.FrameTimeP95.Round(time.Millisecond)),
	}
	if st.LastError != "" {
		parts = append(parts, errStyle.Render(st.LastError))
	}
	return " " + strings.Join(parts, dimStyle.Render(" | "))
}

// renderRuler labels ticks across the canvas width.
func (m uiModel) renderRuler() string {
	w := m.canvasWidth()
	line := []rune(strings.Repeat(" ", w))
	free := 0
	for _, t := range m.view.Ticks(float64(w), rulerTickCells) {
		x := int(math.Round((t - m.view.Start) / m.view.Duration * float64(w)))
		label := []rune("|" + formatClock(t))
		if x < free || x+len(label) > w {
			continue
		}
		copy(line[x:], label)
		free = x + len(label) + 1
	}
	return rulerStyle.Render(string(line))
}

func (m uiModel) renderLegend() string {
	var parts []string
	for i, name := range m.names {
		swatch := lipgloss.NewStyle().Foreground(lipgloss.Color(m.style[i].Color.Hex())).Render("■")
		parts = append(parts, swatch+" "+name)
	}
	if len(parts) == 0 {
		return dimStyle.Render(" no command names")
	}
	return " " + strings.Join(parts, "  ")
}

func (m uiModel) renderStatusBar() string {
	right := streamStatus(m.stream.State()) + " "
	left := " " + m.status
	if m.status == "" {
		// keep the stream state visible; help truncates with an ellipsis
		h := m.help
		h.Width = max(m.width-lipgloss.Width(right)-2, 1)
		left = " " + h.View(keys)
	}
	gap := strings.Repeat(" ", max(0, m.width-lipgloss.Width(left)-lipgloss.Width(right)))
	return statusBarStyle.Render(left + gap + right)
}

// streamStatus summarises the loader state for the status bar.
func streamStatus(s loader.State) string {
	switch {
	case s.Err != nil:
		return errStyle.Render("error after " + formatCount(s.Loaded))
	case s.Cancelled:
		return warnStyle.Render("cancelled")
	case s.Truncated:
		return warnStyle.Render("truncated at " + formatCount(s.Loaded))
	case s.Done:
		return doneStyle.Render("complete")
	}
	return fmt.Sprintf("streaming %3.0f%%", 100*s.Progress)
}

// --- Helpers ---

// truncateLines truncates each line in content to at most width visible
// characters, preserving ANSI escape codes. This prevents terminal line
// wrapping when the window is resized narrower.
func truncateLines(content string, width int) string {
	if width <= 0 {
		return content
	}
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		if lipgloss.Width(line) > width {
			lines[i] = ansi.Truncate(line, width, "")
		}
	}
	return strings.Join(lines, "\n")
}

func formatCount(n int) string {
	switch {
	case n >= 1_000_000_000:
		return fmt.Sprintf("%.1fG", float64(n)/1e9)
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1e6)
	case n >= 10_000:
		return fmt.Sprintf("%.1fk", float64(n)/1e3)
	}
	return strconv.Itoa(n)
}

// formatClock renders a ruler time in clocks with an SI suffix.
func formatClock(t float64) string {
	a := math.Abs(t)
	switch {
	case a >= 1e9:
		return strconv.FormatFloat(t/1e9, 'g', 4, 64) + "G"
	case a >= 1e6:
		return strconv.FormatFloat(t/1e6, 'g', 4, 64) + "M"
	case a >= 1e4:
		return strconv.FormatFloat(t/1e3, 'g', 4, 64) + "k"
	}
	return strconv.FormatFloat(t, 'g', 4, 64)
}

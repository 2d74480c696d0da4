package monitor

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/stockly-app/stockly/internal/db"
	stocksync "github.com/stockly-app/stockly/internal/sync"
)

// Panel represents which panel is active
type Panel int

const (
	PanelQueue Panel = iota
	PanelHistory
	panelCount
)

// Syncer runs a session on demand. *sync.Engine satisfies it.
type Syncer interface {
	SyncAll(ctx context.Context) (*stocksync.SyncResult, error)
	Status() stocksync.Status
}

// Model is the main Bubble Tea model for the queue monitor
type Model struct {
	DB     *db.DB
	Engine Syncer

	// Window dimensions
	Width  int
	Height int

	Data RefreshDataMsg

	// UI state
	ActivePanel  Panel
	ScrollOffset map[Panel]int
	ShowHelp     bool
	Syncing      bool
	LastResult   *stocksync.SyncResult
	Err          error

	RefreshInterval time.Duration

	keys    keyMap
	help    help.Model
	spinner spinner.Model
}

// MinWidth is the minimum terminal width for proper display
const MinWidth = 40

// MinHeight is the minimum terminal height for proper display
const MinHeight = 15

// TickMsg triggers a data refresh
type TickMsg time.Time

// SyncDoneMsg carries the outcome of a session started from the monitor
type SyncDoneMsg struct {
	Result *stocksync.SyncResult
	Err    error
}

type keyMap struct {
	Quit     key.Binding
	Next     key.Binding
	Prev     key.Binding
	Down     key.Binding
	Up       key.Binding
	Refresh  key.Binding
	Sync     key.Binding
	ShowHelp key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Sync, k.Refresh, k.Next, k.ShowHelp, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Next, k.Prev},
		{k.Sync, k.Refresh, k.ShowHelp, k.Quit},
	}
}

func defaultKeys() keyMap {
	return keyMap{
		Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
		Next:     key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "next panel")),
		Prev:     key.NewBinding(key.WithKeys("shift+tab"), key.WithHelp("shift+tab", "prev panel")),
		Down:     key.NewBinding(key.WithKeys("j", "down"), key.WithHelp("j/↓", "scroll down")),
		Up:       key.NewBinding(key.WithKeys("k", "up"), key.WithHelp("k/↑", "scroll up")),
		Refresh:  key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
		Sync:     key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "sync now")),
		ShowHelp: key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
	}
}

// NewModel creates a new monitor model. engine may be nil for a read-only view.
func NewModel(database *db.DB, engine Syncer, interval time.Duration) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle
	return Model{
		DB:              database,
		Engine:          engine,
		RefreshInterval: interval,
		ScrollOffset:    make(map[Panel]int),
		ActivePanel:     PanelQueue,
		keys:            defaultKeys(),
		help:            help.New(),
		spinner:         sp,
	}
}

// Init implements tea.Model
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetchData(), m.scheduleTick(), m.spinner.Tick)
}

// Update implements tea.Model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case TickMsg:
		return m, tea.Batch(m.fetchData(), m.scheduleTick())

	case RefreshDataMsg:
		m.Data = msg
		m.Err = msg.Err
		return m, nil

	case SyncDoneMsg:
		m.Syncing = false
		m.LastResult = msg.Result
		m.Err = msg.Err
		return m, m.fetchData()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// handleKey processes key input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Next):
		m.ActivePanel = (m.ActivePanel + 1) % panelCount

	case key.Matches(msg, m.keys.Prev):
		m.ActivePanel = (m.ActivePanel + panelCount - 1) % panelCount

	case key.Matches(msg, m.keys.Down):
		if m.ScrollOffset[m.ActivePanel] < m.maxScroll(m.ActivePanel) {
			m.ScrollOffset[m.ActivePanel]++
		}

	case key.Matches(msg, m.keys.Up):
		if m.ScrollOffset[m.ActivePanel] > 0 {
			m.ScrollOffset[m.ActivePanel]--
		}

	case key.Matches(msg, m.keys.Refresh):
		return m, m.fetchData()

	case key.Matches(msg, m.keys.Sync):
		if m.Engine == nil || m.Syncing {
			return m, nil
		}
		m.Syncing = true
		return m, m.runSync()

	case key.Matches(msg, m.keys.ShowHelp):
		m.ShowHelp = !m.ShowHelp
	}
	return m, nil
}

func (m Model) maxScroll(p Panel) int {
	n := 0
	switch p {
	case PanelQueue:
		n = len(m.Data.Outstanding)
	case PanelHistory:
		n = len(m.Data.History)
	}
	if n == 0 {
		return 0
	}
	return n - 1
}

// View implements tea.Model
func (m Model) View() string {
	return m.renderView()
}

// scheduleTick returns a command that sends a TickMsg after the refresh interval
func (m Model) scheduleTick() tea.Cmd {
	return tea.Tick(m.RefreshInterval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// fetchData returns a command that fetches all data and sends a RefreshDataMsg
func (m Model) fetchData() tea.Cmd {
	database, engine := m.DB, m.Engine
	return func() tea.Msg {
		return FetchData(database, engine)
	}
}

func (m Model) runSync() tea.Cmd {
	engine := m.Engine
	return func() tea.Msg {
		res, err := engine.SyncAll(context.Background())
		return SyncDoneMsg{Result: res, Err: err}
	}
}

package cli

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/matzehuels/aipgraph/pkg/nodeid"
	"github.com/matzehuels/aipgraph/pkg/query"
	"github.com/matzehuels/aipgraph/pkg/result"
)

var (
	listSelectedStyle = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	listNormalStyle   = lipgloss.NewStyle().Foreground(colorWhite)
	listDimStyle      = lipgloss.NewStyle().Foreground(colorDim)
)

// =============================================================================
// TraceModel - Interactive trace browser
// =============================================================================

// page is one browsable id list: a stage result or the full paths.
type page struct {
	title  string
	res    *result.Result
	cached bool
	paths  bool
}

// TraceModel is the bubbletea model that steps through the levels of one
// query, and through its full paths when they were reconstructed.
type TraceModel struct {
	pages    []page
	Page     int
	Cursor   int
	Offset   int
	Height   int
	Selected string
}

// NewTraceModel creates a browser over t. paths may be nil.
func NewTraceModel(t *query.Trace, paths *result.Result) TraceModel {
	m := TraceModel{Height: 15}
	for i, r := range t.Levels {
		m.pages = append(m.pages, page{
			title:  fmt.Sprintf("stage %d", i),
			res:    r,
			cached: i < t.CachedLevels,
		})
	}
	if paths != nil {
		m.pages = append(m.pages, page{title: "full paths", res: paths, paths: true})
	}
	return m
}

func (m TraceModel) ids() []string {
	if len(m.pages) == 0 || m.pages[m.Page].res == nil {
		return nil
	}
	return m.pages[m.Page].res.IDs
}

func (m TraceModel) Init() tea.Cmd {
	return nil
}

func (m TraceModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "left", "h", "shift+tab":
			if m.Page > 0 {
				m.Page--
				m.Cursor, m.Offset = 0, 0
			}
		case "right", "l", "tab":
			if m.Page < len(m.pages)-1 {
				m.Page++
				m.Cursor, m.Offset = 0, 0
			}
		case "up", "k":
			if m.Cursor > 0 {
				m.Cursor--
				if m.Cursor < m.Offset {
					m.Offset = m.Cursor
				}
			}
		case "down", "j":
			if m.Cursor < len(m.ids())-1 {
				m.Cursor++
				if m.Cursor >= m.Offset+m.Height {
					m.Offset = m.Cursor - m.Height + 1
				}
			}
		case "enter":
			ids := m.ids()
			if len(ids) == 0 {
				return m, nil
			}
			m.Selected = nodeid.Last(ids[m.Cursor])
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		// Room for the stage table, the help line and the footer.
		m.Height = max(msg.Height-len(m.pages)-10, 5)
	}
	return m, nil
}

func (m TraceModel) View() string {
	var b strings.Builder

	b.WriteString(StyleTitle.Render("Query Trace"))
	b.WriteString("\n")
	b.WriteString(listDimStyle.Render("←/→ stage  ↑/↓ navigate  ⏎ select  q quit"))
	b.WriteString("\n\n")

	if len(m.pages) == 0 {
		b.WriteString(listDimStyle.Render("no stages ran"))
		b.WriteString("\n")
		return b.String()
	}

	rows := make([][]string, 0, len(m.pages))
	for i, p := range m.pages {
		cursor := "  "
		if i == m.Page {
			cursor = "▸ "
		}
		source := ""
		if p.cached {
			source = "cache"
		}
		rows = append(rows, []string{cursor, p.title, levelLabel(p.res.MinLevel, p.res.MaxLevel),
			fmt.Sprint(p.res.Len()), fmt.Sprint(p.res.SubNodeCount), source})
	}
	headerStyle := lipgloss.NewStyle().Foreground(colorGray).Bold(true)
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorDim)).
		Headers("", "Stage", "Levels", "IDs", "Children", "Source").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == -1:
				return headerStyle
			case row == m.Page:
				return lipgloss.NewStyle().Foreground(colorCyan).Bold(true)
			case col == 5:
				return styleCached
			}
			return listDimStyle
		})
	b.WriteString(t.Render())
	b.WriteString("\n\n")

	ids := m.ids()
	end := min(m.Offset+m.Height, len(ids))
	for i := m.Offset; i < end; i++ {
		line := ids[i]
		if m.pages[m.Page].paths {
			line = strings.Join(nodeid.Split(ids[i]), " › ")
		}
		if i == m.Cursor {
			b.WriteString(listSelectedStyle.Render("▸ " + line))
		} else {
			b.WriteString(listNormalStyle.Render("  " + line))
		}
		b.WriteString("\n")
	}
	if len(ids) == 0 {
		b.WriteString(listDimStyle.Render("  (empty)"))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(listDimStyle.Render(fmt.Sprintf("  [%d/%d]", min(m.Cursor+1, len(ids)), len(ids))))
	return b.String()
}

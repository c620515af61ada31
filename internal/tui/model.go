package tui

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"animerec/internal/domain"
)

// RecommendPort is the TUI-facing subset of the recommendation pipeline.
type RecommendPort interface {
	Recommend(ctx context.Context, query string) ([]domain.Recommendation, error)
}

// resultsMsg carries a finished search back into Update.
type resultsMsg struct {
	query   string
	recs    []domain.Recommendation
	err     error
	elapsed time.Duration
}

// Model is the Bubble Tea model for the TUI application.
type Model struct {
	service   RecommendPort
	input     textinput.Model
	viewport  viewport.Model
	results   []domain.Recommendation
	subtitle  string
	status    string
	cursor    int
	ready     bool
	searching bool
	lastQuery string
}

// New creates a new TUI model instance.
func New(service RecommendPort, subtitle string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "e.g. 'action' or 'apple', then Enter"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return Model{service: service, input: ti, viewport: vp, subtitle: subtitle, status: "What are you interested in?"}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key and window events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		// account for frames around result and query boxes
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 // header+subtitle, status, spacer
		vh := msg.Height - reserved
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, vh-rh)
		m.viewport.SetContent(m.renderCurrentResult())
		return m, nil
	case resultsMsg:
		m.searching = false
		switch {
		case msg.err != nil:
			m.status = "Service temporarily unavailable: " + msg.err.Error()
			m.results = nil
		case len(msg.recs) == 0:
			m.status = "No matches found. Try different keywords."
			m.results = nil
		default:
			m.status = fmt.Sprintf("Found %d recommendations in %.1fs", len(msg.recs), msg.elapsed.Seconds())
			m.results = msg.recs
			m.lastQuery = msg.query
		}
		m.cursor = 0
		m.viewport.SetContent(m.renderCurrentResult())
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			if m.searching {
				return m, nil
			}
			q := strings.TrimSpace(m.input.Value())
			if utf8.RuneCountInString(q) < 2 {
				m.status = "Please enter at least 2 characters"
				return m, nil
			}
			m.searching = true
			m.status = "Finding the perfect matches..."
			return m, m.search(q)
		case "down":
			if len(m.results) > 0 {
				m.cursor = (m.cursor + 1) % len(m.results)
				m.viewport.SetContent(m.renderCurrentResult())
				return m, nil
			}
		case "up":
			if len(m.results) > 0 {
				m.cursor = (m.cursor - 1 + len(m.results)) % len(m.results)
				m.viewport.SetContent(m.renderCurrentResult())
				return m, nil
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) search(q string) tea.Cmd {
	svc := m.service
	return func() tea.Msg {
		start := time.Now()
		recs, err := svc.Recommend(context.Background(), q)
		return resultsMsg{query: q, recs: recs, err: err, elapsed: time.Since(start)}
	}
}

// View renders the TUI layout and current result.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("AnimeFinder Pro")
	subtitle := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.subtitle)
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	results := resultBoxStyle.Render(m.viewport.View())
	return header + "\n" + subtitle + "\n" + results + "\n" + input + "\n" + status
}

func (m Model) renderCurrentResult() string {
	if len(m.results) == 0 {
		return "No recommendations yet."
	}
	r := m.results[m.cursor]
	var b strings.Builder
	fmt.Fprintf(&b, "#%d/%d  %s\n", m.cursor+1, len(m.results), titleStyle.Render(r.Anime))

	var meta []string
	if r.Year != "" {
		meta = append(meta, r.Year)
	}
	if len(r.Genres) > 0 {
		meta = append(meta, strings.Join(r.Genres, ", "))
	}
	meta = append(meta, fmt.Sprintf("%d/100 %s", r.MatchScore, scoreBar(r.MatchScore, 20)))
	b.WriteString(metaStyle.Render(strings.Join(meta, "  |  ")))
	b.WriteString("\n")
	if r.MatchScore < 75 {
		b.WriteString(warnStyle.Render("Conceptual match - not directly related"))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(highlightBestSentence(r.Description, m.lastQuery))
	why := strings.TrimSpace(r.Why)
	if why == "" {
		why = "Matches your search criteria"
	}
	b.WriteString("\n\nWhy recommended? ")
	b.WriteString(why)
	return b.String()
}

// scoreBar draws score out of 100 as a fixed-width bar.
func scoreBar(score, width int) string {
	filled := score * width / 100
	filled = min(max(filled, 0), width)
	return "[" + strings.Repeat("#", filled) + strings.Repeat("-", width-filled) + "]"
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	metaStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	warnStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	unicodeWordRe  = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
	sentenceRe     = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`)
)

func highlightBestSentence(text, query string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	sentences := sentenceRe.FindAllString(text, -1)
	if len(sentences) == 0 {
		sentences = []string{strings.TrimSpace(text)}
	}
	qTokens := toTokenSet(query)
	if len(qTokens) == 0 {
		return strings.Join(sentences, " ")
	}
	bestIdx, bestScore := 0, 0
	for i, s := range sentences {
		if score := tokenOverlapScore(qTokens, s); score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	for i := range sentences {
		sent := strings.TrimSpace(sentences[i])
		if i == bestIdx && bestScore > 0 {
			sentences[i] = highlightStyle.Render(sent)
		} else {
			sentences[i] = sent
		}
	}
	return strings.Join(sentences, " ")
}

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func tokenOverlapScore(queryTokens map[string]struct{}, sentence string) int {
	score := 0
	tokens := unicodeWordRe.FindAllString(strings.ToLower(sentence), -1)
	seen := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}

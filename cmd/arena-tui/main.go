package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/go-resty/resty/v2"
	"github.com/joho/godotenv"
)

var (
	// 样式定义
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("57")).
			Padding(0, 1)
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	upStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("46")).Bold(true)
	downStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	tieStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("226")).Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("57")).
			Padding(0, 1)
)

// clockResponse /api/clock 响应
type clockResponse struct {
	Round            int64  `json:"round"`
	Phase            string `json:"phase"`
	SecondsRemaining int64  `json:"seconds_remaining"`
}

type sampleResponse struct {
	Samples []struct {
		Timestamp time.Time `json:"timestamp"`
		Price     float64   `json:"price"`
	} `json:"samples"`
}

type roadmapResponse struct {
	Rows    int `json:"rows"`
	Columns [][]struct {
		Round  int64  `json:"round"`
		Result string `json:"result"`
		Row    int    `json:"row"`
	} `json:"columns"`
}

type agentsResponse struct {
	Agents []struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		StyleBias string `json:"style_bias"`
		Tier      string `json:"tier"`
		Wins      int    `json:"wins"`
		Losses    int    `json:"losses"`
		Streak    int    `json:"streak"`
	} `json:"agents"`
}

type statsResponse struct {
	Up       int     `json:"up"`
	Down     int     `json:"down"`
	Tie      int     `json:"tie"`
	UpRate   float64 `json:"up_rate"`
	DownRate float64 `json:"down_rate"`
}

// snapshot 一次轮询采到的全部数据
type snapshot struct {
	clock   clockResponse
	price   float64
	priceAt time.Time
	roadmap roadmapResponse
	agents  agentsResponse
	stats   statsResponse
	err     error
}

type tickMsg time.Time

type model struct {
	client *resty.Client
	snap   snapshot
	width  int
}

func newModel(baseURL string) model {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(3 * time.Second)
	return model{client: client}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.poll, tick())
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// poll 拉取服务端状态（一次性命令，结果作为消息回流）
func (m model) poll() tea.Msg {
	var snap snapshot

	if _, err := m.client.R().SetResult(&snap.clock).Get("/api/clock"); err != nil {
		snap.err = err
		return snap
	}
	var samples sampleResponse
	if _, err := m.client.R().SetResult(&samples).Get("/api/price/samples"); err == nil {
		if n := len(samples.Samples); n > 0 {
			snap.price = samples.Samples[n-1].Price
			snap.priceAt = samples.Samples[n-1].Timestamp
		}
	}
	_, _ = m.client.R().SetResult(&snap.roadmap).Get("/api/roadmap")
	_, _ = m.client.R().SetResult(&snap.agents).Get("/api/agents")
	_, _ = m.client.R().SetResult(&snap.stats).Get("/api/stats")
	return snap
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tickMsg:
		return m, tea.Batch(m.poll, tick())
	case snapshot:
		m.snap = msg
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render(" UP/DOWN ARENA "))
	b.WriteString("\n\n")

	if m.snap.err != nil {
		b.WriteString(downStyle.Render(fmt.Sprintf("无法连接服务端: %v", m.snap.err)))
		b.WriteString("\n\n" + dimStyle.Render("q 退出"))
		return b.String()
	}

	// 回合时钟
	phase := m.snap.clock.Phase
	phaseStyled := phase
	switch phase {
	case "betting":
		phaseStyled = upStyle.Render("BETTING")
	case "locking":
		phaseStyled = tieStyle.Render("LOCKING")
	case "live":
		phaseStyled = downStyle.Render("LIVE")
	}
	b.WriteString(borderStyle.Render(fmt.Sprintf(
		"%s #%d   %s %s   %s %ds   %s %.2f",
		labelStyle.Render("回合"), m.snap.clock.Round,
		labelStyle.Render("阶段"), phaseStyled,
		labelStyle.Render("剩余"), m.snap.clock.SecondsRemaining,
		labelStyle.Render("现价"), m.snap.price,
	)))
	b.WriteString("\n\n")

	// 路子图
	b.WriteString(labelStyle.Render("路子图") + "\n")
	b.WriteString(renderRoadmap(m.snap.roadmap))
	b.WriteString("\n")

	// 统计
	total := m.snap.stats.Up + m.snap.stats.Down
	if total > 0 {
		b.WriteString(fmt.Sprintf("%s %s%.0f%%  %s%.0f%%  %s%d\n\n",
			labelStyle.Render("胜率"),
			upStyle.Render("UP "), m.snap.stats.UpRate*100,
			downStyle.Render("DOWN "), m.snap.stats.DownRate*100,
			tieStyle.Render("TIE "), m.snap.stats.Tie,
		))
	}

	// 机器人战绩
	b.WriteString(labelStyle.Render("机器人") + "\n")
	for _, a := range m.snap.agents.Agents {
		streak := dimStyle.Render("-")
		if a.Streak > 0 {
			streak = upStyle.Render(fmt.Sprintf("W%d", a.Streak))
		} else if a.Streak < 0 {
			streak = downStyle.Render(fmt.Sprintf("L%d", -a.Streak))
		}
		b.WriteString(fmt.Sprintf("  %-8s %-12s %3dW %3dL  %s\n",
			a.Name, dimStyle.Render(a.Tier), a.Wins, a.Losses, streak))
	}

	b.WriteString("\n" + dimStyle.Render("q 退出"))
	return b.String()
}

// renderRoadmap 把路子图列渲染为字符网格
func renderRoadmap(rm roadmapResponse) string {
	rows := rm.Rows
	if rows <= 0 {
		rows = 6
	}
	cols := len(rm.Columns)
	if cols == 0 {
		return dimStyle.Render("  （暂无历史）") + "\n"
	}
	// 只展示最近 30 列
	start := 0
	if cols > 30 {
		start = cols - 30
	}

	var b strings.Builder
	for row := 0; row < rows; row++ {
		b.WriteString("  ")
		for c := start; c < cols; c++ {
			cell := " "
			for _, item := range rm.Columns[c] {
				if item.Row == row {
					switch item.Result {
					case "up":
						cell = upStyle.Render("●")
					case "down":
						cell = downStyle.Render("●")
					case "tie":
						cell = tieStyle.Render("●")
					}
					break
				}
			}
			b.WriteString(cell + " ")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func main() {
	_ = godotenv.Load()

	defaultURL := os.Getenv("ARENA_SERVER_URL")
	if defaultURL == "" {
		defaultURL = "http://127.0.0.1:8080"
	}
	var serverURL = flag.String("server", defaultURL, "arena server 地址")
	flag.Parse()

	p := tea.NewProgram(newModel(*serverURL), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI 运行失败: %v\n", err)
		os.Exit(1)
	}
}

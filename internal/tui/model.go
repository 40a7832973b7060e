package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/weibaohui/voicechef/backend/internal/domain"
	"github.com/weibaohui/voicechef/backend/internal/eventbus"
	"github.com/weibaohui/voicechef/backend/internal/service/statemachine"
	"k8s.io/klog/v2"
)

// Session 终端里可以触发的用户意图
type Session interface {
	StartListening(ctx context.Context) error
	StopListening(ctx context.Context) error
	StopSpeaking(ctx context.Context) error
	SwitchAssistant(ctx context.Context, identity domain.AssistantIdentity) error
	Close(ctx context.Context) error
	Snapshot() domain.Snapshot
}

// Keyboard 键盘输入代替麦克风：输入内容作为识别中间结果，回车作为最终结果
type Keyboard interface {
	Partial(sessionID, text string) error
	Final(sessionID, text string) error
	End(sessionID string) error
}

type sessionEventMsg eventbus.SessionEvent

type intentResultMsg struct {
	intent string
	err    error
}

const intentTimeout = 5 * time.Second

type Model struct {
	session  Session
	keyboard Keyboard
	events   <-chan eventbus.SessionEvent

	snapshot domain.Snapshot
	notice   *domain.Notice
	input    textinput.Model
	width    int
	height   int
	quitting bool
}

// NewModel events 为订阅会话事件总线得到的通道
func NewModel(session Session, keyboard Keyboard, events <-chan eventbus.SessionEvent) Model {
	ti := textinput.New()
	ti.Placeholder = "say something..."
	ti.CharLimit = 500
	ti.Prompt = "🎤 "

	return Model{
		session:  session,
		keyboard: keyboard,
		events:   events,
		snapshot: session.Snapshot(),
		input:    ti,
		width:    100,
		height:   30,
	}
}

func (m Model) Init() tea.Cmd {
	return m.waitForEvent()
}

func (m Model) waitForEvent() tea.Cmd {
	events := m.events
	if events == nil {
		return nil
	}
	return func() tea.Msg {
		event, ok := <-events
		if !ok {
			return nil
		}
		return sessionEventMsg(event)
	}
}

func (m Model) intent(name string, fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), intentTimeout)
		defer cancel()
		return intentResultMsg{intent: name, err: fn(ctx)}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case sessionEventMsg:
		m.applyEvent(eventbus.SessionEvent(msg))
		return m, m.waitForEvent()

	case intentResultMsg:
		if msg.err != nil {
			klog.V(6).Infof("终端意图被拒绝: intent=%s, error=%v", msg.intent, msg.err)
		}
		m.snapshot = m.session.Snapshot()
		m.syncInput()
		return m, nil

	case tea.KeyMsg:
		return m.updateKey(msg)
	}
	return m, nil
}

func (m *Model) applyEvent(event eventbus.SessionEvent) {
	switch event.Type {
	case eventbus.SessionEventSnapshot:
		if event.Snapshot != nil {
			m.snapshot = *event.Snapshot
			m.syncInput()
		}
	case eventbus.SessionEventNotice:
		m.notice = event.Notice
	}
}

// syncInput 只在 Listening 时接受键盘输入
func (m *Model) syncInput() {
	if m.snapshot.State == statemachine.SessionStateListening {
		m.input.Focus()
		return
	}
	m.input.Blur()
	m.input.SetValue("")
}

func (m Model) updateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "esc":
		m.notice = nil
		return m, m.intent("close", m.session.Close)

	case "ctrl+x":
		return m, m.intent("stop-speaking", m.session.StopSpeaking)

	case "tab":
		next := domain.AssistantChef
		if m.snapshot.Assistant == domain.AssistantChef {
			next = domain.AssistantCoach
		}
		return m, m.intent("switch", func(ctx context.Context) error {
			return m.session.SwitchAssistant(ctx, next)
		})

	case "enter":
		if m.snapshot.State == statemachine.SessionStateListening {
			text := m.input.Value()
			m.input.SetValue("")
			return m, m.intent("final", func(ctx context.Context) error {
				if strings.TrimSpace(text) == "" {
					return m.keyboard.End("")
				}
				return m.keyboard.Final("", text)
			})
		}
		m.notice = nil
		return m, m.intent("start", m.session.StartListening)
	}

	if !m.input.Focused() {
		return m, nil
	}
	var cmd tea.Cmd
	before := m.input.Value()
	m.input, cmd = m.input.Update(msg)
	if value := m.input.Value(); value != before {
		if err := m.keyboard.Partial("", value); err != nil {
			klog.V(6).Infof("键盘输入回填失败: %v", err)
		}
	}
	return m, cmd
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(m.snapshot.Assistant.DisplayName()))
	b.WriteString(" ")
	b.WriteString(stateStyle.Render(string(m.snapshot.State)))
	b.WriteString("\n\n")

	width := m.width - 4
	if width < 20 {
		width = 20
	}
	for _, message := range m.snapshot.Transcript {
		b.WriteString(renderMessage(message, width))
		b.WriteString("\n")
	}

	if m.snapshot.State == statemachine.SessionStateListening {
		b.WriteString(m.input.View())
		b.WriteString("\n")
	} else if m.snapshot.LiveDraft != "" {
		b.WriteString(draftStyle.Render(m.snapshot.LiveDraft))
		b.WriteString("\n")
	}

	if m.notice != nil {
		style := noticeStyle
		if m.notice.Destructive {
			style = errorNoticeStyle
		}
		b.WriteString(style.Render(fmt.Sprintf("%s: %s", m.notice.Title, m.notice.Description)))
		b.WriteString("\n")
	}

	b.WriteString(helpStyle.Render(helpText(m.snapshot.State)))
	b.WriteString("\n")
	return b.String()
}

func renderMessage(message domain.Message, width int) string {
	role := assistantRoleStyle.Render(" assistant ")
	if message.Role == domain.RoleUser {
		role = userRoleStyle.Render(" you ")
	}
	body := lipgloss.NewStyle().Width(width).Render(message.Content)
	out := role + "\n" + body
	if message.Attachment != nil {
		recipe := fmt.Sprintf("%s\n\nIngredients:\n%s\n\nInstructions:\n%s",
			message.Attachment.RecipeName, message.Attachment.Ingredients, message.Attachment.Instructions)
		out += "\n" + recipeStyle.Width(width-2).Render(recipe)
	}
	return out
}

func helpText(state statemachine.SessionState) string {
	switch state {
	case statemachine.SessionStateListening:
		return "type what you would say • enter: done • esc: cancel"
	case statemachine.SessionStateSpeaking:
		return "ctrl+x: stop speaking • esc: reset • ctrl+c: quit"
	case statemachine.SessionStateProcessing:
		return "thinking... • esc: reset • ctrl+c: quit"
	default:
		return "enter: talk • tab: switch assistant • esc: reset • ctrl+c: quit"
	}
}

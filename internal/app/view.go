package app

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jwulff/medibot/internal/recorder"
	"github.com/jwulff/medibot/internal/ui"
	"github.com/jwulff/medibot/internal/video"
)

func (m *Model) scrollToBottom() {
	m.chatScroll = m.maxChatScroll()
}

func (m Model) maxChatScroll() int {
	total := len(m.chatLines(m.chatPanelWidth()))
	visible := m.chatVisibleLines()
	if total <= visible {
		return 0
	}
	return total - visible
}

func (m Model) contentHeight() int {
	if m.height == 0 {
		return 20
	}
	// Reserve: header(1) + status(1) + dividers(2) + input(1) + error(1) + footer(1) + padding
	return max(6, m.height-8)
}

// chatVisibleLines excludes the panel header.
func (m Model) chatVisibleLines() int {
	return m.contentHeight() - 1
}

func (m Model) summaryPanelWidth() int {
	if m.width == 0 {
		return 36
	}
	return max(24, m.width*40/100)
}

func (m Model) chatPanelWidth() int {
	if m.width == 0 {
		return 60
	}
	return max(30, m.width-m.summaryPanelWidth()-3)
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	divider := ui.DividerStyle.Render(strings.Repeat("─", m.width))
	sections := []string{
		m.renderHeader(),
		m.renderStatusBar(),
		divider,
		m.renderMainContent(),
		divider,
		m.renderInput(),
	}
	if m.errorMessage != "" {
		sections = append(sections, m.renderErrorBar())
	}
	sections = append(sections, m.renderFooter())
	return strings.Join(sections, "\n")
}

func (m Model) renderHeader() string {
	title := ui.TitleStyle.Render("MEDIBOT")
	sub := ui.DimStyle.Render(" medical analysis assistant")
	voice := ui.DimStyle.Render("  [voice off]")
	if m.voice {
		voice = ui.AudioMarkerStyle.Render("  [voice on]")
	}
	return title + sub + voice
}

func (m Model) renderStatusBar() string {
	var dot string
	switch m.recState {
	case recorder.StateRecording:
		dot = ui.RecordingDotStyle.Render("● REC")
	case recorder.StateStopping:
		dot = ui.PendingStyle.Render("◌ STOPPING")
	default:
		dot = ui.IdleDotStyle.Render("○ MIC")
	}

	var activity []string
	if m.analyzing {
		activity = append(activity, ui.SpinnerStyle.Render("⟳ Analyzing"))
	}
	if m.pending {
		activity = append(activity, ui.SpinnerStyle.Render("⟳ Thinking"))
	}
	if m.transcribing {
		activity = append(activity, ui.SpinnerStyle.Render("⟳ Voice"))
	}
	if m.hasJob && m.job.Active() {
		activity = append(activity, ui.SpinnerStyle.Render("⟳ Video"))
	}

	line := dot
	if len(activity) > 0 {
		line += "  " + strings.Join(activity, "  ")
	}
	if m.statusText != "" {
		line += "  " + ui.DimStyle.Render(m.statusText)
	}
	return line
}

func (m Model) renderMainContent() string {
	leftW := m.summaryPanelWidth()
	rightW := m.chatPanelWidth()
	height := m.contentHeight()

	left := strings.Split(m.renderSummaryPanel(leftW, height), "\n")
	right := strings.Split(m.renderChatPanel(rightW, height), "\n")
	divider := ui.DividerStyle.Render("│")

	rows := make([]string, 0, height)
	for i := 0; i < height; i++ {
		l := strings.Repeat(" ", leftW)
		if i < len(left) {
			l = padRight(left[i], leftW)
		}
		r := ""
		if i < len(right) {
			r = right[i]
		}
		rows = append(rows, l+divider+r)
	}
	return strings.Join(rows, "\n")
}

func (m Model) renderSummaryPanel(width, height int) string {
	title := "SUMMARY"
	if m.summaryCached {
		title += " (cached)"
	}
	var lines []string
	if m.focus == FocusIntake {
		lines = append(lines, ui.PanelTitleActiveStyle.Render(title))
	} else {
		lines = append(lines, ui.PanelTitleStyle.Render(title))
	}

	textW := max(10, width-2)
	switch {
	case m.analyzing:
		lines = append(lines, ui.PendingStyle.Render("  Analyzing..."))
	case m.summary == "":
		lines = append(lines, ui.DimStyle.Render("  No analysis yet."))
		lines = append(lines, ui.DimStyle.Render("  Type notes, @file to attach"))
	default:
		for _, l := range wrapText(m.summary, textW) {
			lines = append(lines, " "+l)
		}
	}

	// The video section is anchored to the bottom of the panel.
	videoLines := m.videoLines(textW)
	room := height - len(videoLines) - 1
	if len(lines) > room {
		lines = append(lines[:max(1, room-1)], ui.DimStyle.Render("  …"))
	}
	for len(lines) < room {
		lines = append(lines, "")
	}
	lines = append(lines, "")
	lines = append(lines, videoLines...)
	if len(lines) > height {
		lines = lines[:height]
	}
	for i, l := range lines {
		lines[i] = truncateToWidth(l, width)
	}
	return strings.Join(lines, "\n")
}

func (m Model) videoLines(width int) []string {
	lines := []string{ui.PanelTitleStyle.Render("VIDEO")}
	if !m.deps.Settings.AI.VideoEnabled {
		return append(lines, ui.DimStyle.Render("  Disabled in settings"))
	}
	if !m.hasJob {
		return append(lines, ui.DimStyle.Render("  ctrl+g to generate"))
	}
	switch m.job.State {
	case video.StateSubmitting:
		lines = append(lines, ui.PendingStyle.Render("  Submitting request..."))
	case video.StatePolling:
		lines = append(lines, ui.PendingStyle.Render(fmt.Sprintf("  Generating (check %d)...", m.job.Attempts)))
	case video.StateReady:
		lines = append(lines, ui.SuccessStyle.Render("  Ready"))
		for _, l := range wrapText(m.job.ResultURL, width-2) {
			lines = append(lines, "  "+l)
		}
	case video.StateFailed:
		lines = append(lines, ui.ErrorTextStyle.Render("  "+m.job.ErrorMessage))
		lines = append(lines, ui.DimStyle.Render("  ctrl+g to retry"))
	}
	if m.job.Active() && m.job.OwnerSummary != m.summary {
		lines = append(lines, ui.DimStyle.Render("  (for a previous summary)"))
	}
	return lines
}

func (m Model) renderChatPanel(width, height int) string {
	var header string
	if m.focus == FocusChat {
		header = ui.PanelTitleActiveStyle.Render("CHAT")
	} else {
		header = ui.PanelTitleStyle.Render("CHAT")
	}
	lines := []string{header}

	display := m.chatLines(width)
	visible := height - 1
	if len(display) == 0 {
		lines = append(lines, "", ui.DimStyle.Render("  Ask about the analysis, or ctrl+r to speak"))
	} else {
		start := 0
		if m.chatLive {
			start = max(0, len(display)-visible)
		} else {
			start = min(m.chatScroll, max(0, len(display)-1))
		}
		end := min(len(display), start+visible)
		lines = append(lines, display[start:end]...)
	}
	return strings.Join(lines, "\n")
}

// chatLines renders every turn, wrapped to width.
func (m Model) chatLines(width int) []string {
	// Prefix: "  [HH:MM] MediBot: " is at most 20 visible chars.
	const prefixWidth = 20
	textW := max(10, width-prefixWidth-2)
	indent := strings.Repeat(" ", prefixWidth)

	var out []string
	for _, t := range m.turns {
		ts := ui.TimestampStyle.Render(t.CreatedAt.Format("[15:04]"))
		var label string
		if t.FromUser() {
			label = ui.UserLabelStyle.Render("You:")
		} else {
			label = ui.AssistantLabelStyle.Render("MediBot:")
		}
		text := t.Text
		if t.HasAudio() {
			text += " ♪"
		}
		wrapped := wrapText(text, textW)
		for i, w := range wrapped {
			if t.IsError {
				w = ui.ErrorTextStyle.Render(w)
			}
			if i == 0 {
				out = append(out, "  "+padRight(ts+" "+label, prefixWidth-2)+w)
			} else {
				out = append(out, indent+w)
			}
		}
	}
	if m.pending {
		out = append(out, "  "+ui.PendingStyle.Render("MediBot is typing..."))
	}
	return out
}

func (m Model) renderInput() string {
	var prompt, text string
	if m.focus == FocusIntake {
		prompt, text = "Patient data", m.intakeInput
	} else {
		prompt, text = "Message", m.chatInput
	}
	disabled := (m.focus == FocusChat && m.pending) || (m.focus == FocusIntake && m.analyzing)
	if disabled {
		return ui.DimStyle.Render(prompt + " > " + text)
	}
	line := ui.PromptStyle.Render(prompt+" > ") + text + "▌"
	if lipgloss.Width(line) > m.width && m.width > 0 {
		// Keep the end of long input visible.
		r := []rune(text)
		keep := max(1, m.width-lipgloss.Width(prompt)-5)
		if len(r) > keep {
			text = "…" + string(r[len(r)-keep:])
		}
		line = ui.PromptStyle.Render(prompt+" > ") + text + "▌"
	}
	return line
}

func (m Model) renderErrorBar() string {
	return ui.ErrorStyle.Render("Error: ") + ui.ErrorTextStyle.Render(m.errorMessage)
}

func (m Model) renderFooter() string {
	key := func(k, desc string) string {
		return ui.FooterKeyStyle.Render(k) + ui.FooterDescStyle.Render(" "+desc)
	}
	parts := []string{key("Enter", "Send"), key("Tab", "Focus")}
	if m.recState == recorder.StateRecording {
		parts = append(parts, key("^R", "Stop+Send"))
	} else {
		parts = append(parts, key("^R", "Record"))
	}
	if m.hasJob && m.job.State == video.StateFailed {
		parts = append(parts, key("^G", "Retry video"))
	} else {
		parts = append(parts, key("^G", "Video"))
	}
	if m.hasJob && m.job.Active() {
		parts = append(parts, key("^X", "Cancel video"))
	}
	parts = append(parts, key("^P", "Replay"), key("^V", "Voice"), key("^N", "New"), key("Esc", "Quit"))
	return strings.Join(parts, "  ")
}

// Helpers

func padRight(s string, width int) string {
	visible := lipgloss.Width(s)
	if visible >= width {
		return s
	}
	return s + strings.Repeat(" ", width-visible)
}

func truncateToWidth(s string, width int) string {
	if lipgloss.Width(s) <= width {
		return s
	}
	runes := []rune(s)
	if len(runes) > width-1 {
		return string(runes[:width-1]) + "…"
	}
	return s
}

func wrapText(text string, width int) []string {
	if width <= 0 {
		return []string{text}
	}

	var lines []string
	for _, paragraph := range strings.Split(text, "\n") {
		var current string
		for _, word := range strings.Fields(paragraph) {
			switch {
			case current == "":
				current = word
			case len(current)+1+len(word) <= width:
				current += " " + word
			default:
				lines = append(lines, current)
				current = word
			}
		}
		lines = append(lines, current)
	}
	if len(lines) == 0 {
		return []string{""}
	}
	return lines
}

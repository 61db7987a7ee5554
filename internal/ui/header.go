package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Param is one labelled value shown in a header or result box.
type Param struct {
	Key   string
	Value string
}

// Header represents a command header with title, command, and parameters.
// Used at the start of a load to show what is about to be sent where.
type Header struct {
	Title   string  // e.g., "RAM IMAGE LOAD"
	Command string  // e.g., "bamload socketcan can0 500000 app.bin"
	Params  []Param // Rendered in order
	Width   int     // Terminal width for responsive rendering
}

// NewHeader creates a new header with the given values
func NewHeader(title, command string, params ...Param) *Header {
	return &Header{
		Title:   title,
		Command: command,
		Params:  params,
		Width:   GetTerminalWidth(),
	}
}

// SetWidth sets the terminal width for responsive rendering
func (h *Header) SetWidth(width int) *Header {
	h.Width = width
	return h
}

// Add appends a parameter line
func (h *Header) Add(key, value string) *Header {
	h.Params = append(h.Params, Param{Key: key, Value: value})
	return h
}

// Render returns the styled header as a string
func (h *Header) Render() string {
	width := h.Width
	if width < MinTerminalWidth {
		width = MinTerminalWidth
	}

	titleLine := HeaderTitleStyle.Render(strings.ToUpper(h.Title))
	commandLine := HeaderCommandStyle.Render(h.Command)
	topSection := lipgloss.JoinVertical(lipgloss.Left, titleLine, commandLine)

	content := topSection
	if len(h.Params) > 0 {
		dividerWidth := width - 6 // border and padding
		if dividerWidth < 10 {
			dividerWidth = 10
		}
		divider := RenderHorizontalDivider(dividerWidth, "─")
		content = lipgloss.JoinVertical(lipgloss.Left, topSection, divider, renderParams(h.Params))
	}

	return HeaderBorderStyle(width).Render(content)
}

// String implements fmt.Stringer
func (h *Header) String() string {
	return h.Render()
}

func renderParams(params []Param) string {
	lines := make([]string, 0, len(params))
	for _, p := range params {
		keyStyled := HeaderParamKeyStyle.Render(p.Key + ":")
		valueStyled := HeaderParamValueStyle.Render(p.Value)
		lines = append(lines, keyStyled+" "+valueStyled)
	}
	return strings.Join(lines, "\n")
}

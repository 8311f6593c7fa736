package console

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"vdblink/registry"
)

var (
	colorBlue    = lipgloss.Color("#89b4fa")
	colorGreen   = lipgloss.Color("#a6e3a1")
	colorOverlay = lipgloss.Color("#7f849c")
	colorText    = lipgloss.Color("#cdd6f4")

	schemaBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBlue).
			Padding(0, 1)
)

func channelLabel(ch registry.Channel, color lipgloss.Color) string {
	id := lipgloss.NewStyle().Foreground(colorOverlay).Render(fmt.Sprintf("#%d", ch.ID))
	name := lipgloss.NewStyle().Bold(true).Foreground(color).Render(ch.Data.Name())
	return id + " " + name
}

// RenderSchema draws a newly announced channel and its field layout
func RenderSchema(ch registry.Channel) string {
	title := channelLabel(ch, colorBlue)
	body := lipgloss.NewStyle().Foreground(colorText).Render(expandTabs(ch.Data.PrettyPrint()))
	return schemaBox.Render(title + "\n" + body)
}

// RenderValue draws one received value
func RenderValue(ch registry.Channel) string {
	title := channelLabel(ch, colorGreen)
	body := lipgloss.NewStyle().Foreground(colorText).Render(expandTabs(ch.Data.PrettyPrintData()))
	return title + "\n" + body
}

// expandTabs keeps lipgloss width calculations stable
func expandTabs(s string) string {
	return strings.ReplaceAll(s, "\t", "  ")
}

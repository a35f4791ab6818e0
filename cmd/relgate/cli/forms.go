package cli

import (
	"os"

	"github.com/charmbracelet/huh"
)

// NewAccessibleForm creates a huh form that honors the ACCESSIBLE
// environment variable. When set, the form uses plain text prompts
// instead of the interactive TUI, which works better with screen
// readers and in CI logs.
func NewAccessibleForm(groups ...*huh.Group) *huh.Form {
	form := huh.NewForm(groups...)
	if os.Getenv("ACCESSIBLE") != "" {
		form = form.WithAccessible(true)
	}
	return form
}

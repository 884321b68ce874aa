// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package setup

import (
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
)

// Colors used by the init wizard.
var (
	ColorPrimary = lipgloss.Color("#7C3AED") // Purple
	ColorSuccess = lipgloss.Color("#10B981") // Green
	ColorError   = lipgloss.Color("#EF4444") // Red
	ColorMuted   = lipgloss.Color("#6B7280") // Gray
)

// BoxStyle frames the summary printed after init.
var BoxStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(ColorPrimary).
	Padding(1, 2)

// Theme is the Charm theme recoloured with the corp palette.
func Theme() *huh.Theme {
	t := huh.ThemeCharm()

	t.Focused.Base = lipgloss.NewStyle()
	t.Focused.Title = lipgloss.NewStyle().Foreground(ColorPrimary).Bold(true)
	t.Focused.Description = lipgloss.NewStyle().Foreground(ColorMuted)
	t.Focused.ErrorIndicator = lipgloss.NewStyle().Foreground(ColorError).Bold(true)
	t.Focused.ErrorMessage = lipgloss.NewStyle().Foreground(ColorError)
	t.Focused.FocusedButton = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).Background(ColorPrimary).Padding(0, 1).Bold(true)
	t.Focused.BlurredButton = lipgloss.NewStyle().Foreground(ColorMuted).Padding(0, 1)

	t.Blurred.Base = lipgloss.NewStyle()
	t.Blurred.Title = lipgloss.NewStyle().Foreground(ColorMuted)
	t.Blurred.Description = lipgloss.NewStyle().Foreground(ColorMuted)

	return t
}

// NewThemedForm creates a form with the corp theme and alt-screen applied.
func NewThemedForm(groups ...*huh.Group) *huh.Form {
	return huh.NewForm(groups...).
		WithTheme(Theme()).
		WithProgramOptions(WithAltScreen())
}

// WithAltScreen enables the alternate screen unless NO_ALT_SCREEN=1.
func WithAltScreen() tea.ProgramOption {
	if os.Getenv("NO_ALT_SCREEN") == "1" {
		return tea.WithoutCatchPanics()
	}
	return tea.WithAltScreen()
}

// MaskCredential shows the first 5 and last 3 characters of a credential.
//   - "sk-or-abc123xyz789" -> "sk-or*****789"
func MaskCredential(credential string) string {
	if credential == "" {
		return "(not set)"
	}
	if len(credential) < 8 {
		return credential[:min(3, len(credential))] + "***"
	}
	prefix := credential[:5]
	suffix := credential[len(credential)-3:]
	masked := len(credential) - len(prefix) - len(suffix)
	return prefix + strings.Repeat("*", min(masked, 5)) + suffix
}

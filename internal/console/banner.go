package console

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

const bannerMarkdown = `## Running in interactive mode

- Press **Ctrl+C** to interject at any time.
- Press **Return** to return control to the model.
- To submit another line, end your input in ` + "`\\`" + `.
`

// Banner renders the interactive-mode help. Without colour it falls back
// to glamour's plain style.
func Banner(color bool) (string, error) {
	style := "notty"
	if color {
		style = "dark"
	}
	out, err := glamour.Render(bannerMarkdown, style)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(out, "\n") + "\n\n", nil
}

package logging

import "github.com/fatih/color"

// Level colors. fatih/color turns these into no-ops when the output is not a
// terminal, or when NO_COLOR is set.
var (
	colorPrefix = color.New(color.FgWhite)
	colorError  = color.New(color.FgRed, color.Bold)
	colorWarn   = color.New(color.FgRed)
	colorInfo   = color.New(color.Reset)
	colorDebug  = color.New(color.FgGreen)
	colorTrace  = color.New(color.FgYellow)
)

// DisableColor forces plain output regardless of the destination.
func DisableColor() {
	color.NoColor = true
}

package common

import "os"

// ANSI colors for terminal output.
const (
	ColorReset   = "\033[0m"
	ColorRed     = "\033[31m"
	ColorGreen   = "\033[32m"
	ColorYellow  = "\033[33m"
	ColorMagenta = "\033[35m"
	ColorCyan    = "\033[36m"
	ColorGray    = "\033[90m"
)

// NoColor disables Paint; it follows the NO_COLOR convention.
var NoColor = os.Getenv("NO_COLOR") != ""

// Paint wraps s in color and a reset.
func Paint(color, s string) string {
	if NoColor || s == "" {
		return s
	}
	return color + s + ColorReset
}

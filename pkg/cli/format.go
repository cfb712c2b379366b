// Package cli provides shared formatting helpers for the srv6orch CLI.
package cli

import (
	"os"
	"strings"
)

// colorEnabled is false when NO_COLOR is set (no-color.org).
var colorEnabled = os.Getenv("NO_COLOR") == ""

const reset = "\033[0m"

func paint(code, s string) string {
	if !colorEnabled {
		return s
	}
	return code + s + reset
}

// Green, Yellow, Red, Bold and Dim wrap s in an ANSI attribute. They return
// s unchanged when NO_COLOR is set.
func Green(s string) string  { return paint("\033[32m", s) }
func Yellow(s string) string { return paint("\033[33m", s) }
func Red(s string) string    { return paint("\033[31m", s) }
func Bold(s string) string   { return paint("\033[1m", s) }
func Dim(s string) string    { return paint("\033[2m", s) }

// Verdict renders a scenario or step outcome: green PASS or red FAIL.
func Verdict(ok bool) string {
	if ok {
		return Green("PASS")
	}
	return Red("FAIL")
}

// DotPad pads a scenario name with a space and dots up to width, so the
// verdicts of a replay summary line up.
// Example: DotPad("local-sid", 16) → "local-sid ......"
func DotPad(name string, width int) string {
	if width <= 0 || len(name) >= width-1 {
		return name
	}
	return name + " " + strings.Repeat(".", width-len(name)-1)
}

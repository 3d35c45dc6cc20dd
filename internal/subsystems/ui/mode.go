package ui

import (
	"fmt"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/kingrea/loom/fault"
)

// Mode selects the user-facing surface.
type Mode string

const (
	// ModeAuto resolves to cli or web at initialization based on whether
	// stdout is a terminal. It never survives past Initialize.
	ModeAuto Mode = "auto"
	// ModeCLI runs the terminal dashboard.
	ModeCLI Mode = "cli"
	// ModeWeb serves status over HTTP.
	ModeWeb Mode = "web"
)

// ParseMode normalizes a mode name. The empty string means auto.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return ModeAuto, nil
	case "cli", "tui", "terminal":
		return ModeCLI, nil
	case "web", "http":
		return ModeWeb, nil
	default:
		return "", fault.New(fault.KindConfiguration, "ui", fmt.Sprintf("unknown interface mode %q", s))
	}
}

// Resolve collapses auto into a concrete mode exactly once. The decision
// uses the given file descriptor, normally os.Stdout.Fd().
func (m Mode) Resolve(fd uintptr) Mode {
	if m != ModeAuto {
		return m
	}
	if isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd) {
		return ModeCLI
	}
	return ModeWeb
}

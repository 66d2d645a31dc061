package observability

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

var startTime = time.Now()

const (
	colorReset    = "\033[0m"
	colorBold     = "\033[1m"
	colorPurple   = "\033[35m"
	colorNeonCyan = "\033[96m"
	colorNeonMag  = "\033[95m"
	colorGreen    = "\033[92m"
	colorRed      = "\033[91m"
)

var radarFrames = []string{"◜", "◝", "◞", "◟"}

// termMu serialises status lines with other terminal output.
var termMu sync.Mutex

func termWidth(f *os.File) int {
	w, _, err := term.GetSize(int(f.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func phaseColor(phase string) string {
	switch phase {
	case "executing", "analyzing", "planning":
		return colorNeonCyan
	case "clarifying", "awaiting_approval":
		return colorPurple
	case "completed":
		return colorGreen
	case "error":
		return colorRed
	default:
		return colorReset
	}
}

// FormatStatus renders a one-line status no wider than width columns
// (excluding escape codes). frame selects the spinner glyph.
func FormatStatus(s StatusSnapshot, width, frame int) string {
	radar := " "
	if s.Phase != "idle" && s.Phase != "completed" && s.Phase != "error" {
		radar = radarFrames[frame%len(radarFrames)]
	}

	step := "-"
	if s.Step >= 0 {
		step = fmt.Sprintf("%d", s.Step)
	}

	uptime := time.Since(startTime).Round(time.Second)
	prefix := fmt.Sprintf("[%s] %-17s step %-3s %s ", s.UpdatedAt.Format("15:04:05"), strings.ToUpper(s.Phase), step, radar)
	suffix := fmt.Sprintf(" [%v]", uptime)

	task := s.Task
	if task == "" {
		task = "Waiting..."
	}
	room := width - len([]rune(prefix)) - len([]rune(suffix))
	if room < 4 {
		room = 4
	}
	if r := []rune(task); len(r) > room {
		task = string(r[:room-3]) + "..."
	}

	return fmt.Sprintf("%s%s%s%s%s%s%s",
		phaseColor(s.Phase), colorBold, prefix, colorReset,
		task,
		colorNeonMag+suffix, colorReset,
	)
}

// PrintStatus writes the current status line to w, overwriting the
// previous one when w is a terminal.
func PrintStatus(w io.Writer, frame int) {
	width := 80
	tty := false
	if f, ok := w.(*os.File); ok {
		width = termWidth(f)
		tty = IsTerminal(f)
	}
	line := FormatStatus(GetStatus(), width, frame)

	termMu.Lock()
	defer termMu.Unlock()
	if tty {
		fmt.Fprint(w, "\r\033[K"+line)
		return
	}
	fmt.Fprintln(w, line)
}

// PrintBanner writes the startup banner centred on the terminal.
func PrintBanner(w io.Writer) {
	banner := `
  ___ ___ ___ _  _ ___ ___ ___  ___  ___ ___
 / __| __/ __| \| | __| __/ _ \| _ \/ __| __|
 \__ \ _| (__| .' | _|| _| (_) |   / (_ | _|
 |___/___\___|_|\_|___|_| \___/|_|_\\___|___|
`
	width := 80
	if f, ok := w.(*os.File); ok {
		width = termWidth(f)
	}

	termMu.Lock()
	defer termMu.Unlock()
	for _, l := range strings.Split(banner, "\n") {
		padding := (width - len(l)) / 2
		if padding < 0 {
			padding = 0
		}
		fmt.Fprintf(w, "%s%s%s\n", strings.Repeat(" ", padding), colorNeonCyan+l, colorReset)
	}
}

package client

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// UI renders the interactive terminal surface: the prompt, colored
// server responses, and the transfer progress bar.
type UI struct {
	out         io.Writer
	errColor    *color.Color
	okColor     *color.Color
	infoColor   *color.Color
	barInFlight bool
}

// NewUI builds a UI writing to out.
func NewUI(out io.Writer) *UI {
	return &UI{
		out:       out,
		errColor:  color.New(color.FgRed, color.Bold),
		okColor:   color.New(color.FgGreen),
		infoColor: color.New(color.FgCyan),
	}
}

func (u *UI) Banner(host string, port int) {
	fmt.Fprintf(u.out, "Connected to %s:%d\n", host, port)
	fmt.Fprintln(u.out, "Type 'help' for available commands")
}

func (u *UI) Prompt() {
	fmt.Fprint(u.out, "filewire> ")
}

// Response prints one server line, colored by its prefix.
func (u *UI) Response(line string) {
	switch classifyResponse(line) {
	case responseError:
		u.errColor.Fprintln(u.out, line)
	case responseOK:
		u.okColor.Fprintln(u.out, line)
	default:
		fmt.Fprintln(u.out, line)
	}
}

func (u *UI) Errorf(format string, args ...interface{}) {
	u.errColor.Fprintf(u.out, format+"\n", args...)
}

func (u *UI) Successf(format string, args ...interface{}) {
	u.okColor.Fprintf(u.out, format+"\n", args...)
}

func (u *UI) Infof(format string, args ...interface{}) {
	u.infoColor.Fprintf(u.out, format+"\n", args...)
}

// Progress redraws the in-place transfer bar.
func (u *UI) Progress(current, total uint32) {
	u.barInFlight = true
	fmt.Fprintf(u.out, "\r%s", renderProgress(current, total))
}

// ProgressDone terminates an in-place bar with a newline so following
// output starts clean.
func (u *UI) ProgressDone() {
	if u.barInFlight {
		fmt.Fprintln(u.out)
		u.barInFlight = false
	}
}

func (u *UI) Clear() {
	fmt.Fprint(u.out, "\033[2J\033[H")
}

func (u *UI) Help() {
	fmt.Fprint(u.out, `Available commands:
  ls                   List files on the server
  pwd                  Show the server working directory
  cd <dir>             Change the server working directory
  get <file>           Download a file from the server
  send <file>          Upload a local file to the server
  delete <file>        Delete a file on the server
  rename <old> <new>   Rename a file on the server
  health               Show server health information
  clear                Clear the screen
  help                 Show this help
  exit                 Disconnect and quit
`)
}

type responseClass int

const (
	responsePlain responseClass = iota
	responseOK
	responseError
)

// classifyResponse maps a server line to its display class by prefix.
func classifyResponse(line string) responseClass {
	switch {
	case strings.HasPrefix(line, "ERROR:"):
		return responseError
	case strings.HasPrefix(line, "SUCCESS:"), strings.HasPrefix(line, "OK:"):
		return responseOK
	default:
		return responsePlain
	}
}

const progressBarWidth = 30

// renderProgress draws a fixed-width bar with a percentage, safe for
// redrawing in place with a carriage return.
func renderProgress(current, total uint32) string {
	if total == 0 {
		total = 1
	}
	if current > total {
		current = total
	}
	filled := int(uint64(current) * progressBarWidth / uint64(total))
	pct := uint64(current) * 100 / uint64(total)

	var b strings.Builder
	b.WriteByte('[')
	b.WriteString(strings.Repeat("=", filled))
	b.WriteString(strings.Repeat(" ", progressBarWidth-filled))
	fmt.Fprintf(&b, "] %3d%% (%d/%d chunks)", pct, current, total)
	return b.String()
}

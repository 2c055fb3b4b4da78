// Package narrate prints the human-facing console lines of the daemon and
// the supervisor. It is cosmetic: every event is also logged by the caller.
package narrate

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Mode selects the narration voice.
type Mode int

const (
	Plain Mode = iota
	Kernel
)

// KernelBanner opens every kernel-mode session.
const KernelBanner = "DEVBRAIN_KERNEL::PTY_SESSION_V5_STABLE"

// Match is one knowledge-base hit shown to the user.
type Match struct {
	Title       string
	MentalModel string
	Confidence  int
}

// Narrator writes styled lines to an output stream. A nil *Narrator is silent.
type Narrator struct {
	mode Mode
	mu   sync.Mutex
	w    io.Writer

	info    lipgloss.Style
	dim     lipgloss.Style
	good    lipgloss.Style
	warn    lipgloss.Style
	bad     lipgloss.Style
	wisdom  lipgloss.Style
	heading lipgloss.Style
}

// New creates a narrator. Colors are disabled automatically when w is not a
// terminal.
func New(w io.Writer, mode Mode) *Narrator {
	r := lipgloss.NewRenderer(w)
	return &Narrator{
		mode:    mode,
		w:       w,
		info:    r.NewStyle().Foreground(lipgloss.Color("39")),
		dim:     r.NewStyle().Foreground(lipgloss.Color("245")),
		good:    r.NewStyle().Foreground(lipgloss.Color("46")).Bold(true),
		warn:    r.NewStyle().Foreground(lipgloss.Color("226")),
		bad:     r.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		wisdom:  r.NewStyle().Foreground(lipgloss.Color("213")).Bold(true),
		heading: r.NewStyle().Foreground(lipgloss.Color("51")).Bold(true),
	}
}

// ModeFromFlag maps the --kernel flag.
func ModeFromFlag(kernel bool) Mode {
	if kernel {
		return Kernel
	}
	return Plain
}

func (n *Narrator) println(style lipgloss.Style, format string, args ...any) {
	if n == nil || n.w == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	fmt.Fprintln(n.w, style.Render(fmt.Sprintf(format, args...)))
}

// DaemonStarting announces the watched roots.
func (n *Narrator) DaemonStarting(roots []string, aiEnabled bool) {
	if n == nil {
		return
	}
	if n.mode == Kernel {
		n.println(n.heading, "\n%s", KernelBanner)
		n.println(n.dim, "PTY_EMULATOR: ON // NEURAL_INTERCEPT: ACTIVE")
		if aiEnabled {
			n.println(n.good, "DAEMON_INIT: Neural link established. Intercepting streams...")
		} else {
			n.println(n.bad, "[KERNEL ERROR] Link to neural processor severed.")
			n.println(n.warn, "INTERCEPTOR::ANOMALY_FOUND_IN_STREAM - AI features disabled.")
		}
		return
	}
	n.println(n.info, "[DevBrain Daemon] Starting monitoring...")
	for _, r := range roots {
		n.println(n.dim, " Watching: %s", r)
	}
	n.println(n.dim, "Press Ctrl+C to stop\n")
}

// FileChanged reports a file whose findings changed.
func (n *Narrator) FileChanged(rel, project string) {
	if n == nil {
		return
	}
	n.println(n.dim, "[FS_EVENT] %s (%s)", rel, project)
}

// Insight reports AI wisdom and heuristic issues for a file.
func (n *Narrator) Insight(title, rationale string, issues []string) {
	if n == nil {
		return
	}
	if n.mode == Kernel {
		if title != "" {
			n.println(n.wisdom, "[STORY_CAPTURED] %s", strings.ToUpper(title))
			n.println(n.dim, "  WHY: %s", rationale)
		}
		if len(issues) > 0 {
			n.println(n.bad, "  [ANOMALY] %s", strings.Join(issues, ", "))
		}
		return
	}
	if title != "" {
		n.println(n.wisdom, "\n✨ [WISDOM] %s", title)
		n.println(n.dim, "   Rationale: %s", rationale)
	}
}

// AntiPattern reports a newly seen anti-pattern.
func (n *Narrator) AntiPattern(name, file string) {
	if n == nil {
		return
	}
	if n.mode == Kernel {
		n.println(n.warn, "[ANTI_PATTERN] %s :: %s", strings.ToUpper(name), file)
		return
	}
	n.println(n.warn, "⚠ Anti-pattern detected: %s (%s)", name, file)
}

// DaemonStopping announces shutdown.
func (n *Narrator) DaemonStopping() {
	if n == nil {
		return
	}
	n.println(n.info, "\n[DevBrain] Shutting down daemon...")
}

// Matches lists knowledge-base hits for a failure.
func (n *Narrator) Matches(matches []Match) {
	if n == nil || len(matches) == 0 {
		return
	}
	if n.mode == Kernel {
		n.println(n.good, "RECALL_HIT: %d_BLOCK(S)", len(matches))
	} else {
		n.println(n.good, "\n🧠 DevBrain remembers %d related fix(es):", len(matches))
	}
	for i, m := range matches {
		n.println(n.wisdom, "  %d. %s (%d%%)", i+1, m.Title, m.Confidence)
		if m.MentalModel != "" {
			n.println(n.dim, "     %s", m.MentalModel)
		}
	}
}

// Evidence reports a failure below the escalation threshold.
func (n *Narrator) Evidence(strikes, threshold int) {
	if n == nil {
		return
	}
	if n.mode == Kernel {
		n.println(n.dim, "STRIKE_%d/%d :: ACCUMULATING_EVIDENCE", strikes, threshold)
		return
	}
	n.println(n.dim, "[DevBrain] Strike %d/%d for this error. Gathering evidence...", strikes, threshold)
}

// Escalating reports the start of a web search.
func (n *Narrator) Escalating(strikes int, query string) {
	if n == nil {
		return
	}
	if n.mode == Kernel {
		n.println(n.bad, "CHRONIC_FAILURE_DETECTED [%d] :: ESCALATING", strikes)
		return
	}
	n.println(n.warn, "[DevBrain] Chronic issue (%d strikes). Searching the web for: %s", strikes, query)
}

// SolutionFound reports a saved web solution.
func (n *Narrator) SolutionFound(title, url string, votes int) {
	if n == nil {
		return
	}
	n.println(n.good, "[DevBrain] Found solution: %s (%d votes)", title, votes)
	n.println(n.dim, "   %s", url)
}

// NoSolution reports an escalation with no result.
func (n *Narrator) NoSolution() {
	if n == nil {
		return
	}
	n.println(n.dim, "[DevBrain] No solution found online.")
}

// Verified reports a chronic failure that was recovered and recorded.
func (n *Narrator) Verified(title string, strikes int) {
	if n == nil {
		return
	}
	if n.mode == Kernel {
		n.println(n.good, "RECOVERY_VERIFIED :: %s [%d STRIKES]", strings.ToUpper(title), strikes)
		return
	}
	n.println(n.good, "\n✅ [DevBrain] Verified fix recorded after %d strikes: %s", strikes, title)
}

// Trivial reports a quick recovery that was intentionally not recorded.
func (n *Narrator) Trivial() {
	if n == nil {
		return
	}
	n.println(n.dim, "[DevBrain] Quick fix detected. Not recording.")
}

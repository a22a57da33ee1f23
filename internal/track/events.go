package track

// IdleState mirrors the host runtime's idle detection states.
type IdleState string

const (
	IdleActive IdleState = "active"
	IdleIdle   IdleState = "idle"
	IdleLocked IdleState = "locked"
)

// Event is a tagged host event routed to the tracker's transition function.
// Keeping the state machine behind a single Handle(Event) entry point keeps
// it testable independent of the host event source.
type Event interface {
	Kind() string
}

// Activated is fired when a tab becomes the active tab.
type Activated struct {
	TabID   int    `json:"tab_id"`
	URL     string `json:"url"`
	Favicon string `json:"favicon"`
}

// Updated is fired when the active tab finishes loading a new URL.
type Updated struct {
	TabID   int    `json:"tab_id"`
	URL     string `json:"url"`
	Favicon string `json:"favicon"`
}

// HistoryChanged is fired on single-page-app navigations.
type HistoryChanged struct {
	TabID int    `json:"tab_id"`
	URL   string `json:"url"`
}

// FocusChanged is fired when the browser window gains or loses focus. URL
// and Favicon describe the active tab when focus is gained.
type FocusChanged struct {
	Focused bool   `json:"focused"`
	TabID   int    `json:"tab_id"`
	URL     string `json:"url"`
	Favicon string `json:"favicon"`
}

// IdleChanged is fired when the host's idle state changes.
type IdleChanged struct {
	State IdleState `json:"state"`
}

// AlarmFired is the fixed 1-minute periodic tick. It splits long sessions
// into bounded commits so at most one minute of data is lost on abrupt
// termination.
type AlarmFired struct{}

// Startup is fired when the host runtime starts or is installed.
type Startup struct{}

func (Activated) Kind() string      { return "activated" }
func (Updated) Kind() string        { return "updated" }
func (HistoryChanged) Kind() string { return "history_changed" }
func (FocusChanged) Kind() string   { return "focus_changed" }
func (IdleChanged) Kind() string    { return "idle_changed" }
func (AlarmFired) Kind() string     { return "alarm_fired" }
func (Startup) Kind() string        { return "startup" }

// Action is a directive handed back to the host for execution: show a
// notification or redirect a tab to the block page.
type Action struct {
	Type    string `json:"type"` // "notify" or "redirect"
	Title   string `json:"title,omitempty"`
	Message string `json:"message,omitempty"`
	TabID   int    `json:"tab_id,omitempty"`
	URL     string `json:"url,omitempty"`
}

const (
	// ActionNotify asks the host to show a notification.
	ActionNotify = "notify"
	// ActionRedirect asks the host to redirect a tab to a URL.
	ActionRedirect = "redirect"
)

// dedupe drops repeated actions from a single transition (the periodic
// tick can evaluate limits twice in one pass).
func dedupe(actions []Action) []Action {
	if len(actions) < 2 {
		return actions
	}
	seen := make(map[Action]struct{}, len(actions))
	kept := actions[:0]
	for _, a := range actions {
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		kept = append(kept, a)
	}
	return kept
}

package guard

// Kind is the outcome class of a routing decision.
type Kind int

const (
	// KindAllow renders the requested route.
	KindAllow Kind = iota
	// KindRedirect navigates elsewhere before rendering anything.
	KindRedirect
	// KindWait holds rendering while the initial resolution is in flight.
	KindWait
)

// Mode distinguishes how a redirect is executed.
type Mode int

const (
	// ModeReplace is a full navigation that must not pollute history; the
	// back button should never return to an intermediate resolution state.
	ModeReplace Mode = iota
	// ModeNavigate is an in-app route change on the same origin.
	ModeNavigate
)

// Decision is the transient result of one guard evaluation. Never persisted.
type Decision struct {
	Kind Kind
	URL  string
	Mode Mode
}

func allow() Decision {
	return Decision{Kind: KindAllow}
}

func wait() Decision {
	return Decision{Kind: KindWait}
}

func redirect(url string, mode Mode) Decision {
	return Decision{Kind: KindRedirect, URL: url, Mode: mode}
}

func (d Decision) String() string {
	switch d.Kind {
	case KindAllow:
		return "allow"
	case KindWait:
		return "wait"
	default:
		return "redirect(" + d.URL + ")"
	}
}

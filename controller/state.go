package controller

type State int

const (
	StateBootstrap State = iota
	StateActive
	StateTeardown
)

func (s State) String() string {
	switch s {
	case StateBootstrap:
		return "Bootstrap"
	case StateActive:
		return "Active"
	case StateTeardown:
		return "Teardown"
	default:
		return "Unknown"
	}
}

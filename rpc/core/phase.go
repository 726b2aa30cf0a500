package core

// Phase is the lifecycle phase of a Core
type Phase int32

const (
	PhaseDormant Phase = iota
	PhaseListening
	PhaseRunning
	PhaseClosing
	PhaseFinished
)

func (p Phase) String() string {
	switch p {
	case PhaseDormant:
		return "dormant"
	case PhaseListening:
		return "listening"
	case PhaseRunning:
		return "running"
	case PhaseClosing:
		return "closing"
	case PhaseFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Direction of a connection unit, seen from the owning port
type Direction int

const (
	DirectionInput Direction = iota
	DirectionOutput
)

func (d Direction) String() string {
	if d == DirectionOutput {
		return "output"
	}
	return "input"
}

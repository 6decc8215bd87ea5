package job

// State is a scheduler state. Only the job record is persisted; the state is
// reconstructed from it on every tick.
type State string

const (
	StateIdle       State = "idle"
	StatePreparing  State = "preparing"
	StateRunning    State = "running"
	StateCooldown   State = "cooldown"
	StateCompleting State = "completing"
	StateAborted    State = "aborted"
)

func (s State) String() string {
	return string(s)
}

type Transition struct {
	From State
	To   State
}

var ValidTransitions = []Transition{
	{From: StateIdle, To: StatePreparing},
	{From: StatePreparing, To: StateRunning},
	{From: StatePreparing, To: StateCompleting},
	{From: StatePreparing, To: StateIdle},
	{From: StateRunning, To: StateCooldown},
	{From: StateRunning, To: StateCompleting},
	{From: StateRunning, To: StateAborted},
	{From: StateCooldown, To: StateRunning},
	{From: StateCooldown, To: StateCompleting},
	{From: StateCooldown, To: StateAborted},
	{From: StateCompleting, To: StateIdle},
	{From: StateAborted, To: StateIdle},
}

func IsValidTransition(from, to State) bool {
	for _, t := range ValidTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

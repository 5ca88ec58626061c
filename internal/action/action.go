package action

type Action int

const (
	Undecided Action = iota // 0：Undecided
	Admit                   // 1：Accept the connection
	Reject                  // 2：Close it
)

func (a Action) String() string {
	switch a {
	case Admit:
		return "admit"
	case Reject:
		return "reject"
	default:
		return "undecided"
	}
}

// Decision saves the result of the admission chain
type Decision struct {
	result Action
	reason string
}

func NewDecision() *Decision {
	return &Decision{result: Undecided}
}

func (d *Decision) Get() Action {
	return d.result
}

func (d *Decision) Reason() string {
	return d.reason
}

func (d *Decision) Set(new Action, reason string) {
	d.result = new
	d.reason = reason
}

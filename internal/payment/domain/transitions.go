package domain

var transitions = map[Status]map[Status]TransitionSource{
	StatusPending: {
		StatusPaid:     SourceProvider,
		StatusFailed:   SourceProvider,
		StatusCanceled: "",
		StatusReceived: SourceManual,
		StatusWaived:   SourceManual,
	},
	StatusFailed: {
		StatusPending:  "",
		StatusPaid:     SourceProvider,
		StatusCanceled: "",
		StatusReceived: SourceManual,
		StatusWaived:   SourceManual,
	},
	StatusPaid: {
		StatusRefunded: "",
	},
	StatusReceived: {
		StatusRefunded: SourceManual,
	},
}

// CanTransition reports whether a payment may move from one status to
// another when driven by source. An empty source in the table means any
// source may apply the move.
func CanTransition(from, to Status, source TransitionSource) bool {
	targets, ok := transitions[from]
	if !ok {
		return false
	}
	required, ok := targets[to]
	if !ok {
		return false
	}
	return required == "" || required == source
}

package core

// transitions is the order lifecycle graph. An order is created as new
// (or directly as rejected when the pre-trade check fails); everything
// else must follow an edge here. Terminal states have no outgoing edges.
var transitions = map[Status]map[Status]bool{
	StatusNew: {
		StatusPartiallyFilled:   true,
		StatusFilled:            true,
		StatusPartiallyCanceled: true,
		StatusCanceled:          true,
		StatusExpired:           true,
		StatusRejected:          true,
	},
	StatusPartiallyFilled: {
		StatusFilled:            true,
		StatusPartiallyCanceled: true,
		StatusCanceled:          true,
		StatusExpired:           true,
	},
}

// CanTransition reports whether the lifecycle graph allows from → to
func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

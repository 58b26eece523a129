package realtime

// Result is the outcome of Manager.Acquire: either Connected or Unavailable.
type Result interface {
	isResult()
}

// Connected carries a live channel.
type Connected struct {
	Channel Channel
}

// Unavailable means there is no realtime channel; Reason says why.
// Callers fall back to the push database path.
type Unavailable struct {
	Reason error
}

func (Connected) isResult()   {}
func (Unavailable) isResult() {}

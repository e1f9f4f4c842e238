package store

// RunState is either NoActiveRun or ActiveRun.
type RunState interface {
	runState()
}

// NoActiveRun is the state before the first StartRun.
type NoActiveRun struct{}

// ActiveRun is the current run and its run-scoped id counters. Counters
// hold the last allocated id and restart at zero for every run.
type ActiveRun struct {
	ID           int
	SuiteCounter int
	TestCounter  int
}

func (NoActiveRun) runState() {}
func (ActiveRun) runState()   {}

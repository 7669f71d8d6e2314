package core

// command is a unit of work executed on the session loop. Public session methods and
// connection goroutines submit commands instead of touching loop-owned state.
type command struct {
	run  func() error
	done chan error
}

func newCommand(run func() error) *command {
	return &command{run: run, done: make(chan error, 1)}
}

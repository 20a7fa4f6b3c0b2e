package tui

import (
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"

	"github.com/justapithecus/drawscan/runtime"
	"github.com/justapithecus/drawscan/types"
)

// Sender is the part of *tea.Program the observer needs.
type Sender interface {
	Send(msg tea.Msg)
}

// ProgramObserver forwards session callbacks into a Bubble Tea program.
// Send is a no-op once the program has exited, so a session that outlives
// the view never blocks on it.
type ProgramObserver struct {
	sender Sender
}

// NewProgramObserver creates an observer that forwards to sender.
func NewProgramObserver(sender Sender) *ProgramObserver {
	return &ProgramObserver{sender: sender}
}

// OnSnapshot implements runtime.Observer.
func (o *ProgramObserver) OnSnapshot(s *types.Snapshot) {
	o.sender.Send(SnapshotMsg{Snapshot: s})
}

// OnServerError implements runtime.Observer.
func (o *ProgramObserver) OnServerError(err *runtime.ServerError) {
	o.sender.Send(ServerErrorMsg{Message: err.Message})
}

// OnStateChange implements runtime.Observer.
func (o *ProgramObserver) OnStateChange(state types.SessionState) {
	o.sender.Send(StateMsg{State: state})
}

// StartFunc starts a session that reports to observer and returns its
// result channel and a cancel function.
type StartFunc func(observer runtime.Observer) (<-chan *runtime.SessionResult, func(), error)

// RunOptions configures RunLive.
type RunOptions struct {
	// Filename is shown in the title.
	Filename string
	// ExitOnDone quits the view when the session ends instead of waiting
	// for the user.
	ExitOnDone bool
	// Input and Output override the terminal, mainly for tests.
	Input  io.Reader
	Output io.Writer
}

// RunLive runs the live view around one session. Quitting the view
// cancels the session; RunLive always waits for the session result.
func RunLive(opts RunOptions, start StartFunc) (*runtime.SessionResult, error) {
	programOpts := []tea.ProgramOption{tea.WithAltScreen()}
	if opts.Input != nil {
		programOpts = append(programOpts, tea.WithInput(opts.Input))
	}
	if opts.Output != nil {
		programOpts = append(programOpts, tea.WithOutput(opts.Output))
	}

	p := tea.NewProgram(NewLiveModel(opts.Filename, opts.ExitOnDone), programOpts...)

	results, cancel, err := start(NewProgramObserver(p))
	if err != nil {
		return nil, err
	}

	resultCh := make(chan *runtime.SessionResult, 1)
	go func() {
		result := <-results
		resultCh <- result
		p.Send(DoneMsg{Result: result})
	}()

	_, runErr := p.Run()
	// The view is gone; nothing left to watch.
	cancel()
	result := <-resultCh

	if runErr != nil {
		return result, fmt.Errorf("live view: %w", runErr)
	}
	return result, nil
}

// IsTUISupported checks whether stdout is an interactive terminal.
func IsTUISupported() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

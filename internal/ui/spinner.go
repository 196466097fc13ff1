package ui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
)

// Spinner is a blocking terminal spinner for operations outside the
// bubbletea program, like the initial dial before the room view starts.
type Spinner struct {
	message string
	frames  []string
	period  time.Duration
	done    chan struct{}
	stopped bool
}

// NewConnectionSpinner creates a spinner for network operations.
func NewConnectionSpinner(message string) *Spinner {
	return &Spinner{
		message: message,
		frames:  spinner.Globe.Frames,
		period:  180 * time.Millisecond,
		done:    make(chan struct{}),
	}
}

func (s *Spinner) Start() {
	go func() {
		tick := time.NewTicker(s.period)
		defer tick.Stop()
		for i := 0; ; i++ {
			fmt.Printf("\r%s %s", SpinnerStyle.Render(s.frames[i%len(s.frames)]), s.message)
			select {
			case <-s.done:
				return
			case <-tick.C:
			}
		}
	}()
}

func (s *Spinner) Stop() {
	if !s.stopped {
		s.stopped = true
		close(s.done)
		fmt.Print("\r\033[K")
	}
}

// RunConnectionSpinner starts a connection spinner and returns its stop
// function.
func RunConnectionSpinner(message string) func() {
	sp := NewConnectionSpinner(message)
	sp.Start()
	return sp.Stop
}

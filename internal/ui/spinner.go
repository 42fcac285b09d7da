package ui

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
)

// Spinner animates a status line on w until stopped.
type Spinner struct {
	w        io.Writer
	message  string
	frames   []string
	interval time.Duration

	once sync.Once
	done chan struct{}
	wg   sync.WaitGroup
}

// NewSpinner uses the dot animation for general waits.
func NewSpinner(w io.Writer, message string) *Spinner {
	return newSpinner(w, message, spinner.Dot)
}

// NewConnectionSpinner uses the globe animation for network waits.
func NewConnectionSpinner(w io.Writer, message string) *Spinner {
	return newSpinner(w, message, spinner.Globe)
}

func newSpinner(w io.Writer, message string, s spinner.Spinner) *Spinner {
	return &Spinner{
		w:        w,
		message:  message,
		frames:   s.Frames,
		interval: s.FPS,
		done:     make(chan struct{}),
	}
}

func (s *Spinner) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for i := 0; ; i++ {
			fmt.Fprintf(s.w, "\r%s %s", SpinnerStyle.Render(s.frames[i%len(s.frames)]), s.message)
			select {
			case <-s.done:
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop ends the animation and clears the line. It is safe to call twice.
func (s *Spinner) Stop() {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
		fmt.Fprint(s.w, "\r\033[K")
	})
}

// Run starts a spinner and returns its stop function.
func Run(w io.Writer, message string) func() {
	sp := NewSpinner(w, message)
	sp.Start()
	return sp.Stop
}

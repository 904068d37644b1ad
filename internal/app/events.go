package app

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"
)

// events carries change notifications from component observers into the
// event loop. Each channel holds at most one pending signal; the model
// reads the component's current state when it handles one, so signals
// that arrive while one is pending can be dropped.
type events struct {
	chat     chan struct{}
	video    chan struct{}
	recorder chan struct{}
	done     chan struct{}

	closeOnce sync.Once
}

func newEvents() *events {
	return &events{
		chat:     make(chan struct{}, 1),
		video:    make(chan struct{}, 1),
		recorder: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// waitCmd blocks until the next notification. The model issues a new
// waitCmd after handling each one.
func (e *events) waitCmd() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-e.chat:
			return ChatChangedMsg{}
		case <-e.video:
			return VideoChangedMsg{}
		case <-e.recorder:
			return RecorderChangedMsg{}
		case <-e.done:
			return nil
		}
	}
}

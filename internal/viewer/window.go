package viewer

import (
	"gocv.io/x/gocv"
)

const (
	keyEsc   = 27
	keyTrain = 't'
)

// Window shows frames in a native OpenCV window.
// Esc or closing the window quits, t retrains.
type Window struct {
	window *gocv.Window
	events chan Event
}

// NewWindow opens a window with the given title.
func NewWindow(title string) *Window {
	return &Window{
		window: gocv.NewWindow(title),
		events: make(chan Event, 4),
	}
}

// Show draws the frame and polls the keyboard.
func (w *Window) Show(f Frame) error {
	w.window.IMShow(f.Image)
	w.Poll()
	return nil
}

// Poll pumps the window's event loop once.
func (w *Window) Poll() {
	key := w.window.WaitKey(1)
	if ev, ok := keyEvent(key, w.window.IsOpen()); ok {
		w.emit(ev)
	}
}

func keyEvent(key int, open bool) (Event, bool) {
	switch {
	case !open, key == keyEsc:
		return Event{Kind: Quit}, true
	case key == keyTrain:
		return Event{Kind: Train}, true
	}
	return Event{}, false
}

func (w *Window) emit(ev Event) {
	select {
	case w.events <- ev:
	default:
		// Keys pressed faster than the session handles them are dropped
	}
}

// Events returns the key events.
func (w *Window) Events() <-chan Event {
	return w.events
}

// Close destroys the window.
func (w *Window) Close() error {
	return w.window.Close()
}

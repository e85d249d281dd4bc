// Package viewer runs the interactive loop: frames in, annotated frames out, user events
// applied between frames. All pipeline, recognizer and gallery access happens on the
// goroutine that calls Session.Run.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/andresmejia3/lookout/internal/gallery"
	"github.com/andresmejia3/lookout/internal/pipeline"
	"github.com/andresmejia3/lookout/internal/recognizer"
	"github.com/andresmejia3/lookout/internal/source"
	"github.com/andresmejia3/lookout/internal/types"
	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// ErrNameRequired is returned when a face is clicked before a name has been assumed.
var ErrNameRequired = errors.New("set a name before clicking on a face")

// ErrStopped answers an event that arrived while the session was shutting down.
var ErrStopped = errors.New("session stopped")

// EventKind identifies what a presenter is asking the session to do.
type EventKind int

const (
	Click EventKind = iota
	SetName
	ClearName
	Train
	Quit
)

func (k EventKind) String() string {
	switch k {
	case Click:
		return "click"
	case SetName:
		return "set-name"
	case ClearName:
		return "clear-name"
	case Train:
		return "train"
	case Quit:
		return "quit"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is a user action forwarded by a presenter. If Reply is non-nil the session
// sends exactly one Reply on it once the event has been handled, so it must be buffered.
type Event struct {
	Kind  EventKind
	X, Y  int
	Name  string
	Reply chan<- Reply
}

// Reply reports the outcome of an Event.
type Reply struct {
	// Click
	Hit  bool
	Path string
	// SetName, ClearName
	Name string
	// Train
	Stats recognizer.TrainStats

	Err error
}

// Frame is what presenters get to show each cycle. Image is only valid during Show.
type Frame struct {
	Image        gocv.Mat
	Detections   []types.Detection
	Recognitions []types.Recognition
}

// Presenter shows annotated frames and feeds user events back.
type Presenter interface {
	Show(f Frame) error
	Events() <-chan Event
	Close() error
}

// Poller is implemented by presenters that must be pumped from the session goroutine
// even when no new frame is shown, such as native windows.
type Poller interface {
	Poll()
}

// Appender stores a face crop for a person.
type Appender interface {
	Append(name string, img image.Image) (string, error)
}

// TrainFunc retrains the recognizer from the gallery.
type TrainFunc func(ctx context.Context) (recognizer.TrainStats, error)

// Session owns the pipeline for the lifetime of one viewing.
type Session struct {
	source     source.Source
	pipeline   *pipeline.Pipeline
	gallery    Appender
	train      TrainFunc
	presenters []Presenter

	name  string
	frame gocv.Mat
	last  gocv.Mat
}

// NewSession wires a frame source and presenters to the pipeline.
func NewSession(src source.Source, p *pipeline.Pipeline, g Appender, train TrainFunc, presenters ...Presenter) *Session {
	return &Session{
		source:     src,
		pipeline:   p,
		gallery:    g,
		train:      train,
		presenters: presenters,
		frame:      gocv.NewMat(),
		last:       gocv.NewMat(),
	}
}

// Close releases the frames the session holds on to.
func (s *Session) Close() error {
	s.frame.Close()
	return s.last.Close()
}

// Name returns the currently assumed name.
func (s *Session) Name() string {
	return s.name
}

var errQuit = errors.New("quit requested")

const idlePoll = 30 * time.Millisecond

// Run processes frames until the source fails, a presenter asks to quit, or ctx is done.
// An exhausted source is not an end: the last frame stays on screen and events are still
// handled.
func (s *Session) Run(ctx context.Context) error {
	events, stop := s.mergeEvents()
	defer stop()

	exhausted := false
	for {
		if ctx.Err() != nil {
			return nil
		}

		if !exhausted {
			ok, err := s.Step()
			if err != nil {
				return err
			}
			if !ok {
				exhausted = true
				log.Info("Source exhausted, waiting for events")
			}
		}

		if err := s.drain(ctx, events, exhausted); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			return err
		}
	}
}

// Step pulls one frame from the source and renders it. It returns false, leaving the
// previous frame current, once the source is exhausted.
func (s *Session) Step() (bool, error) {
	ok, err := s.source.Next(&s.frame)
	if err != nil {
		return false, fmt.Errorf("frame source failed: %w", err)
	}
	if !ok {
		return false, nil
	}
	s.frame.CopyTo(&s.last)
	return true, s.render()
}

// drain handles every pending event. When block is set it waits for at least one,
// pumping any Poller presenters while it waits.
func (s *Session) drain(ctx context.Context, events <-chan Event, block bool) error {
	if block {
		var tick <-chan time.Time
		if s.hasPollers() {
			t := time.NewTicker(idlePoll)
			defer t.Stop()
			tick = t.C
		}
	wait:
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-tick:
				s.poll()
			case ev := <-events:
				if err := s.dispatch(ctx, ev); err != nil {
					return err
				}
				break wait
			}
		}
	}
	for {
		select {
		case ev := <-events:
			if err := s.dispatch(ctx, ev); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (s *Session) hasPollers() bool {
	for _, p := range s.presenters {
		if _, ok := p.(Poller); ok {
			return true
		}
	}
	return false
}

func (s *Session) poll() {
	for _, p := range s.presenters {
		if pl, ok := p.(Poller); ok {
			pl.Poll()
		}
	}
}

func (s *Session) dispatch(ctx context.Context, ev Event) error {
	reply, err := s.Handle(ctx, ev)
	if ev.Reply != nil {
		ev.Reply <- reply
	}
	return err
}

// Handle applies one event. The returned error is non-nil only when the session must
// stop; per-event failures travel in Reply.Err.
func (s *Session) Handle(ctx context.Context, ev Event) (Reply, error) {
	log.WithField("event", ev.Kind).Debug("Handling event")

	switch ev.Kind {
	case Click:
		return s.click(ev.X, ev.Y), nil

	case SetName:
		if err := gallery.ValidateName(ev.Name); err != nil {
			return Reply{Err: err, Name: s.name}, nil
		}
		s.name = ev.Name
		log.WithField("name", s.name).Info("Assumed name")
		return Reply{Name: s.name}, nil

	case ClearName:
		s.name = ""
		return Reply{}, nil

	case Train:
		stats, err := s.train(ctx)
		if err != nil {
			log.WithError(err).Warn("Training failed")
			return Reply{Err: err}, nil
		}
		// Redraw so the new labels show up even if the source has stopped
		if !s.last.Empty() {
			if err := s.render(); err != nil {
				return Reply{Stats: stats}, err
			}
		}
		return Reply{Stats: stats}, nil

	case Quit:
		return Reply{}, errQuit
	}
	return Reply{Err: fmt.Errorf("unknown event %v", ev.Kind)}, nil
}

func (s *Session) click(x, y int) Reply {
	if s.name == "" {
		return Reply{Err: ErrNameRequired}
	}
	d, ok := s.pipeline.HitTest(x, y)
	if !ok {
		return Reply{}
	}

	crop := s.pipeline.Crop(d)
	defer crop.Close()
	if crop.Empty() {
		return Reply{Hit: true, Err: errors.New("face region is empty")}
	}
	img, err := crop.ToImage()
	if err != nil {
		return Reply{Hit: true, Err: fmt.Errorf("failed to convert crop: %w", err)}
	}
	path, err := s.gallery.Append(s.name, img)
	if err != nil {
		return Reply{Hit: true, Err: err}
	}
	return Reply{Hit: true, Path: path}
}

func (s *Session) render() error {
	res, err := s.pipeline.ProcessFrame(s.last)
	if err != nil {
		return err
	}
	defer res.Annotated.Close()

	f := Frame{Image: res.Annotated, Detections: res.Detections, Recognitions: res.Recognitions}
	for _, p := range s.presenters {
		if err := p.Show(f); err != nil {
			return fmt.Errorf("presenter failed: %w", err)
		}
	}
	return nil
}

// mergeEvents fans every presenter's event channel into one.
func (s *Session) mergeEvents() (<-chan Event, func()) {
	out := make(chan Event)
	done := make(chan struct{})
	var wg sync.WaitGroup

	for _, p := range s.presenters {
		wg.Add(1)
		go func(in <-chan Event) {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				case ev, ok := <-in:
					if !ok {
						return
					}
					select {
					case out <- ev:
					case <-done:
						reject(ev)
						return
					}
				}
			}
		}(p.Events())
	}

	return out, func() {
		close(done)
		wg.Wait()
	}
}

// reject answers an event the session will never handle.
func reject(ev Event) {
	if ev.Reply == nil {
		return
	}
	select {
	case ev.Reply <- Reply{Err: ErrStopped}:
	default:
	}
}

// Package web is a browser presenter: an MJPEG stream of annotated frames plus a small
// JSON API that forwards clicks, names and training requests to the viewer session.
package web

import (
	"context"
	_ "embed"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/andresmejia3/lookout/internal/classifier"
	"github.com/andresmejia3/lookout/internal/gallery"
	"github.com/andresmejia3/lookout/internal/viewer"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

//go:embed index.html
var indexPage []byte

const boundary = "frame"

// NameLister supplies the known person names for autocomplete.
type NameLister interface {
	ListNames() ([]string, error)
}

// Face is one detection of the current frame as reported by /api/detections.
type Face struct {
	StartX      int     `json:"start_x"`
	StartY      int     `json:"start_y"`
	EndX        int     `json:"end_x"`
	EndY        int     `json:"end_y"`
	Confidence  float64 `json:"confidence"`
	Label       string  `json:"label"`
	Probability float64 `json:"probability"`
}

// Server implements viewer.Presenter over HTTP.
type Server struct {
	engine *gin.Engine
	srv    *http.Server
	events chan viewer.Event
	names  NameLister

	mu     sync.RWMutex
	jpeg   []byte
	faces  []Face
	update chan struct{} // closed and replaced on every new frame

	closeOnce sync.Once
	closed    chan struct{}
}

// New builds the server. Call Start to listen on addr.
func New(addr string, names NameLister) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		events: make(chan viewer.Event),
		names:  names,
		faces:  []Face{},
		update: make(chan struct{}),
		closed: make(chan struct{}),
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/", s.index)
	router.GET("/stream", s.stream)
	router.GET("/frame.jpg", s.frame)

	api := router.Group("/api")
	api.GET("/detections", s.detections)
	api.GET("/names", s.listNames)
	api.POST("/name", s.setName)
	api.DELETE("/name", s.clearName)
	api.POST("/click", s.click)
	api.POST("/train", s.train)

	s.engine = router
	s.srv = &http.Server{Addr: addr, Handler: router}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens in the background. Listener errors other than a clean shutdown are logged.
func (s *Server) Start() {
	go func() {
		log.WithField("addr", s.srv.Addr).Info("Web viewer listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("Web viewer stopped")
		}
	}()
}

// Show encodes the frame as JPEG and wakes every stream client.
func (s *Server) Show(f viewer.Frame) error {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, f.Image)
	if err != nil {
		return err
	}
	jpeg := append([]byte(nil), buf.GetBytes()...)
	buf.Close()

	faces := make([]Face, 0, len(f.Detections))
	for i, d := range f.Detections {
		face := Face{
			StartX:     d.Box.Min.X,
			StartY:     d.Box.Min.Y,
			EndX:       d.Box.Max.X,
			EndY:       d.Box.Max.Y,
			Confidence: d.Confidence,
		}
		if i < len(f.Recognitions) {
			face.Label = f.Recognitions[i].Label
			face.Probability = f.Recognitions[i].Probability
		}
		faces = append(faces, face)
	}

	s.mu.Lock()
	s.jpeg = jpeg
	s.faces = faces
	close(s.update)
	s.update = make(chan struct{})
	s.mu.Unlock()
	return nil
}

// Events returns the channel the session reads browser actions from.
func (s *Server) Events() <-chan viewer.Event {
	return s.events
}

// Close shuts the HTTP server down, giving open requests a moment to finish.
func (s *Server) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

func (s *Server) current() ([]byte, []Face, <-chan struct{}) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jpeg, s.faces, s.update
}

// send hands ev to the session and waits for its reply or for the client to go away.
func (s *Server) send(c *gin.Context, ev viewer.Event) (viewer.Reply, bool) {
	reply := make(chan viewer.Reply, 1)
	ev.Reply = reply

	ctx := c.Request.Context()
	select {
	case s.events <- ev:
	case <-ctx.Done():
		return viewer.Reply{}, false
	case <-s.closed:
		return viewer.Reply{Err: viewer.ErrStopped}, true
	}
	select {
	case r := <-reply:
		return r, true
	case <-ctx.Done():
		return viewer.Reply{}, false
	case <-s.closed:
		return viewer.Reply{Err: viewer.ErrStopped}, true
	}
}

func (s *Server) index(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", indexPage)
}

func (s *Server) frame(c *gin.Context) {
	jpeg, _, _ := s.current()
	if jpeg == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no frame yet"})
		return
	}
	c.Data(http.StatusOK, "image/jpeg", jpeg)
}

func (s *Server) stream(c *gin.Context) {
	c.Header("Content-Type", "multipart/x-mixed-replace; boundary="+boundary)
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)

	ctx := c.Request.Context()
	for {
		jpeg, _, next := s.current()
		if jpeg != nil {
			if _, err := io.WriteString(c.Writer, "--"+boundary+"\r\nContent-Type: image/jpeg\r\n\r\n"); err != nil {
				return
			}
			if _, err := c.Writer.Write(jpeg); err != nil {
				return
			}
			if _, err := io.WriteString(c.Writer, "\r\n"); err != nil {
				return
			}
			c.Writer.Flush()
		}

		select {
		case <-ctx.Done():
			return
		case <-s.closed:
			return
		case <-next:
		}
	}
}

func (s *Server) detections(c *gin.Context) {
	_, faces, _ := s.current()
	c.JSON(http.StatusOK, faces)
}

func (s *Server) listNames(c *gin.Context) {
	names, err := s.names.ListNames()
	if err != nil {
		log.WithError(err).Error("Couldn't list names")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "couldn't list names"})
		return
	}
	c.JSON(http.StatusOK, names)
}

type nameRequest struct {
	Name string `json:"name" binding:"required"`
}

func (s *Server) setName(c *gin.Context) {
	var req nameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	r, ok := s.send(c, viewer.Event{Kind: viewer.SetName, Name: req.Name})
	if !ok {
		return
	}
	if r.Err != nil {
		c.JSON(statusFor(r.Err), gin.H{"error": r.Err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": r.Name})
}

func (s *Server) clearName(c *gin.Context) {
	r, ok := s.send(c, viewer.Event{Kind: viewer.ClearName})
	if !ok {
		return
	}
	if r.Err != nil {
		c.JSON(statusFor(r.Err), gin.H{"error": r.Err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

type clickRequest struct {
	X *int `json:"x" binding:"required"`
	Y *int `json:"y" binding:"required"`
}

func (s *Server) click(c *gin.Context) {
	var req clickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	r, ok := s.send(c, viewer.Event{Kind: viewer.Click, X: *req.X, Y: *req.Y})
	if !ok {
		return
	}
	if r.Err != nil {
		c.JSON(statusFor(r.Err), gin.H{"error": r.Err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"hit": r.Hit, "path": r.Path})
}

func (s *Server) train(c *gin.Context) {
	r, ok := s.send(c, viewer.Event{Kind: viewer.Train})
	if !ok {
		return
	}
	if r.Err != nil {
		c.JSON(statusFor(r.Err), gin.H{"error": r.Err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"examples": r.Stats.Examples,
		"skipped":  r.Stats.Skipped,
		"people":   r.Stats.People,
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, viewer.ErrNameRequired):
		return http.StatusConflict
	case errors.Is(err, gallery.ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, classifier.ErrInvalidTrainingSet):
		return http.StatusUnprocessableEntity
	case errors.Is(err, viewer.ErrStopped):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Request.URL.Path == "/stream" {
			return
		}
		log.WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start),
		}).Debug("Request")
	}
}

var _ viewer.Presenter = (*Server)(nil)

// Package recorder owns the microphone capture lifecycle: acquiring the
// capture device, accumulating audio while recording, and releasing every
// track when recording stops.
package recorder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the recording lifecycle position.
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StateStopping  State = "stopping"
)

// ErrAlreadyRecording is returned by Start while a recording is being
// acquired, running or finalized.
var ErrAlreadyRecording = errors.New("recorder: already recording")

// ErrClosed is returned by Start when Stop or Close was called while the
// device was still being acquired. The acquired tracks are released.
var ErrClosed = errors.New("recorder: closed while acquiring")

// DeviceError reports that the capture device is unavailable or access
// was denied.
type DeviceError struct {
	Device string
	Err    error
}

func (e *DeviceError) Error() string {
	if e.Device == "" {
		return fmt.Sprintf("capture device: %v", e.Err)
	}
	return fmt.Sprintf("capture device %s: %v", e.Device, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// Track is one acquired input track.
type Track interface {
	Stop() error
	Stopped() bool
}

// Stream is an opened capture: audio bytes arrive on Reader until every
// track is stopped, after which Reader reaches EOF.
type Stream struct {
	Reader   io.Reader
	Tracks   []Track
	MIMEType string
}

// Device opens capture streams.
type Device interface {
	Open(ctx context.Context) (*Stream, error)
}

// Audio is a finalized recording.
type Audio struct {
	Data     []byte
	MIMEType string
	Duration time.Duration
}

// Empty reports whether no audio was captured.
func (a Audio) Empty() bool { return len(a.Data) == 0 }

const (
	chunkSize = 16 * 1024
	// drainTimeout bounds how long Stop waits for buffered audio after
	// the tracks are stopped.
	drainTimeout = 2 * time.Second
)

// Controller records one session at a time from a Device.
type Controller struct {
	device  Device
	logger  *zap.Logger
	handler func(Audio)
	now     func() time.Time

	mu        sync.Mutex
	state     State
	acquiring bool
	abandoned bool
	stream    *Stream
	chunks    [][]byte
	drained   chan struct{}
	started   time.Time
	observers []func(State)
}

// Option configures a Controller.
type Option func(*Controller)

// WithHandler receives every non-empty recording finalized by Stop.
func WithHandler(fn func(Audio)) Option { return func(c *Controller) { c.handler = fn } }

// WithLogger sets the controller logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithObserver is called after every state change.
func WithObserver(fn func(State)) Option {
	return func(c *Controller) { c.observers = append(c.observers, fn) }
}

// New returns an idle Controller.
func New(device Device, opts ...Option) *Controller {
	c := &Controller{
		device: device,
		logger: zap.NewNop(),
		now:    time.Now,
		state:  StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnChange registers an observer after construction.
func (c *Controller) OnChange(fn func(State)) {
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start acquires the device and begins recording. A device failure is
// returned as a *DeviceError and leaves the controller idle.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle || c.acquiring {
		c.mu.Unlock()
		return ErrAlreadyRecording
	}
	c.acquiring = true
	c.mu.Unlock()

	stream, err := c.device.Open(ctx)

	c.mu.Lock()
	c.acquiring = false
	abandoned := c.abandoned
	c.abandoned = false
	if err == nil && abandoned {
		c.mu.Unlock()
		c.release(stream)
		c.logger.Debug("capture released after close during acquisition")
		return ErrClosed
	}
	if err != nil {
		c.mu.Unlock()
		var de *DeviceError
		if !errors.As(err, &de) {
			err = &DeviceError{Err: err}
		}
		c.logger.Warn("capture device unavailable", zap.Error(err))
		return err
	}
	drained := make(chan struct{})
	c.state = StateRecording
	c.stream = stream
	c.chunks = nil
	c.drained = drained
	c.started = c.now()
	c.mu.Unlock()

	go c.accumulate(stream.Reader, drained)
	c.logger.Debug("recording started", zap.Int("tracks", len(stream.Tracks)))
	c.notify(StateRecording)
	return nil
}

// Stop finalizes the current recording, releases every track and returns
// to idle. The finalized audio is returned and passed to the handler. It
// is a no-op returning empty audio when not recording.
func (c *Controller) Stop() (Audio, error) {
	return c.stop(true)
}

// Close releases the device without forwarding the recording. Called
// while Start is still acquiring, the device is released as soon as it
// opens.
func (c *Controller) Close() error {
	_, err := c.stop(false)
	return err
}

// release stops every track of a stream nobody will record from and
// discards whatever it still produces.
func (c *Controller) release(stream *Stream) {
	for _, t := range stream.Tracks {
		if err := t.Stop(); err != nil {
			c.logger.Warn("release capture track", zap.Error(err))
		}
	}
	if stream.Reader != nil {
		go func() { _, _ = io.Copy(io.Discard, stream.Reader) }()
	}
}

func (c *Controller) stop(forward bool) (Audio, error) {
	c.mu.Lock()
	if c.acquiring {
		c.abandoned = true
	}
	if c.state != StateRecording {
		c.mu.Unlock()
		return Audio{}, nil
	}
	c.state = StateStopping
	stream, drained, started := c.stream, c.drained, c.started
	c.mu.Unlock()
	c.notify(StateStopping)

	var errs []error
	for _, t := range stream.Tracks {
		if err := t.Stop(); err != nil {
			errs = append(errs, err)
		}
	}

	select {
	case <-drained:
	case <-time.After(drainTimeout):
		c.logger.Warn("capture stream did not close after stop")
	}

	c.mu.Lock()
	audio := Audio{
		Data:     bytes.Join(c.chunks, nil),
		MIMEType: stream.MIMEType,
		Duration: c.now().Sub(started),
	}
	c.chunks = nil
	c.stream = nil
	c.state = StateIdle
	c.mu.Unlock()
	c.notify(StateIdle)

	c.logger.Debug("recording stopped", zap.Int("bytes", len(audio.Data)), zap.Duration("duration", audio.Duration))
	if forward && c.handler != nil && !audio.Empty() {
		c.handler(audio)
	}
	return audio, errors.Join(errs...)
}

func (c *Controller) accumulate(r io.Reader, drained chan struct{}) {
	defer close(drained)
	buf := make([]byte, chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			c.mu.Lock()
			if c.drained == drained {
				c.chunks = append(c.chunks, chunk)
			}
			c.mu.Unlock()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.logger.Warn("capture stream read failed", zap.Error(err))
			}
			return
		}
	}
}

func (c *Controller) notify(s State) {
	c.mu.Lock()
	observers := make([]func(State), len(c.observers))
	copy(observers, c.observers)
	c.mu.Unlock()
	for _, fn := range observers {
		fn(s)
	}
}

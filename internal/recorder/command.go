package recorder

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultCaptureCommand records 16 kHz mono WAV to stdout with ALSA.
var DefaultCaptureCommand = []string{"arecord", "-q", "-f", "S16_LE", "-r", "16000", "-c", "1", "-t", "wav", "-"}

// ErrNoCaptureCommand is wrapped in a DeviceError when no command is configured.
var ErrNoCaptureCommand = errors.New("no capture command configured")

// stopGrace is how long a capture process gets to exit after an interrupt.
const stopGrace = time.Second

// CommandDevice captures audio from an external program that writes the
// recording to stdout (arecord, sox, ffmpeg). Each opened process is one
// track.
type CommandDevice struct {
	argv     []string
	mimeType string
	logger   *zap.Logger
}

// NewCommandDevice returns a device running argv. mimeType describes what
// the program writes; empty means audio/wav.
func NewCommandDevice(argv []string, mimeType string, logger *zap.Logger) *CommandDevice {
	if mimeType == "" {
		mimeType = "audio/wav"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommandDevice{argv: argv, mimeType: mimeType, logger: logger}
}

// Open starts the capture program.
func (d *CommandDevice) Open(ctx context.Context) (*Stream, error) {
	if len(d.argv) == 0 {
		return nil, &DeviceError{Err: ErrNoCaptureCommand}
	}
	name := d.argv[0]
	if err := ctx.Err(); err != nil {
		return nil, &DeviceError{Device: name, Err: err}
	}
	if _, err := exec.LookPath(name); err != nil {
		return nil, &DeviceError{Device: name, Err: err}
	}

	pr, pw := io.Pipe()
	cmd := exec.Command(name, d.argv[1:]...)
	cmd.Stdout = pw
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		pw.Close()
		return nil, &DeviceError{Device: name, Err: err}
	}

	t := &processTrack{cmd: cmd, exited: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		if err != nil && !t.stopped.Load() {
			d.logger.Warn("capture process exited",
				zap.String("command", name),
				zap.Error(err),
				zap.String("stderr", strings.TrimSpace(stderr.String())))
		}
		pw.Close()
		close(t.exited)
	}()

	d.logger.Debug("capture process started", zap.String("command", name), zap.Int("pid", cmd.Process.Pid))
	return &Stream{Reader: pr, Tracks: []Track{t}, MIMEType: d.mimeType}, nil
}

type processTrack struct {
	cmd     *exec.Cmd
	exited  chan struct{}
	once    sync.Once
	stopped atomic.Bool
	err     error
}

// Stop interrupts the process so it can flush, killing it if it does not
// exit within stopGrace.
func (t *processTrack) Stop() error {
	t.once.Do(func() {
		t.stopped.Store(true)
		select {
		case <-t.exited:
			return
		default:
		}
		if err := t.cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
			t.err = err
		}
		select {
		case <-t.exited:
		case <-time.After(stopGrace):
			if err := t.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				t.err = err
			}
			<-t.exited
		}
	})
	return t.err
}

func (t *processTrack) Stopped() bool {
	select {
	case <-t.exited:
		return t.stopped.Load()
	default:
		return false
	}
}

package transcribe

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"
)

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("transcribe: engine closed")

// LocalConfig configures the local worker.
type LocalConfig struct {
	// Python is the interpreter that has faster-whisper installed.
	Python  string
	Options Options
	// Timeout bounds one Transcribe call. A call that runs over kills the
	// worker; the next call starts a fresh one.
	Timeout time.Duration
	// StartTimeout bounds model loading (which may include a download).
	StartTimeout time.Duration
	// Command, if set, replaces "<Python> <script> --serve <options>".
	// Tests point it at a fake worker.
	Command []string
	// Env is appended to the server's environment.
	Env []string
}

// Local runs faster-whisper in a single long-lived Python process so the
// model is loaded once. Requests go over the process's stdin/stdout, one
// JSON line each way, so calls take turns on a one-slot semaphore.
type Local struct {
	cfg    LocalConfig
	logger *slog.Logger

	scriptPath string

	// slot is held by whoever talks to w; a waiting caller can give up.
	slot   chan struct{}
	w      *worker
	nextID int64
	closed bool
}

type worker struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	exited chan struct{}
}

type request struct {
	ID    int64  `json:"id"`
	Audio string `json:"audio"`
}

// NewLocal writes the helper script to a temp file, starts the worker and
// waits until it reports the model is loaded.
func NewLocal(ctx context.Context, cfg LocalConfig, logger *slog.Logger) (*Local, error) {
	if cfg.Python == "" {
		cfg.Python = "python3"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 10 * time.Minute
	}

	l := &Local{cfg: cfg, logger: logger, slot: make(chan struct{}, 1)}

	if len(cfg.Command) == 0 {
		f, err := os.CreateTemp("", "voice-notes-whisper-*.py")
		if err != nil {
			return nil, fmt.Errorf("transcribe: creating helper script: %w", err)
		}
		_, werr := f.WriteString(Script)
		cerr := f.Close()
		if werr != nil || cerr != nil {
			os.Remove(f.Name())
			return nil, fmt.Errorf("transcribe: writing helper script: %w", errors.Join(werr, cerr))
		}
		l.scriptPath = f.Name()
	}

	l.slot <- struct{}{}
	defer l.release()
	if err := l.start(ctx); err != nil {
		l.removeScript()
		return nil, err
	}

	return l, nil
}

// Transcribe sends one file to the worker and waits for its answer. The
// call timeout starts before the call queues for the worker, so time spent
// waiting behind other uploads counts against it.
func (l *Local) Transcribe(ctx context.Context, audioPath string) (*Result, error) {
	abs, err := filepath.Abs(audioPath)
	if err != nil {
		return nil, fmt.Errorf("transcribe: resolving %s: %w", audioPath, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	if err := l.acquire(callCtx); err != nil {
		return nil, fmt.Errorf("transcribe: waiting for worker: %w", err)
	}
	defer l.release()

	if l.closed {
		return nil, ErrClosed
	}
	if l.w == nil {
		l.logger.Warn("whisper worker not running, restarting")
		if err := l.start(callCtx); err != nil {
			return nil, err
		}
	}

	l.nextID++
	id := l.nextID
	line, err := json.Marshal(request{ID: id, Audio: abs})
	if err != nil {
		return nil, fmt.Errorf("transcribe: encoding request: %w", err)
	}
	line = append(line, '\n')

	type reply struct {
		data []byte
		err  error
	}
	replies := make(chan reply, 1)
	w := l.w
	go func() {
		if _, err := w.stdin.Write(line); err != nil {
			replies <- reply{err: fmt.Errorf("writing request: %w", err)}
			return
		}
		data, err := w.stdout.ReadBytes('\n')
		if err != nil {
			err = fmt.Errorf("reading response: %w", err)
		}
		replies <- reply{data: data, err: err}
	}()

	start := time.Now()
	select {
	case r := <-replies:
		if r.err != nil {
			l.stop()
			return nil, fmt.Errorf("transcribe: worker died: %w", r.err)
		}

		var envelope struct {
			ID *int64 `json:"id"`
		}
		if err := json.Unmarshal(r.data, &envelope); err != nil || envelope.ID == nil || *envelope.ID != id {
			// The pipe is out of step; start over.
			l.stop()
			return nil, fmt.Errorf("transcribe: worker answered out of order")
		}

		result, err := ParseOutput(r.data)
		if err != nil {
			return nil, err
		}
		l.logger.Debug("transcribed",
			slog.String("audio", filepath.Base(abs)),
			slog.Int("segments", len(result.Segments)),
			slog.Duration("took", time.Since(start)),
		)
		return result, nil

	case <-callCtx.Done():
		// The worker is still busy with this file; the only way to get the
		// pipe back in step is to replace it.
		l.stop()
		return nil, fmt.Errorf("transcribe: %w", callCtx.Err())
	}
}

// Close stops the worker. It is safe to call more than once.
func (l *Local) Close() error {
	l.slot <- struct{}{}
	defer l.release()

	if l.closed {
		return nil
	}
	l.closed = true

	if l.w != nil {
		// Closing stdin ends the serve loop; kill only if it does not exit.
		l.w.stdin.Close()
		select {
		case <-l.w.exited:
		case <-time.After(5 * time.Second):
			l.w.cmd.Process.Kill()
			<-l.w.exited
		}
		l.w = nil
	}

	l.removeScript()
	return nil
}

// start launches a worker and waits for its ready line. The slot must be held.
func (l *Local) start(ctx context.Context) error {
	args := l.cfg.Command
	if len(args) == 0 {
		args = append([]string{l.cfg.Python, l.scriptPath, "--serve"}, l.cfg.Options.Args()...)
	}

	// Not CommandContext: the worker outlives the call that starts it.
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Env = append(os.Environ(), l.cfg.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("transcribe: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("transcribe: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("transcribe: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("transcribe: starting worker %s: %w", args[0], err)
	}

	w := &worker{
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
		exited: make(chan struct{}),
	}

	var stderrDone sync.WaitGroup
	stderrDone.Add(1)
	go func() {
		defer stderrDone.Done()
		l.logStderr(stderr)
	}()
	go func() {
		// Wait must not run before stderr is drained.
		stderrDone.Wait()
		err := cmd.Wait()
		l.logger.Info("whisper worker exited", slog.Int("pid", cmd.Process.Pid), slog.Any("status", err))
		close(w.exited)
	}()

	l.logger.Info("starting whisper worker",
		slog.Int("pid", cmd.Process.Pid),
		slog.String("model", l.cfg.Options.Model),
		slog.String("device", l.cfg.Options.Device),
	)

	ready := make(chan error, 1)
	go func() {
		data, err := w.stdout.ReadBytes('\n')
		if err != nil {
			ready <- fmt.Errorf("worker exited before becoming ready: %w", err)
			return
		}
		var msg struct {
			Ready bool   `json:"ready"`
			Error string `json:"error"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			ready <- fmt.Errorf("unexpected first line %q", data)
			return
		}
		if !msg.Ready {
			ready <- fmt.Errorf("%w: %s", ErrEngine, msg.Error)
			return
		}
		ready <- nil
	}()

	startCtx, cancel := context.WithTimeout(ctx, l.cfg.StartTimeout)
	defer cancel()

	select {
	case err := <-ready:
		if err != nil {
			l.w = w
			l.stop()
			return fmt.Errorf("transcribe: starting worker: %w", err)
		}
	case <-startCtx.Done():
		l.w = w
		l.stop()
		return fmt.Errorf("transcribe: waiting for worker: %w", startCtx.Err())
	}

	l.w = w
	l.logger.Info("whisper worker ready", slog.Int("pid", cmd.Process.Pid))
	return nil
}

// stop kills the current worker and waits for it. The slot must be held.
func (l *Local) stop() {
	if l.w == nil {
		return
	}
	l.w.cmd.Process.Kill()
	<-l.w.exited
	l.w = nil
}

func (l *Local) logStderr(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		l.logger.Debug("whisper worker", slog.String("stderr", sc.Text()))
	}
	if err := sc.Err(); err != nil {
		l.logger.Warn("whisper worker stderr not logged", slog.String("error", err.Error()))
	}
	// Keep the pipe drained so the worker never blocks writing to it.
	_, _ = io.Copy(io.Discard, r)
}

// acquire takes the worker slot, giving up when ctx is done.
func (l *Local) acquire(ctx context.Context) error {
	select {
	case l.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Local) release() {
	<-l.slot
}

func (l *Local) removeScript() {
	if l.scriptPath != "" {
		os.Remove(l.scriptPath)
	}
}

// Package docker runs the faster-whisper helper inside pre-warmed Docker
// containers. Each call `docker exec`s the helper in one-shot mode against
// the uploads directory, which is bind-mounted read-only.
package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/sakif/voice-notes/internal/transcribe"
)

// compile-time check
var _ transcribe.Engine = (*Engine)(nil)

// Engine implements transcribe.Engine using Docker.
type Engine struct {
	cli    *client.Client
	config Config
	logger *slog.Logger
	pool   *Pool
}

// New connects to the Docker daemon (DOCKER_HOST etc. from the
// environment), makes sure the image exists locally and starts the pool.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Engine, error) {
	var err error
	if cfg.AudioDir, err = filepath.Abs(cfg.AudioDir); err != nil {
		return nil, fmt.Errorf("resolving audio dir: %w", err)
	}
	if cfg.ModelCache, err = filepath.Abs(cfg.ModelCache); err != nil {
		return nil, fmt.Errorf("resolving model cache: %w", err)
	}
	if err := os.MkdirAll(cfg.ModelCache, 0o755); err != nil {
		return nil, fmt.Errorf("creating model cache: %w", err)
	}
	if err := shareModelCache(cfg.ModelCache); err != nil {
		return nil, err
	}
	if cfg.User == "" {
		cfg.User = DefaultConfig().User
	}
	if cfg.PoolSize < 1 {
		cfg.PoolSize = 1
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	if err := ensureImage(ctx, cli, cfg.Image, logger); err != nil {
		cli.Close()
		return nil, err
	}

	e := &Engine{
		cli:    cli,
		config: cfg,
		logger: logger,
	}
	e.pool = NewPool(cli, cfg, logger)
	e.pool.Start()

	return e, nil
}

// shareModelCache opens the cache directory to the unprivileged container
// user, with the sticky bit set as on /tmp.
func shareModelCache(dir string) error {
	if err := os.Chmod(dir, 0o777|os.ModeSticky); err != nil {
		return fmt.Errorf("opening model cache to the container user: %w", err)
	}
	return nil
}

// ensureImage pulls the image only if the daemon does not have it, so
// locally built images (deploy/whisper/Dockerfile) work offline.
func ensureImage(ctx context.Context, cli *client.Client, ref string, logger *slog.Logger) error {
	_, err := cli.ImageInspect(ctx, ref)
	if err == nil {
		logger.Info("docker image present", slog.String("image", ref))
		return nil
	}
	if !cerrdefs.IsNotFound(err) {
		return fmt.Errorf("inspecting image %s: %w", ref, err)
	}

	pullCtx, cancel := context.WithTimeout(ctx, 15*time.Minute)
	defer cancel()

	logger.Info("pulling docker image", slog.String("image", ref))
	reader, err := cli.ImagePull(pullCtx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	defer reader.Close()
	// The pull finishes when the progress stream ends.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("pulling image %s: %w", ref, err)
	}
	logger.Info("docker image is ready", slog.String("image", ref))
	return nil
}

// Close shuts down the pool and the docker client.
func (e *Engine) Close() error {
	e.pool.Stop()
	return e.cli.Close()
}

// Transcribe runs the helper on audioPath, which must be inside the
// configured audio directory.
func (e *Engine) Transcribe(ctx context.Context, audioPath string) (*transcribe.Result, error) {
	inside, err := containerPath(e.config.AudioDir, audioPath)
	if err != nil {
		return nil, err
	}

	start := time.Now()

	// The deadline covers waiting for a container as well as the exec.
	execCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	containerID, err := e.pool.Get(execCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container from pool: %w", err)
	}

	healthy := false
	defer func() {
		if healthy {
			e.pool.Put(containerID)
		} else {
			e.pool.Discard(containerID)
		}
	}()

	execResp, err := e.cli.ContainerExecCreate(execCtx, containerID, container.ExecOptions{
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          execCmd(inside, e.config.Options),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create exec: %w", err)
	}

	attachResp, err := e.cli.ContainerExecAttach(execCtx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to attach to exec: %w", err)
	}
	defer attachResp.Close()

	var stdout, stderr bytes.Buffer
	done := make(chan struct{})
	go func() {
		// The exec stream multiplexes stdout and stderr.
		_, _ = stdcopy.StdCopy(&stdout, &stderr, attachResp.Reader)
		close(done)
	}()

	select {
	case <-done:
	case <-execCtx.Done():
		// The container still runs the helper; it is discarded, not reused.
		return nil, fmt.Errorf("transcribe: %w", execCtx.Err())
	}

	inspect, err := e.cli.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect exec: %w", err)
	}

	if stderr.Len() > 0 {
		e.logger.Debug("whisper container", slog.String("stderr", strings.TrimSpace(stderr.String())))
	}

	result, err := transcribe.ParseOutput(lastLine(stdout.Bytes()))
	if err != nil {
		// A clean engine error (bad audio) leaves the container usable.
		healthy = errors.Is(err, transcribe.ErrEngine)
		if inspect.ExitCode != 0 && !healthy {
			return nil, fmt.Errorf("transcribe: helper exited with %d: %s", inspect.ExitCode, strings.TrimSpace(stderr.String()))
		}
		return nil, err
	}

	healthy = true
	e.logger.Debug("transcribed in container",
		slog.String("container", shortID(containerID)),
		slog.String("audio", filepath.Base(audioPath)),
		slog.Duration("took", time.Since(start)),
	)
	return result, nil
}

// containerPath maps a host path under audioDir to its path inside the
// container.
func containerPath(audioDir, audioPath string) (string, error) {
	abs, err := filepath.Abs(audioPath)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", audioPath, err)
	}
	rel, err := filepath.Rel(audioDir, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("transcribe: %s is outside the audio directory %s", audioPath, audioDir)
	}
	return containerAudioDir + "/" + filepath.ToSlash(rel), nil
}

func execCmd(inside string, opts transcribe.Options) []string {
	cmd := []string{"python", "-c", transcribe.Script, "--audio", inside, "--download-root", containerModelDir}
	return append(cmd, opts.Args()...)
}

func lastLine(b []byte) []byte {
	b = bytes.TrimSpace(b)
	if i := bytes.LastIndexByte(b, '\n'); i >= 0 {
		return b[i+1:]
	}
	return b
}

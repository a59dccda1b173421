package docker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
)

// Pool keeps PoolSize containers running `sleep infinity`, ready for
// `docker exec`. A container that served a call cleanly goes back into the
// pool; one that timed out or failed is removed and replaced.
type Pool struct {
	cli        *client.Client
	config     Config
	logger     *slog.Logger
	containers chan string
	done       chan struct{}
	wg         sync.WaitGroup
	startOnce  sync.Once
	stopOnce   sync.Once
}

// NewPool initializes a new container pool. cfg paths must be absolute.
func NewPool(cli *client.Client, cfg Config, logger *slog.Logger) *Pool {
	return &Pool{
		cli:        cli,
		config:     cfg,
		logger:     logger,
		containers: make(chan string, cfg.PoolSize),
		done:       make(chan struct{}),
	}
}

// Start begins filling the pool in the background.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		p.logger.Info("starting whisper container pool", slog.Int("poolSize", p.config.PoolSize))
		p.wg.Add(1)
		go p.manager()
	})
}

// Stop shuts down the manager and removes every pooled container.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.logger.Info("shutting down whisper container pool")
		close(p.done)
		p.wg.Wait()

		for {
			select {
			case id := <-p.containers:
				p.Discard(id)
			default:
				return
			}
		}
	})
}

// Get returns a ready container ID. It blocks until one is available or
// ctx is done.
func (p *Pool) Get(ctx context.Context) (string, error) {
	select {
	case id := <-p.containers:
		return id, nil
	case <-p.done:
		return "", fmt.Errorf("container pool stopped")
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Put returns a healthy container to the pool. If the pool is full or
// stopping, the container is removed instead.
func (p *Pool) Put(id string) {
	select {
	case <-p.done:
		p.Discard(id)
		return
	default:
	}

	select {
	case p.containers <- id:
	default:
		p.Discard(id)
	}
}

// Discard force-removes a container.
func (p *Pool) Discard(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := p.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		p.logger.Error("failed to remove container", slog.String("id", shortID(id)), slog.String("error", err.Error()))
	}
}

// manager keeps the pool at capacity. Containers handed out by Get do not
// count, so a busy pool temporarily runs more than PoolSize; Put trims the
// excess.
func (p *Pool) manager() {
	defer p.wg.Done()

	for {
		select {
		case <-p.done:
			return
		default:
		}

		if len(p.containers) >= cap(p.containers) {
			select {
			case <-p.done:
				return
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}

		id, err := p.createContainer()
		if err != nil {
			p.logger.Error("failed to create pre-warmed container", slog.String("error", err.Error()))
			select {
			case <-p.done:
				return
			case <-time.After(2 * time.Second):
			}
			continue
		}

		select {
		case p.containers <- id:
			p.logger.Debug("container ready", slog.String("id", shortID(id)))
		case <-p.done:
			p.Discard(id)
			return
		}
	}
}

func (p *Pool) createContainer() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := p.cli.ContainerCreate(ctx, containerConfig(p.config), hostConfig(p.config), nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("ContainerCreate failed: %w", err)
	}

	if err := p.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		p.Discard(resp.ID)
		return "", fmt.Errorf("ContainerStart failed: %w", err)
	}

	return resp.ID, nil
}

func containerConfig(cfg Config) *container.Config {
	return &container.Config{
		Image: cfg.Image,
		User:  cfg.User,
		Cmd:   []string{"sleep", "infinity"},
		Env: []string{
			"HF_HOME=" + containerModelDir,
			"PYTHONUNBUFFERED=1",
		},
		Labels: map[string]string{"app": "voice-notes-whisper"},
	}
}

// hostConfig mounts uploads read-only and the model cache read-write; the
// rest of the filesystem is read-only apart from /tmp.
func hostConfig(cfg Config) *container.HostConfig {
	return &container.HostConfig{
		NetworkMode: container.NetworkMode(cfg.Network),
		Resources: container.Resources{
			Memory:   cfg.MemoryLimit,
			NanoCPUs: int64(cfg.CPULimit * 1e9),
		},
		Mounts: []mount.Mount{
			{Type: mount.TypeBind, Source: cfg.AudioDir, Target: containerAudioDir, ReadOnly: true},
			{Type: mount.TypeBind, Source: cfg.ModelCache, Target: containerModelDir},
		},
		Tmpfs:          map[string]string{"/tmp": "rw,size=256m"},
		ReadonlyRootfs: true,
		AutoRemove:     false,
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

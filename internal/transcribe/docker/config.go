package docker

import (
	"time"

	"github.com/sakif/voice-notes/internal/transcribe"
)

// Mount points inside the worker containers.
const (
	containerAudioDir = "/audio"
	containerModelDir = "/models"
)

// Config holds the configuration for the Docker runtime.
type Config struct {
	// Image must have python and faster-whisper installed
	// (see deploy/whisper/Dockerfile).
	Image string
	// AudioDir is the host uploads directory, mounted read-only.
	AudioDir string
	// ModelCache is a host directory for downloaded models so they survive
	// container replacement.
	ModelCache string
	// User runs the helper inside the container, as "uid:gid". The model
	// cache is made writable for it.
	User string
	// MemoryLimit is the maximum amount of memory per container (in bytes).
	MemoryLimit int64
	// CPULimit is the number of CPUs per container.
	CPULimit float64
	// Network is the container network mode. The first run needs network
	// access to download the model.
	Network string
	// Timeout bounds one transcription.
	Timeout time.Duration
	// PoolSize is the number of pre-warmed containers to maintain.
	PoolSize int
	Options  transcribe.Options
}

// DefaultConfig is sized for the "base" model on CPU.
func DefaultConfig() Config {
	return Config{
		Image:       "voice-notes-whisper:latest",
		AudioDir:    "uploads",
		ModelCache:  "data/models",
		User:        "65534:65534",
		MemoryLimit: 2048 * 1024 * 1024,
		CPULimit:    2,
		Network:     "bridge",
		Timeout:     10 * time.Minute,
		PoolSize:    1,
		Options:     transcribe.DefaultOptions(),
	}
}

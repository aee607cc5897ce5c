// Package endpoint manages connections to remote container-daemon hosts:
// liveness, stats, and the container lifecycle the Dispatcher drives a job
// through. Endpoints are owned by a Pool; callers never hold a raw client.
// They get *Endpoint values from the pool (All, Get, Choose) and call the
// endpoint's methods directly; in-flight slots are taken only through
// Choose.
package endpoint

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// EndpointId is an opaque handle callers use to address a pooled endpoint.
type EndpointId string

// Config describes one endpoint's connection requirements: its daemon
// address plus the images and daemon/API versions it must support.
type Config struct {
	Name                string
	Host                string
	RequiredImages      []string
	RequiredDockerVers  []string
	RequiredAPIVersions []string
	MaxInFlight         int
}

// Stats mirrors the per-endpoint health snapshot the Dispatcher and CLI
// surface to operators.
type Stats struct {
	Name          string
	Containers    int
	Images        int
	KernelVersion string
	MemTotal      int64
	MemoryLimit   bool
	NCPU          int
	OS            string
	SystemTime    string
}

// Endpoint wraps one container-daemon client plus its declared
// capabilities and in-flight bookkeeping.
type Endpoint struct {
	id     EndpointId
	cfg    Config
	client *client.Client

	mu       sync.Mutex
	inFlight int
}

// Ping is the liveness probe.
func (e *Endpoint) Ping(ctx context.Context) error {
	_, err := e.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("endpoint %s: ping: %w", e.cfg.Name, err)
	}
	return nil
}

// Stats reports the endpoint's current daemon info.
func (e *Endpoint) Stats(ctx context.Context) (Stats, error) {
	info, err := e.client.Info(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("endpoint %s: info: %w", e.cfg.Name, err)
	}
	images, err := e.client.ImageList(ctx, types.ImageListOptions{})
	if err != nil {
		return Stats{}, fmt.Errorf("endpoint %s: image list: %w", e.cfg.Name, err)
	}
	return Stats{
		Name:          e.cfg.Name,
		Containers:    info.Containers,
		Images:        len(images),
		KernelVersion: info.KernelVersion,
		MemTotal:      info.MemTotal,
		MemoryLimit:   info.MemoryLimit,
		NCPU:          info.NCPUs,
		OS:            info.OperatingSystem,
		SystemTime:    time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// ContainerStats lists containers on the endpoint, optionally including
// stopped ones.
func (e *Endpoint) ContainerStats(ctx context.Context, includeStopped bool) ([]types.Container, error) {
	return e.client.ContainerList(ctx, types.ContainerListOptions{All: includeStopped})
}

// GetContainerByID inspects a single container.
func (e *Endpoint) GetContainerByID(ctx context.Context, id string) (types.ContainerJSON, error) {
	return e.client.ContainerInspect(ctx, id)
}

// RemoveContainer removes a container, forcing removal of a still-running
// one. The Dispatcher calls it after a finished run; `endpoint containers
// prune` calls it for stopped containers.
func (e *Endpoint) RemoveContainer(ctx context.Context, id string) error {
	return e.client.ContainerRemove(ctx, id, types.ContainerRemoveOptions{Force: true})
}

// RunOpts describes a single container execution request.
type RunOpts struct {
	ContainerName string
	ImageName     string
	Cmd           []string
	Env           []string
	StdoutWriter  io.Writer
	StreamIn      io.Reader // TAR stream to copy into the container before start
	StreamInPath  string    // destination path inside the container for StreamIn
}

// RunResult carries what the Dispatcher needs to finalize a job.
type RunResult struct {
	ContainerID   string
	ExitCode      int64
	OutputArchive io.ReadCloser // TAR stream of the container's output directory
}

// Run creates, optionally seeds, starts, attaches, waits on, and fetches
// the output archive from a container. The caller is responsible for
// removing the container once the output archive has been fully consumed.
// The caller must have already reserved a slot via the pool's Choose (which
// calls tryReserve) and releases it with Release once the run is over,
// however it ends; Run itself does not touch the in-flight counter.
func (e *Endpoint) Run(ctx context.Context, opts RunOpts, outputPath string) (RunResult, error) {
	resp, err := e.client.ContainerCreate(ctx, &container.Config{
		Image: opts.ImageName,
		Cmd:   opts.Cmd,
		Env:   opts.Env,
	}, nil, nil, nil, opts.ContainerName)
	if err != nil {
		return RunResult{}, fmt.Errorf("endpoint %s: create container: %w", e.cfg.Name, err)
	}

	if opts.StreamIn != nil {
		if err := e.client.CopyToContainer(ctx, resp.ID, opts.StreamInPath, opts.StreamIn, types.CopyToContainerOptions{}); err != nil {
			return RunResult{}, fmt.Errorf("endpoint %s: copy inputs: %w", e.cfg.Name, err)
		}
	}

	attach, err := e.client.ContainerAttach(ctx, resp.ID, types.ContainerAttachOptions{Stream: true, Stdout: true, Stderr: true})
	if err != nil {
		return RunResult{}, fmt.Errorf("endpoint %s: attach: %w", e.cfg.Name, err)
	}
	defer attach.Close()

	if err := e.client.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		return RunResult{}, fmt.Errorf("endpoint %s: start container: %w", e.cfg.Name, err)
	}

	if opts.StdoutWriter != nil {
		go io.Copy(opts.StdoutWriter, attach.Reader)
	}

	statusCh, errCh := e.client.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	var exitCode int64
	select {
	case err := <-errCh:
		if err != nil {
			return RunResult{}, fmt.Errorf("endpoint %s: wait container: %w", e.cfg.Name, err)
		}
	case status := <-statusCh:
		exitCode = status.StatusCode
	case <-ctx.Done():
		_ = e.client.ContainerStop(context.Background(), resp.ID, container.StopOptions{})
		return RunResult{ContainerID: resp.ID}, ctx.Err()
	}

	archive, _, err := e.client.CopyFromContainer(ctx, resp.ID, outputPath)
	if err != nil {
		return RunResult{ContainerID: resp.ID, ExitCode: exitCode}, fmt.Errorf("endpoint %s: fetch output archive: %w", e.cfg.Name, err)
	}

	return RunResult{ContainerID: resp.ID, ExitCode: exitCode, OutputArchive: archive}, nil
}

// tryReserve atomically claims one in-flight slot if the endpoint is below
// its configured budget, the single point where Choose's selection and the
// actual reservation happen together so two callers can never both land on
// the last slot.
func (e *Endpoint) tryReserve() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cfg.MaxInFlight > 0 && e.inFlight >= e.cfg.MaxInFlight {
		return false
	}
	e.inFlight++
	return true
}

// Release frees a slot claimed by tryReserve. The caller must call it
// exactly once per successful Choose, regardless of how the run ends.
func (e *Endpoint) Release() {
	e.mu.Lock()
	e.inFlight--
	e.mu.Unlock()
}

// InFlight reports the endpoint's current in-flight job count.
func (e *Endpoint) InFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inFlight
}

// DeclaresImage reports whether the endpoint's configuration allows image.
func (e *Endpoint) DeclaresImage(image string) bool {
	if len(e.cfg.RequiredImages) == 0 {
		return true
	}
	for _, i := range e.cfg.RequiredImages {
		if i == image {
			return true
		}
	}
	return false
}

// MaxInFlight is the endpoint's configured concurrency budget.
func (e *Endpoint) MaxInFlight() int { return e.cfg.MaxInFlight }

// ID returns the endpoint's opaque id.
func (e *Endpoint) ID() EndpointId { return e.id }

// Name returns the endpoint's configured name.
func (e *Endpoint) Name() string { return e.cfg.Name }

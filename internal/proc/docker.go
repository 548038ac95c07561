package proc

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/rs/zerolog/log"
)

// DockerAPI is the subset of the Docker client needed to follow a
// container.
type DockerAPI interface {
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
}

// Docker attaches to containers of one Docker daemon.
type Docker struct {
	client *client.Client
}

func NewDocker(host string) (*Docker, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	} else {
		opts = append(opts, client.FromEnv)
	}

	c, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("proc.NewDocker: %w", err)
	}
	return &Docker{client: c}, nil
}

// Attach follows the output of an existing container.
func (d *Docker) Attach(ctx context.Context, containerID string) (*Container, error) {
	return AttachContainer(ctx, d.client, containerID)
}

// Close closes the Docker client.
func (d *Docker) Close() error {
	if err := d.client.Close(); err != nil {
		return fmt.Errorf("proc.Docker.Close: %w", err)
	}
	return nil
}

// Container is a followed Docker container. Containers have no structured
// channel, so sessions attached to them fall back to stream mode.
type Container struct {
	api    DockerAPI
	id     string
	name   string
	stdout *io.PipeReader
	stderr *io.PipeReader
}

// AttachContainer follows the logs of containerID from its start until it
// stops, split into stdout and stderr.
func AttachContainer(ctx context.Context, api DockerAPI, containerID string) (*Container, error) {
	info, err := api.ContainerInspect(ctx, containerID)
	if err != nil {
		return nil, fmt.Errorf("proc.AttachContainer: inspect: %w", err)
	}

	logs, err := api.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("proc.AttachContainer: logs: %w", err)
	}

	outR, outW := io.Pipe()
	errR, errW := io.Pipe()

	tty := info.Config != nil && info.Config.Tty
	go func() {
		defer logs.Close()

		var copyErr error
		if tty {
			// A TTY merges both streams; there is nothing to demultiplex.
			_, copyErr = io.Copy(outW, logs)
		} else {
			_, copyErr = stdcopy.StdCopy(outW, errW, logs)
		}
		if copyErr != nil {
			log.Warn().Err(copyErr).Str("container", containerID).Msg("proc: container log stream")
		}
		_ = outW.CloseWithError(copyErr)
		_ = errW.CloseWithError(copyErr)
	}()

	return &Container{
		api:    api,
		id:     info.ID,
		name:   strings.TrimPrefix(info.Name, "/"),
		stdout: outR,
		stderr: errR,
	}, nil
}

func (c *Container) Stdout() io.Reader { return c.stdout }
func (c *Container) Stderr() io.Reader { return c.stderr }
func (c *Container) IPC() io.Reader    { return nil }

// Name returns the container name without its leading slash.
func (c *Container) Name() string { return c.name }

// Wait waits for the container to stop and returns its exit code.
func (c *Container) Wait(ctx context.Context) (int, error) {
	waitCh, errCh := c.api.ContainerWait(ctx, c.id, container.WaitConditionNotRunning)

	select {
	case result := <-waitCh:
		if result.Error != nil {
			return int(result.StatusCode), fmt.Errorf("proc.Container.Wait: %s", result.Error.Message)
		}
		return int(result.StatusCode), nil
	case err := <-errCh:
		return -1, fmt.Errorf("proc.Container.Wait: %w", err)
	case <-ctx.Done():
		return -1, fmt.Errorf("proc.Container.Wait: %w", ctx.Err())
	}
}

package claudecode

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"go.uber.org/zap"

	"github.com/relaywire/agentbridge/internal/logger"
)

// SandboxLauncher runs the agent CLI inside a short-lived Docker container
// instead of as a bare subprocess, for deployments that don't want the
// agent touching the host filesystem directly outside the mounted project
// directory.
type SandboxLauncher struct {
	cli   *client.Client
	image string
	log   *logger.Logger
}

// NewSandboxLauncher connects to the local Docker daemon. It does not pull
// the image, and neither does Run: the image must already be present
// locally.
func NewSandboxLauncher(image string, log *logger.Logger) (*SandboxLauncher, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("claudecode: docker client: %w", err)
	}
	return &SandboxLauncher{cli: cli, image: image, log: log}, nil
}

// Run creates, starts, and attaches to a container running argv[0] with
// argv[1:] as arguments, bind-mounting workDir at the same path inside the
// container so relative session paths still resolve.
func (sl *SandboxLauncher) Run(ctx context.Context, workDir string, argv []string) (processHandle, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("claudecode: sandbox run with empty argv")
	}

	containerCfg := &container.Config{
		Image:      sl.image,
		Cmd:        argv,
		WorkingDir: workDir,
		Tty:        false,
	}
	hostCfg := &container.HostConfig{
		AutoRemove: true,
	}
	if workDir != "" {
		hostCfg.Mounts = []mount.Mount{{
			Type:   mount.TypeBind,
			Source: workDir,
			Target: workDir,
		}}
	}

	resp, err := sl.cli.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("claudecode: create sandbox container: %w", err)
	}

	attach, err := sl.cli.ContainerAttach(ctx, resp.ID, container.AttachOptions{
		Stream: true, Stdout: true, Stderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("claudecode: attach sandbox container: %w", err)
	}

	if err := sl.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		attach.Close()
		return nil, fmt.Errorf("claudecode: start sandbox container: %w", err)
	}

	stdoutReader, stdoutWriter := io.Pipe()
	go func() {
		defer stdoutWriter.Close()
		demultiplexDockerStream(attach.Reader, stdoutWriter, sl.log)
	}()

	return &sandboxProcess{
		cli:         sl.cli,
		containerID: resp.ID,
		stdout:      stdoutReader,
		conn:        attach.Conn,
	}, nil
}

type sandboxProcess struct {
	cli         *client.Client
	containerID string
	stdout      io.Reader
	conn        net.Conn
}

func (p *sandboxProcess) Stdout() io.Reader { return p.stdout }
func (p *sandboxProcess) Stderr() io.Reader { return nil }

func (p *sandboxProcess) Wait() error {
	statusCh, errCh := p.cli.ContainerWait(context.Background(), p.containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return err
	case status := <-statusCh:
		if status.StatusCode != 0 {
			return fmt.Errorf("container exited with status %d", status.StatusCode)
		}
		return nil
	}
}

func (p *sandboxProcess) Kill() {
	_ = p.cli.ContainerKill(context.Background(), p.containerID, "SIGKILL")
	if p.conn != nil {
		p.conn.Close()
	}
}

// demultiplexDockerStream strips Docker's 8-byte multiplexed stream header
// (stream type + big-endian size) and writes stdout/stderr payload through
// to w as one combined stream.
func demultiplexDockerStream(r io.Reader, w io.Writer, log *logger.Logger) {
	header := make([]byte, 8)
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			return
		}
		size := binary.BigEndian.Uint32(header[4:8])
		if size == 0 {
			continue
		}
		data := make([]byte, size)
		if _, err := io.ReadFull(r, data); err != nil {
			log.Debug("claudecode: sandbox stream read failed", zap.Error(err))
			return
		}
		streamType := header[0]
		if streamType == 1 || streamType == 2 {
			w.Write(data)
		}
	}
}

package supervisor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ContainerLauncher runs each worker as a docker container, named
// "<prefix>-<workerID>" so CleanupStale can find artifacts from a
// previous gateway run. Shells out to the docker CLI the way the
// teacher's scheduler shells out to crontab rather than linking a
// client SDK — no container-runtime library appears anywhere in the
// example pack, so this is one of the components justified onto the
// standard library in DESIGN.md.
type ContainerLauncher struct {
	image  string
	prefix string
}

// NewContainerLauncher builds a Launcher that runs image for each worker,
// naming containers with prefix for later CleanupStale sweeps.
func NewContainerLauncher(image, prefix string) *ContainerLauncher {
	return &ContainerLauncher{image: image, prefix: prefix}
}

func (l *ContainerLauncher) containerName(workerID string) string {
	return fmt.Sprintf("%s-%s", l.prefix, workerID)
}

func (l *ContainerLauncher) Launch(ctx context.Context, spec LaunchSpec) (LaunchHandle, error) {
	name := l.containerName(spec.WorkerID)
	args := []string{
		"run", "-d", "--rm",
		"--name", name,
		"-p", fmt.Sprintf("%d:%d", spec.HostPort, spec.InnerPort),
		"-v", spec.WorkspaceDir + ":/workspace",
		"-v", spec.PromptsDir + ":/prompts:ro",
		"-e", "PORT=" + strconv.Itoa(spec.InnerPort),
		"-e", "WORKSPACE=/workspace",
		"-e", "PROMPTS_DIR=/prompts",
		"-e", "ZEUS_PROVIDER=" + spec.Provider,
		"-e", "ZEUS_WORKER_ID=" + spec.WorkerID,
	}
	for k, v := range spec.Env {
		args = append(args, "-e", k+"="+v)
	}
	args = append(args, l.image)

	cmd := exec.CommandContext(ctx, "docker", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return LaunchHandle{}, fmt.Errorf("supervisor: docker run: %w: %s", err, stderr.String())
	}
	return LaunchHandle{WorkerID: spec.WorkerID, Name: name}, nil
}

func (l *ContainerLauncher) Stop(ctx context.Context, handle LaunchHandle, grace time.Duration) error {
	seconds := int(grace.Seconds())
	if seconds <= 0 {
		seconds = 1
	}
	cmd := exec.CommandContext(ctx, "docker", "stop", "-t", strconv.Itoa(seconds), handle.Name)
	_ = cmd.Run() // container already gone is not an error for an idempotent Stop
	return nil
}

func (l *ContainerLauncher) IsAlive(handle LaunchHandle) bool {
	cmd := exec.Command("docker", "inspect", "-f", "{{.State.Running}}", handle.Name)
	out, err := cmd.Output()
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(out)) == "true"
}

func (l *ContainerLauncher) CleanupStale(ctx context.Context, namingPrefix string) error {
	cmd := exec.CommandContext(ctx, "docker", "ps", "-a", "--filter", "name=^"+namingPrefix+"-", "--format", "{{.Names}}")
	out, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("supervisor: docker ps: %w", err)
	}
	names := strings.Fields(string(out))
	for _, name := range names {
		_ = exec.CommandContext(ctx, "docker", "rm", "-f", name).Run()
	}
	return nil
}

func (l *ContainerLauncher) Tail(workerID string, n int) ([]string, error) {
	name := l.containerName(workerID)
	cmd := exec.Command("docker", "logs", "--tail", strconv.Itoa(n), name)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("supervisor: docker logs: %w", err)
	}
	lines := strings.Split(strings.TrimRight(string(out), "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil, nil
	}
	return lines, nil
}

package orchestrator

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-units"

	"github.com/webalive/workerspawn/internal/workerenv"
)

const labelPrefix = "workerspawn."

// DockerDriver runs worker sessions as Docker containers on an isolated
// bridge network that only the Gateway can reach.
type DockerDriver struct {
	docker      *client.Client
	namespace   string
	networkName string
}

// NewDockerDriver connects to the Docker daemon using the standard
// DOCKER_HOST/TLS environment, negotiating the API version with the daemon.
func NewDockerDriver(namespace, networkName string) (*DockerDriver, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("orchestrator: docker client: %w", err)
	}
	return &DockerDriver{docker: cli, namespace: namespace, networkName: networkName}, nil
}

func (d *DockerDriver) Close() error {
	return d.docker.Close()
}

func (d *DockerDriver) containerName(sessionID string) string {
	return d.namespace + "-" + sessionID
}

func (d *DockerDriver) Submit(ctx context.Context, spec Spec) (string, error) {
	labels := map[string]string{
		labelPrefix + "managed":    "true",
		labelPrefix + "session_id": spec.SessionID,
	}

	env := workerenv.Build(workerenv.Spec{
		CodeURL:    spec.CodeURL,
		Command:    spec.Command,
		InstallCmd: spec.InstallCmd,
		Prompt:     spec.Prompt,
		ExitOnJob:  spec.ExitOnJob,
	})

	containerCfg := &container.Config{
		Image:        spec.Image,
		Env:          env,
		Labels:       labels,
		ExposedPorts: nil,
		Tty:          false,
	}

	hostCfg := &container.HostConfig{
		AutoRemove:     false,
		ReadonlyRootfs: true,
		SecurityOpt:    []string{"no-new-privileges"},
		CapDrop:        []string{"ALL"},
		Resources: container.Resources{
			NanoCPUs: 1_000_000_000,
			Memory:   1024 * units.MiB,
		},
		NetworkMode: container.NetworkMode(d.networkName),
	}
	if spec.ActiveDeadlineSeconds > 0 {
		hostCfg.Resources.PidsLimit = int64Ptr(256)
	}

	netCfg := &network.NetworkingConfig{}

	resp, err := d.docker.ContainerCreate(ctx, containerCfg, hostCfg, netCfg, nil, d.containerName(spec.SessionID))
	if err != nil {
		return "", fmt.Errorf("orchestrator: container create: %w", err)
	}

	if err := d.docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = d.docker.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("orchestrator: container start: %w", err)
	}

	return resp.ID, nil
}

func (d *DockerDriver) ResolveEndpoint(ctx context.Context, workerID string) (string, bool, error) {
	info, err := d.docker.ContainerInspect(ctx, workerID)
	if err != nil {
		return "", false, fmt.Errorf("orchestrator: inspect: %w", err)
	}
	if !info.State.Running {
		return "", false, nil
	}

	net, ok := info.NetworkSettings.Networks[d.networkName]
	if !ok || net.IPAddress == "" {
		return "", false, nil
	}

	return fmt.Sprintf("%s:%d", net.IPAddress, TTYDPort), true, nil
}

func (d *DockerDriver) BestEffortDelete(ctx context.Context, workerID string) error {
	err := d.docker.ContainerRemove(ctx, workerID, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("orchestrator: container remove: %w", err)
	}
	return nil
}

func (d *DockerDriver) Reconcile(ctx context.Context, expectedSessionIDs map[string]string) ([]string, []string, error) {
	f := filters.NewArgs()
	f.Add("label", labelPrefix+"managed=true")

	containers, err := d.docker.ContainerList(ctx, container.ListOptions{All: true, Filters: f})
	if err != nil {
		return nil, nil, fmt.Errorf("orchestrator: container list: %w", err)
	}

	bySession := make(map[string]string, len(containers))
	for _, c := range containers {
		sessionID := c.Labels[labelPrefix+"session_id"]
		if sessionID == "" {
			continue
		}
		bySession[sessionID] = c.ID
	}

	orphans, missing := diffSessions(bySession, expectedSessionIDs)
	return orphans, missing, nil
}

// diffSessions compares the session IDs Docker actually reports (bySession,
// keyed by session ID with the container ID as value) against the set the
// store considers live, returning containers with no matching live session
// (orphans) and live sessions with no matching container (missing).
func diffSessions(bySession, expectedSessionIDs map[string]string) (orphans, missing []string) {
	for sessionID, workerID := range bySession {
		if _, expected := expectedSessionIDs[sessionID]; !expected {
			orphans = append(orphans, workerID)
		}
	}
	for sessionID := range expectedSessionIDs {
		if _, present := bySession[sessionID]; !present {
			missing = append(missing, sessionID)
		}
	}
	return orphans, missing
}

func int64Ptr(v int64) *int64 { return &v }

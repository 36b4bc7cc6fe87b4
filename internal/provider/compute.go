package provider

import (
	"context"
	"fmt"
	"strconv"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	"range-instance-backend/config"
)

// Provider-side resource statuses the waiters look for.
const (
	statusRunning = "running"
	statusOff     = "off"
)

// resourceInfo is the gateway's view of one provider resource.
type resourceInfo struct {
	ID      string
	Status  string
	Address string
}

// computeAPI is the narrow control-plane surface the gateway drives.
// The real implementation wraps the Hetzner Cloud SDK; tests substitute
// a scripted fake.
type computeAPI interface {
	CreateServer(ctx context.Context, name, imageID string) (*resourceInfo, error)
	// GetServer returns (nil, nil) when the resource does not exist.
	GetServer(ctx context.Context, id string) (*resourceInfo, error)
	PowerOn(ctx context.Context, id string) error
	PowerOff(ctx context.Context, id string) error
	DeleteServer(ctx context.Context, id string) error
}

// hcloudCompute implements computeAPI against the Hetzner Cloud API.
type hcloudCompute struct {
	client     *hcloud.Client
	serverType string
	location   string
}

func newHCloudCompute(cfg config.ProviderConfig) *hcloudCompute {
	opts := []hcloud.ClientOption{
		hcloud.WithApplication("range-instance-backend", "0.1.0"),
		hcloud.WithToken(cfg.Token),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, hcloud.WithEndpoint(cfg.Endpoint))
	}
	return &hcloudCompute{
		client:     hcloud.NewClient(opts...),
		serverType: cfg.ServerType,
		location:   cfg.Location,
	}
}

func (h *hcloudCompute) CreateServer(ctx context.Context, name, imageID string) (*resourceInfo, error) {
	opts := hcloud.ServerCreateOpts{
		Name:       name,
		ServerType: &hcloud.ServerType{Name: h.serverType},
		Image:      &hcloud.Image{Name: imageID},
	}
	if h.location != "" {
		opts.Location = &hcloud.Location{Name: h.location}
	}

	result, _, err := h.client.Server.Create(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}
	return toResourceInfo(result.Server), nil
}

func (h *hcloudCompute) GetServer(ctx context.Context, id string) (*resourceInfo, error) {
	numericID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid resource ID %q: %w", id, err)
	}
	server, _, err := h.client.Server.GetByID(ctx, numericID)
	if err != nil {
		return nil, fmt.Errorf("failed to describe server %s: %w", id, err)
	}
	if server == nil {
		return nil, nil
	}
	return toResourceInfo(server), nil
}

func (h *hcloudCompute) PowerOn(ctx context.Context, id string) error {
	numericID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid resource ID %q: %w", id, err)
	}
	_, _, err = h.client.Server.Poweron(ctx, &hcloud.Server{ID: numericID})
	if err != nil {
		return fmt.Errorf("failed to power on server %s: %w", id, err)
	}
	return nil
}

func (h *hcloudCompute) PowerOff(ctx context.Context, id string) error {
	numericID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid resource ID %q: %w", id, err)
	}
	_, _, err = h.client.Server.Poweroff(ctx, &hcloud.Server{ID: numericID})
	if err != nil {
		return fmt.Errorf("failed to power off server %s: %w", id, err)
	}
	return nil
}

func (h *hcloudCompute) DeleteServer(ctx context.Context, id string) error {
	numericID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid resource ID %q: %w", id, err)
	}
	_, _, err = h.client.Server.DeleteWithResult(ctx, &hcloud.Server{ID: numericID})
	if err != nil {
		return fmt.Errorf("failed to delete server %s: %w", id, err)
	}
	return nil
}

func toResourceInfo(s *hcloud.Server) *resourceInfo {
	info := &resourceInfo{
		ID:     strconv.FormatInt(s.ID, 10),
		Status: string(s.Status),
	}
	if !s.PublicNet.IPv4.IsUnspecified() {
		info.Address = s.PublicNet.IPv4.IP.String()
	}
	return info
}

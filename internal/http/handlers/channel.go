package handlers

import (
	"context"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/tvstream/internal/mediaserver"
	"github.com/jmylchreest/tvstream/internal/observability"
)

// ChannelSource is the media server as seen by the API.
type ChannelSource interface {
	Channels() []mediaserver.ChannelInfo
	ClientCount() int
	Maintenance() bool
	SetMaintenance(on bool)
}

// ChannelHandler lists channels and controls maintenance mode.
type ChannelHandler struct {
	source ChannelSource
}

// NewChannelHandler creates a channel handler.
func NewChannelHandler(source ChannelSource) *ChannelHandler {
	return &ChannelHandler{source: source}
}

// Register registers the channel routes.
func (h *ChannelHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listChannels",
		Method:      "GET",
		Path:        "/api/v1/channels",
		Summary:     "List channels",
		Description: "Returns the served channels with their renditions and current viewers",
		Tags:        []string{"Channels"},
	}, h.ListChannels)

	huma.Register(api, huma.Operation{
		OperationID: "getMaintenance",
		Method:      "GET",
		Path:        "/api/v1/maintenance",
		Summary:     "Get maintenance mode",
		Tags:        []string{"System"},
	}, h.GetMaintenance)

	huma.Register(api, huma.Operation{
		OperationID: "setMaintenance",
		Method:      "PUT",
		Path:        "/api/v1/maintenance",
		Summary:     "Set maintenance mode",
		Description: "While enabled every client-init is answered with server-error maintenance",
		Tags:        []string{"System"},
	}, h.SetMaintenance)
}

// ListChannelsInput is the input for listing channels.
type ListChannelsInput struct{}

// ListChannelsOutput is the output for listing channels.
type ListChannelsOutput struct {
	Body ChannelListResponse
}

// ListChannels returns every channel.
func (h *ChannelHandler) ListChannels(_ context.Context, _ *ListChannelsInput) (*ListChannelsOutput, error) {
	return &ListChannelsOutput{Body: ChannelListResponse{
		Channels: h.source.Channels(),
		Clients:  h.source.ClientCount(),
	}}, nil
}

// GetMaintenanceInput is the input for reading maintenance mode.
type GetMaintenanceInput struct{}

// MaintenanceOutput reports maintenance mode.
type MaintenanceOutput struct {
	Body MaintenanceBody
}

// GetMaintenance reports maintenance mode.
func (h *ChannelHandler) GetMaintenance(_ context.Context, _ *GetMaintenanceInput) (*MaintenanceOutput, error) {
	return &MaintenanceOutput{Body: MaintenanceBody{Enabled: h.source.Maintenance()}}, nil
}

// SetMaintenanceInput toggles maintenance mode.
type SetMaintenanceInput struct {
	Body MaintenanceBody
}

// SetMaintenance toggles maintenance mode. Connected clients keep playing
// until their next client-init.
func (h *ChannelHandler) SetMaintenance(ctx context.Context, input *SetMaintenanceInput) (*MaintenanceOutput, error) {
	h.source.SetMaintenance(input.Body.Enabled)
	observability.LoggerFromContext(ctx).Info("maintenance mode changed", slog.Bool("enabled", input.Body.Enabled))
	return &MaintenanceOutput{Body: MaintenanceBody{Enabled: h.source.Maintenance()}}, nil
}

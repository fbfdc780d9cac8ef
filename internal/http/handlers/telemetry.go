package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/tvstream/internal/observability"
	"github.com/jmylchreest/tvstream/internal/telemetry"
	"github.com/jmylchreest/tvstream/pkg/duration"
)

// maxSummaryWindow bounds how far back a summary may reach.
const maxSummaryWindow = 30 * duration.Day

// TelemetryHandler serves aggregated client telemetry.
type TelemetryHandler struct {
	repo telemetry.Repository
	now  func() time.Time
}

// NewTelemetryHandler creates a telemetry handler.
func NewTelemetryHandler(repo telemetry.Repository) *TelemetryHandler {
	return &TelemetryHandler{repo: repo, now: time.Now}
}

// Register registers the telemetry routes.
func (h *TelemetryHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getTelemetrySummary",
		Method:      "GET",
		Path:        "/api/v1/telemetry/summary",
		Summary:     "Summarize client telemetry",
		Description: "Aggregates startups, rebuffers and reported buffer levels per channel",
		Tags:        []string{"Telemetry"},
	}, h.GetSummary)
}

// SummaryInput selects the summary window.
type SummaryInput struct {
	Window string `query:"window" default:"1h" doc:"How far back to aggregate, as a duration (e.g. 15m, 24h, 7d)"`
}

// SummaryOutput is the output for the telemetry summary.
type SummaryOutput struct {
	Body SummaryResponse
}

// GetSummary aggregates telemetry recorded within the window.
func (h *TelemetryHandler) GetSummary(ctx context.Context, input *SummaryInput) (*SummaryOutput, error) {
	window, err := duration.Parse(input.Window)
	if err != nil || window <= 0 || window > maxSummaryWindow {
		return nil, huma.Error400BadRequest(fmt.Sprintf("window must be a positive duration up to %s", duration.Format(maxSummaryWindow)))
	}

	summary, err := h.repo.Summary(ctx, h.now().Add(-window))
	if err != nil {
		observability.LoggerFromContext(ctx).Error("summarizing telemetry",
			slog.String("window", input.Window), slog.String("error", err.Error()))
		return nil, huma.Error500InternalServerError("failed to summarize telemetry", err)
	}
	return &SummaryOutput{Body: SummaryResponse{Window: duration.Format(window), Summary: *summary}}, nil
}

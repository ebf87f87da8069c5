package api

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/starfederation/datastar-go/datastar"

	"github.com/joeblew999/plat-voyages/internal/service"
)

// SSEContext wraps the Datastar SSE generator with helper methods.
type SSEContext struct {
	SSE *datastar.ServerSentEventGenerator
}

// NewSSEContext creates an SSE context from a Huma context.
func NewSSEContext(humaCtx huma.Context) *SSEContext {
	r, w := humago.Unwrap(humaCtx)
	return &SSEContext{
		SSE: datastar.NewSSE(w, r),
	}
}

// SendError sends an error signal to the client.
func (c *SSEContext) SendError(msg string) {
	c.SSE.MarshalAndPatchSignals(map[string]any{
		"error": msg,
	})
}

// SendSignals sends arbitrary signals to the client.
func (c *SSEContext) SendSignals(signals map[string]any) {
	c.SSE.MarshalAndPatchSignals(signals)
}

// StreamHandler serves build progress as Datastar signal patches.
type StreamHandler struct {
	svc *Services
}

func NewStreamHandler(svc *Services) *StreamHandler {
	return &StreamHandler{svc: svc}
}

// RegisterStreams registers the SSE routes.
func (h *StreamHandler) RegisterStreams(api huma.API) {
	huma.Post(api, "/api/v1/builds/{kind}/stream", h.StreamBuild, huma.OperationTags("builds"))
	huma.Get(api, "/api/v1/events", h.Events, huma.OperationTags("builds"))
}

// StreamBuild runs a build and streams its progress.
func (h *StreamHandler) StreamBuild(ctx context.Context, input *KindInput) (*huma.StreamResponse, error) {
	if h.svc == nil || h.svc.Pipeline == nil {
		return nil, huma.Error503ServiceUnavailable("pipeline not available")
	}
	if !service.ValidKind(input.Kind) {
		return nil, huma.Error400BadRequest("unknown build kind " + input.Kind)
	}

	return &huma.StreamResponse{
		Body: func(humaCtx huma.Context) {
			sse := NewSSEContext(humaCtx)

			res, err := h.svc.Pipeline.Run(ctx, input.Kind, func(progress int, status string) {
				sse.SendSignals(map[string]any{
					"buildStatus":   status,
					"buildProgress": progress,
				})
			})
			if errors.Is(err, service.ErrBusy) {
				sse.SendError("A build is already running")
				return
			}
			if err != nil {
				sse.SendError("Build failed: " + err.Error())
				return
			}
			sse.SendSignals(map[string]any{
				"buildStatus":   "Complete",
				"buildProgress": 100,
				"buildResult":   res,
				"success":       "Build " + res.ID + " finished in " + res.Duration,
			})
		},
	}, nil
}

// Events streams every pipeline event until the client disconnects.
func (h *StreamHandler) Events(ctx context.Context, input *struct{}) (*huma.StreamResponse, error) {
	if h.svc == nil || h.svc.Bus == nil {
		return nil, huma.Error503ServiceUnavailable("event bus not available")
	}
	return &huma.StreamResponse{
		Body: func(humaCtx huma.Context) {
			sse := NewSSEContext(humaCtx)
			ch := h.svc.Bus.Subscribe()
			defer h.svc.Bus.Unsubscribe(ch)

			for {
				select {
				case <-ctx.Done():
					return
				case <-humaCtx.Context().Done():
					return
				case ev := <-ch:
					sse.SendSignals(map[string]any{
						"buildId":       ev.BuildID,
						"buildKind":     ev.Kind,
						"buildStage":    ev.Stage,
						"buildStatus":   ev.Message,
						"buildProgress": ev.Progress,
					})
				}
			}
		},
	}, nil
}

package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apierrors "github.com/tsamsiyu/themelio/internal/api/errors"
	"github.com/tsamsiyu/themelio/internal/service"
	"github.com/tsamsiyu/themelio/pkg/problem"
	"github.com/tsamsiyu/themelio/pkg/watch"
)

const (
	heartbeatInterval = 30 * time.Second
	monitorBuffer     = 16

	SSEConnected = "connected"
	SSEEvent     = "event"
	SSEHeartbeat = "heartbeat"
)

// WatchHandler streams watch events as server-sent events
type WatchHandler struct {
	logger          *zap.Logger
	resourceService service.ResourceService
	heartbeat       time.Duration
}

func NewWatchHandler(
	logger *zap.Logger,
	resourceService service.ResourceService,
) *WatchHandler {
	return &WatchHandler{
		logger:          logger,
		resourceService: resourceService,
		heartbeat:       heartbeatInterval,
	}
}

type connectedPayload struct {
	Group           string `json:"group"`
	Version         string `json:"version"`
	Plural          string `json:"plural"`
	Namespace       string `json:"namespace,omitempty"`
	Name            string `json:"name,omitempty"`
	ResourceVersion string `json:"resourceVersion,omitempty"`
	Timestamp       string `json:"timestamp"`
}

func newConnectedPayload(params service.Params, resourceVersion string) connectedPayload {
	return connectedPayload{
		Group:           params.Group,
		Version:         params.Version,
		Plural:          params.Plural,
		Namespace:       params.Namespace,
		Name:            params.Name,
		ResourceVersion: resourceVersion,
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
	}
}

// WatchCollection streams the changes of a collection after ?resourceVersion=
func (h *WatchHandler) WatchCollection(c *gin.Context, req *resourceRequest) {
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	events, stop, err := h.resourceService.Watch(ctx, req.params, req.selectors, req.query.ResourceVersion)
	if err != nil {
		c.Error(err)
		return
	}
	defer stop()

	h.logger.Info("Started SSE watch",
		zap.Object("reference", req.params.Reference()),
		zap.String("namespace", req.params.Namespace),
		zap.Stringer("selectors", req.selectors),
		zap.String("resourceVersion", req.query.ResourceVersion))

	h.startStream(c)
	if err := h.sendSSEEvent(c, SSEConnected, newConnectedPayload(req.params, req.query.ResourceVersion)); err != nil {
		h.logger.Warn("Failed to send connection event", zap.Error(err))
		return
	}
	h.stream(ctx, c, events, func(e watch.Event) bool {
		return e.Type == watch.Error
	})
}

// WatchObject streams the changes of one object, starting from its current state
func (h *WatchHandler) WatchObject(c *gin.Context, req *resourceRequest) {
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	events := make(chan watch.Event, monitorBuffer)
	done := make(chan struct{})
	monitor, err := h.resourceService.Monitor(ctx, req.params, func(e watch.Event) {
		select {
		case events <- e:
		case <-done:
		}
	})
	if err != nil {
		c.Error(err)
		return
	}
	defer func() {
		close(done)
		if err := monitor.Close(); err != nil {
			h.logger.Warn("Failed to close monitor", zap.Error(err))
		}
	}()

	current, ok := monitor.Current()
	if !ok {
		c.Error(problem.Newf(problem.NotFound, "%s is gone", monitor.Identity()))
		return
	}
	h.logger.Info("Started SSE monitor",
		zap.Object("reference", req.params.Reference()),
		zap.Object("identity", monitor.Identity()))

	h.startStream(c)
	if err := h.sendSSEEvent(c, SSEConnected, newConnectedPayload(req.params, current.Metadata.ResourceVersion)); err != nil {
		h.logger.Warn("Failed to send connection event", zap.Error(err))
		return
	}
	if err := h.sendSSEEvent(c, SSEEvent, watch.NewEvent(watch.Updated, current)); err != nil {
		h.logger.Warn("Failed to send current state", zap.Error(err))
		return
	}
	h.stream(ctx, c, events, func(e watch.Event) bool {
		return e.Type == watch.Error || e.Type == watch.Deleted
	})
}

func (h *WatchHandler) startStream(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(200)
	c.Writer.Flush()
}

// stream forwards events until the client leaves, the channel closes or a terminal event is sent
func (h *WatchHandler) stream(ctx context.Context, c *gin.Context, events <-chan watch.Event, terminal func(watch.Event) bool) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE watch closed by client")
			return

		case e, ok := <-events:
			if !ok {
				h.logger.Debug("Watch channel closed, ending SSE stream")
				return
			}
			if err := h.sendSSEEvent(c, SSEEvent, e); err != nil {
				h.logger.Warn("Failed to send SSE event",
					zap.String("eventType", string(e.Type)),
					zap.Error(err))
				return
			}
			if terminal(e) {
				return
			}

		case <-ticker.C:
			heartbeat := map[string]string{"timestamp": time.Now().UTC().Format(time.RFC3339)}
			if err := h.sendSSEEvent(c, SSEHeartbeat, heartbeat); err != nil {
				h.logger.Warn("Failed to send heartbeat", zap.Error(err))
				return
			}
		}
	}
}

func (h *WatchHandler) sendSSEEvent(c *gin.Context, eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return apierrors.NewStreamError(eventType, err)
	}

	if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", eventType, jsonData); err != nil {
		return apierrors.NewStreamError(eventType, err)
	}

	c.Writer.Flush()
	return nil
}

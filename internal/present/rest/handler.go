package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/zeebo/xxh3"

	"github.com/totegamma/eventchain"
	"github.com/totegamma/eventchain/internal/application"
	"github.com/totegamma/eventchain/internal/domain"
	"github.com/totegamma/eventchain/internal/present/rest/middleware"
	"github.com/totegamma/eventchain/internal/present/rest/presenter"
)

const version = "0.2.0"

// Streamer delivers the updates of a chain until ctx is done.
type Streamer interface {
	Realtime(ctx context.Context, id string, output chan<- json.RawMessage)
}

type Handler struct {
	config domain.Config
	chains *application.EventChainApplication
	signal Streamer
}

func NewHandler(
	config domain.Config,
	chains *application.EventChainApplication,
	signal Streamer,
) *Handler {
	return &Handler{
		config: config,
		chains: chains,
		signal: signal,
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/.well-known/eventchain", h.handleWellKnown)

	g := e.Group("/event-chains", h.requireSigned)
	g.GET("", h.handleList)
	g.POST("", h.handleAdd)
	g.GET("/:id", h.handleGet)
	g.POST("/:id/resolve", h.handleResolve)
	g.GET("/:id/stream", h.handleStream)
}

func (h *Handler) requireSigned(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, ok := middleware.RequesterSignKey(c.Request().Context()); !ok {
			return presenter.Unauthorized(c)
		}
		return next(c)
	}
}

func (h *Handler) handleWellKnown(c echo.Context) error {
	wellknown := eventchain.WellKnownNode{
		Version: version,
		Domain:  h.config.FQDN,
		Address: h.config.Address,
		SignKey: h.config.SignKey,
		Endpoints: map[string]string{
			"eventchain.list":    "/event-chains",
			"eventchain.add":     "/event-chains",
			"eventchain.get":     "/event-chains/{id}",
			"eventchain.resolve": "/event-chains/{id}/resolve",
			"eventchain.stream":  "/event-chains/{id}/stream",
		},
	}
	return presenter.OK(c, wellknown)
}

func (h *Handler) handleList(c echo.Context) error {
	ctx := c.Request().Context()
	signkey, _ := middleware.RequesterSignKey(ctx)

	chains, err := h.chains.List(ctx, signkey)
	if err != nil {
		return presenter.InternalError(c, err)
	}
	if chains == nil {
		chains = []*domain.EventChain{}
	}

	return presenter.OK(c, chains)
}

func (h *Handler) handleAdd(c echo.Context) error {
	ctx := c.Request().Context()

	var chain domain.EventChain
	if err := c.Bind(&chain); err != nil {
		return presenter.BadRequest(c, err)
	}
	if !eventchain.IsChainID(chain.ID) {
		return presenter.BadRequestMessage(c, "invalid chain id")
	}

	result, validation, err := h.chains.Add(ctx, &chain)
	if err != nil {
		if errors.Is(err, domain.ErrChainMismatch) || errors.Is(err, domain.ErrPartialChain) {
			return presenter.BadRequest(c, err)
		}
		return presenter.InternalError(c, err)
	}
	if validation.Failed() {
		return presenter.ValidationFailed(c, validation)
	}

	return presenter.OK(c, result)
}

func (h *Handler) handleGet(c echo.Context) error {
	ctx := c.Request().Context()
	signkey, _ := middleware.RequesterSignKey(ctx)

	chain, err := h.chains.Get(ctx, c.Param("id"))
	if errors.Is(err, domain.ErrNotFound) {
		return presenter.NotFound(c, err.Error())
	}
	if err != nil {
		return presenter.InternalError(c, err)
	}

	if len(chain.Identities.FilterOnSignkey(signkey)) == 0 {
		return presenter.Forbidden(c)
	}

	body, err := json.Marshal(chain)
	if err != nil {
		return presenter.InternalError(c, err)
	}

	etag := fmt.Sprintf(`"%016x"`, xxh3.Hash(body))
	c.Response().Header().Set("ETag", etag)
	if c.Request().Header.Get("If-None-Match") == etag {
		return c.NoContent(http.StatusNotModified)
	}

	return c.JSONBlob(http.StatusOK, body)
}

func (h *Handler) handleResolve(c echo.Context) error {
	ctx := c.Request().Context()

	var theirs domain.EventChain
	if err := c.Bind(&theirs); err != nil {
		return presenter.BadRequest(c, err)
	}
	if theirs.ID != c.Param("id") {
		return presenter.BadRequestMessage(c, "chain id doesn't match the url")
	}

	result, validation, err := h.chains.Resolve(ctx, &theirs)
	if err != nil {
		var conflict *domain.UnresolvableConflictError
		switch {
		case errors.Is(err, domain.ErrNotFound):
			return presenter.NotFound(c, err.Error())
		case errors.As(err, &conflict):
			return presenter.Conflict(c, err)
		default:
			return presenter.InternalError(c, err)
		}
	}
	if validation.Failed() {
		return presenter.ValidationFailed(c, validation)
	}

	return presenter.OK(c, result)
}

type Request struct {
	Type string `json:"type"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func (h *Handler) handleStream(c echo.Context) error {
	id := c.Param("id")
	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	signkey, _ := middleware.RequesterSignKey(ctx)

	chain, err := h.chains.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return presenter.NotFound(c, err.Error())
	}
	if err != nil {
		return presenter.InternalError(c, err)
	}
	if len(chain.Identities.FilterOnSignkey(signkey)) == 0 {
		return presenter.Forbidden(c)
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error(
			"Failed to upgrade WebSocket",
			slog.String("error", err.Error()),
			slog.String("module", "socket"),
		)
		return err
	}
	defer ws.Close()

	output := make(chan json.RawMessage)
	go h.signal.Realtime(ctx, id, output)

	quit := make(chan struct{})

	go func() {
		defer close(quit)
		for {
			var req Request
			err := ws.ReadJSON(&req)
			if err != nil {
				var wsErr *websocket.CloseError
				if errors.As(err, &wsErr) {
					if !(wsErr.Code == websocket.CloseNormalClosure || wsErr.Code == websocket.CloseGoingAway) {
						slog.DebugContext(
							ctx, "WebSocket closed",
							slog.String("error", wsErr.Error()),
							slog.String("module", "socket"),
						)
					}
				} else {
					slog.ErrorContext(
						ctx, "Error reading message",
						slog.String("error", err.Error()),
						slog.String("module", "socket"),
					)
				}
				return
			}

			switch req.Type {
			case "h": // heartbeat
			default:
				slog.InfoContext(
					ctx, "Unknown request type",
					slog.String("type", req.Type),
					slog.String("module", "socket"),
				)
			}
		}
	}()

	for {
		select {
		case <-quit:
			return nil
		case update := <-output:
			err := ws.WriteMessage(websocket.TextMessage, update)
			if err != nil {
				slog.ErrorContext(
					ctx, "Error writing message",
					slog.String("error", err.Error()),
					slog.String("module", "socket"),
				)
				return nil
			}
		}
	}
}

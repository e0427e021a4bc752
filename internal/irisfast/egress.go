package irisfast

import (
	"context"
	"encoding/base64"
	"errors"

	"go.uber.org/zap"
)

// Egress sends replies over HTTP or the WebSocket connection.
type Egress interface {
	SendText(ctx context.Context, room, message string) error
	SendImage(ctx context.Context, room string, png []byte) error
}

const (
	EgressHTTP = "http"
	EgressWS   = "ws"
	EgressAuto = "auto"
)

// NewEgress picks the transport by mode. Auto prefers WS while connected and
// falls back to HTTP once per message.
func NewEgress(mode string, dryrun bool, c *Client, ws *WebSocket, logger *zap.Logger) Egress {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch mode {
	case EgressWS:
		return &wsEgress{ws: ws, dryrun: dryrun, logger: logger}
	case EgressAuto:
		return &autoEgress{
			ws:     &wsEgress{ws: ws, dryrun: dryrun, logger: logger},
			http:   &httpEgress{c: c, dryrun: dryrun, logger: logger},
			logger: logger,
		}
	default:
		return &httpEgress{c: c, dryrun: dryrun, logger: logger}
	}
}

type httpEgress struct {
	c      *Client
	dryrun bool
	logger *zap.Logger
}

func (h *httpEgress) SendText(ctx context.Context, room, message string) error {
	if h == nil || h.c == nil {
		return errors.New("http egress not available")
	}
	if h.dryrun {
		h.logger.Info("egress_dryrun", zap.String("transport", EgressHTTP), zap.String("type", "text"), zap.String("room", room), zap.String("text", message))
		return nil
	}
	return h.c.SendText(ctx, room, message)
}

func (h *httpEgress) SendImage(ctx context.Context, room string, png []byte) error {
	if h == nil || h.c == nil {
		return errors.New("http egress not available")
	}
	if h.dryrun {
		h.logger.Info("egress_dryrun", zap.String("transport", EgressHTTP), zap.String("type", "image"), zap.String("room", room))
		return nil
	}
	return h.c.SendImage(ctx, room, png)
}

type wsEgress struct {
	ws     *WebSocket
	dryrun bool
	logger *zap.Logger
}

func (w *wsEgress) SendText(ctx context.Context, room, message string) error {
	return w.send(ctx, ReplyRequest{Type: "text", Room: room, Data: message})
}

func (w *wsEgress) SendImage(ctx context.Context, room string, png []byte) error {
	return w.send(ctx, ReplyRequest{Type: "image", Room: room, Data: encodePNG(png)})
}

func (w *wsEgress) send(ctx context.Context, req ReplyRequest) error {
	if w == nil || w.ws == nil {
		return errors.New("ws egress not available")
	}
	if w.dryrun {
		w.logger.Info("egress_dryrun", zap.String("transport", EgressWS), zap.String("type", req.Type), zap.String("room", req.Room))
		return nil
	}
	return w.ws.WriteJSON(ctx, &req)
}

type autoEgress struct {
	ws     *wsEgress
	http   *httpEgress
	logger *zap.Logger
}

func (a *autoEgress) wsReady() bool {
	return a.ws != nil && a.ws.ws != nil && a.ws.ws.State() == WSStateConnected
}

func (a *autoEgress) SendText(ctx context.Context, room, message string) error {
	if a.wsReady() {
		err := a.ws.SendText(ctx, room, message)
		if err == nil {
			return nil
		}
		a.logger.Warn("egress_fallback", zap.String("type", "text"), zap.String("room", room), zap.Error(err))
	}
	return a.http.SendText(ctx, room, message)
}

func (a *autoEgress) SendImage(ctx context.Context, room string, png []byte) error {
	if a.wsReady() {
		err := a.ws.SendImage(ctx, room, png)
		if err == nil {
			return nil
		}
		a.logger.Warn("egress_fallback", zap.String("type", "image"), zap.String("room", room), zap.Error(err))
	}
	return a.http.SendImage(ctx, room, png)
}

func encodePNG(png []byte) string { return base64.StdEncoding.EncodeToString(png) }

package ladderpresenter

import (
	"context"
	"strings"

	"github.com/park285/elo-ladder-bot/internal/gateway"
)

// Presenter delivers formatted text and chart images to a room.
type Presenter struct {
	gw gateway.Gateway
}

func NewPresenter(gw gateway.Gateway) *Presenter {
	return &Presenter{gw: gw}
}

func (p *Presenter) Text(ctx context.Context, room, message string) error {
	if p == nil || p.gw == nil || strings.TrimSpace(message) == "" {
		return nil
	}
	return p.gw.SendText(ctx, room, message)
}

// Chart sends the caption first, if any, then the image.
func (p *Presenter) Chart(ctx context.Context, room, caption string, png []byte) error {
	if p == nil || p.gw == nil {
		return nil
	}
	if strings.TrimSpace(caption) != "" {
		if err := p.gw.SendText(ctx, room, caption); err != nil {
			return err
		}
	}
	if len(png) == 0 {
		return nil
	}
	return p.gw.SendImage(ctx, room, png)
}

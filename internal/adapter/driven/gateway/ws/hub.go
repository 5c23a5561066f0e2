package ws

import (
	"context"
	"errors"
	"fmt"

	"github.com/Wyydra/callhub/internal/core/domain"
	"github.com/go4org/hashtriemap"
	"github.com/rs/zerolog/log"
)

// implements port.RealTimeGateway
type Hub struct {
	clients hashtriemap.HashTrieMap[domain.ConnectionID, *Client]
}

func NewHub() *Hub {
	return &Hub{}
}

func (h *Hub) Register(c *Client) {
	h.clients.Store(c.ID(), c)
	log.Info().Str("client_id", c.ID().String()).Msg("Client registered")
}

func (h *Hub) Forget(ctx context.Context, id domain.ConnectionID) bool {
	c, ok := h.clients.LoadAndDelete(id)
	if !ok {
		return false
	}
	c.Close()
	log.Info().Str("client_id", id.String()).Msg("Client unregistered")
	return true
}

func (h *Hub) SendEvent(ctx context.Context, to domain.ConnectionID, ev domain.Event) error {
	c, ok := h.clients.Load(to)
	if !ok {
		return fmt.Errorf("send %s to %s: %w", ev.Kind, to, domain.ErrConnectionNotFound)
	}
	if err := c.SendEvent(ev); err != nil {
		return fmt.Errorf("send %s to %s: %w", ev.Kind, to, err)
	}
	return nil
}

func (h *Hub) SendEventToMany(ctx context.Context, to []domain.ConnectionID, ev domain.Event) error {
	var errs []error
	for _, id := range to {
		if err := h.SendEvent(ctx, id, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *Hub) BroadcastEvent(ctx context.Context, ev domain.Event) error {
	var errs []error
	h.clients.Range(func(id domain.ConnectionID, c *Client) bool {
		if err := c.SendEvent(ev); err != nil {
			errs = append(errs, fmt.Errorf("send %s to %s: %w", ev.Kind, id, err))
		}
		return true
	})
	return errors.Join(errs...)
}

func (h *Hub) Count() int {
	n := 0
	h.clients.Range(func(domain.ConnectionID, *Client) bool {
		n++
		return true
	})
	return n
}

// Stop closes every registered client.
func (h *Hub) Stop() {
	h.clients.Range(func(id domain.ConnectionID, c *Client) bool {
		h.clients.Delete(id)
		c.Close()
		return true
	})
}

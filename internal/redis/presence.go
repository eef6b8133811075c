package redis

import (
	"context"
	"log/slog"
	"time"
)

// Key layout: stream:<id> is a hash of stream metadata, stream:<id>:viewers
// is the live viewer set. Both expire so a crashed relay leaves no ghosts.
const presenceTTL = 24 * time.Hour

// Presence mirrors relay session membership into Redis. It satisfies the
// relay's Presence port.
type Presence struct {
	client *Client
	ctx    context.Context
}

func NewPresence(ctx context.Context, client *Client) *Presence {
	return &Presence{client: client, ctx: ctx}
}

func (p *Presence) StreamStarted(streamID, broadcasterID string) {
	rdb := p.client.Raw()
	if err := rdb.HSet(p.ctx, "stream:"+streamID,
		"broadcaster", broadcasterID,
		"startedAt", time.Now().Unix(),
	).Err(); err != nil {
		slog.Warn("presence: stream start not recorded", "streamId", streamID, "error", err)
		return
	}
	rdb.Expire(p.ctx, "stream:"+streamID, presenceTTL)
}

func (p *Presence) StreamEnded(streamID string) {
	rdb := p.client.Raw()
	if err := rdb.Del(p.ctx, "stream:"+streamID, "stream:"+streamID+":viewers").Err(); err != nil {
		slog.Warn("presence: stream end not recorded", "streamId", streamID, "error", err)
	}
}

func (p *Presence) ViewerJoined(streamID, connID string) {
	rdb := p.client.Raw()
	if err := rdb.SAdd(p.ctx, "stream:"+streamID+":viewers", connID).Err(); err != nil {
		slog.Warn("presence: viewer join not recorded", "streamId", streamID, "error", err)
		return
	}
	rdb.Expire(p.ctx, "stream:"+streamID+":viewers", presenceTTL)
}

func (p *Presence) ViewerLeft(streamID, connID string) {
	rdb := p.client.Raw()
	if err := rdb.SRem(p.ctx, "stream:"+streamID+":viewers", connID).Err(); err != nil {
		slog.Warn("presence: viewer leave not recorded", "streamId", streamID, "error", err)
	}
}

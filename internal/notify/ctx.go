package notify

import (
	"context"
	"time"
)

type ctxKey int

const clientCtxKey ctxKey = 1

func WithClient(ctx context.Context, c *Client) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, clientCtxKey, c)
}

func ClientFromContext(ctx context.Context) *Client {
	if ctx == nil {
		return nil
	}
	v := ctx.Value(clientCtxKey)
	c, _ := v.(*Client)
	return c
}

// EventBestEffort fires a notification from any context, swallowing every
// failure. Detached from the caller's ctx so request cancellation cannot
// drop an already-earned notification.
func EventBestEffort(ctx context.Context, kind string, userID uint64, details map[string]any) {
	c := ClientFromContext(ctx)
	if c == nil {
		return
	}
	ctx2, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = c.CreateEvent(ctx2, EventRequest{
		Kind:    kind,
		UserID:  userID,
		Level:   "info",
		Details: details,
	})
}

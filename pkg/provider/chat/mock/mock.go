// Package mock provides a test double for the chat.Chatter interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/novalive/pkg/provider/chat"
)

var _ chat.Chatter = (*Chatter)(nil)

// Chatter is a mock implementation of chat.Chatter.
type Chatter struct {
	mu sync.Mutex

	// Response is returned by Reply when Err is nil.
	Response chat.Response

	// Err, if non-nil, is returned by Reply for valid requests.
	Err error

	// Requests records every Reply call in order.
	Requests []chat.Request
}

// Reply records req, validates it and returns Response or Err.
func (c *Chatter) Reply(_ context.Context, req chat.Request) (chat.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Requests = append(c.Requests, req)
	if err := req.Validate(); err != nil {
		return chat.Response{}, err
	}
	if c.Err != nil {
		return chat.Response{}, c.Err
	}
	return c.Response, nil
}

// Calls returns the number of Reply calls.
func (c *Chatter) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Requests)
}

// LastRequest returns the most recent request, or the zero Request.
func (c *Chatter) LastRequest() chat.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Requests) == 0 {
		return chat.Request{}
	}
	return c.Requests[len(c.Requests)-1]
}

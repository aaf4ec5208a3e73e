package usecase

import (
	"context"
	"sync"
)

// Response is a terminal payload for the caller that requested the session.
type Response struct {
	Status int
	Code   string
}

// ResponseSink accepts at most one terminal write.
type ResponseSink interface {
	Deliver(Response) bool
	Delivered() bool
}

type responseState int

const (
	responsePending responseState = iota
	responseDelivered
)

// OneShot is a ResponseSink whose first Deliver wins; later writes are dropped.
type OneShot struct {
	mu    sync.Mutex
	state responseState
	resp  Response
	done  chan struct{}
}

func NewOneShot() *OneShot {
	return &OneShot{done: make(chan struct{})}
}

// Deliver stores resp if nothing was delivered yet and reports whether it did.
func (o *OneShot) Deliver(resp Response) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == responseDelivered {
		return false
	}
	o.state = responseDelivered
	o.resp = resp
	close(o.done)
	return true
}

func (o *OneShot) Delivered() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state == responseDelivered
}

// Wait blocks until a response is delivered or ctx ends.
func (o *OneShot) Wait(ctx context.Context) (Response, bool) {
	select {
	case <-o.done:
		o.mu.Lock()
		defer o.mu.Unlock()
		return o.resp, true
	case <-ctx.Done():
		return Response{}, false
	}
}

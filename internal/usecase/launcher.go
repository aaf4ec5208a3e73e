package usecase

import (
	"context"
	"errors"
	"sync"

	"pairbot/internal/domain"
)

type runner interface {
	Run(ctx context.Context, req Request) domain.Termination
}

// Launcher admits one session per process and reports the terminal result
// of the session that ends it.
type Launcher struct {
	director runner
	ctx      context.Context

	mu      sync.Mutex
	running bool
	results chan domain.Termination
}

// NewLauncher runs sessions under ctx, which should live as long as the process.
func NewLauncher(ctx context.Context, director runner) (*Launcher, error) {
	if director == nil {
		return nil, errors.New("usecase: director must not be nil")
	}
	return &Launcher{
		director: director,
		ctx:      ctx,
		results:  make(chan domain.Termination, 1),
	}, nil
}

// Start begins a session for number and returns the sink that receives its
// single HTTP response.
func (l *Launcher) Start(number string) (*OneShot, error) {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return nil, ErrSessionInProgress
	}
	l.running = true
	l.mu.Unlock()

	sink := NewOneShot()
	go func() {
		term := l.director.Run(l.ctx, Request{Number: number, Sink: sink})
		if term.Ends() {
			l.results <- term
			return
		}
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
	}()
	return sink, nil
}

// Results yields the termination that should end the process.
func (l *Launcher) Results() <-chan domain.Termination {
	return l.results
}

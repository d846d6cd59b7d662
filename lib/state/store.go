package state

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/bign8/postfetch/lib/fetch"
)

var (
	ErrClosed  = errors.New(`state: store closed`)
	ErrRunning = errors.New(`state: store already running`)
)

type message struct {
	fn   func(*Holder)
	done chan struct{}
}

// Store owns a Holder on a single goroutine (Run). Every read and write goes
// through its message channel, including fetch completions produced on worker
// goroutines.
type Store struct {
	fetcher fetch.Fetcher
	log     logrus.FieldLogger
	holder  *Holder
	msgs    chan message
	closed  chan struct{}
	running atomic.Bool
}

func NewStore(f fetch.Fetcher, mode Mode, log logrus.FieldLogger) *Store {
	return &Store{
		fetcher: f,
		log:     log,
		holder:  NewHolder(mode),
		msgs:    make(chan message),
		closed:  make(chan struct{}),
	}
}

// Run applies messages until ctx is done. It may be called once.
func (s *Store) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer close(s.closed)
	for {
		select {
		case m := <-s.msgs:
			m.fn(s.holder)
			close(m.done)
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Store) do(ctx context.Context, fn func(*Holder)) error {
	m := message{fn: fn, done: make(chan struct{})}
	select {
	case s.msgs <- m:
	case <-s.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-m.done
	return nil
}

// Fetch starts a request and returns a channel that is closed once its outcome
// has been applied to, or discarded by, the state. The request is not
// cancelled when ctx is.
func (s *Store) Fetch(ctx context.Context) (<-chan struct{}, error) {
	var tok Token
	if err := s.do(ctx, func(h *Holder) { tok = h.BeginFetch() }); err != nil {
		return nil, err
	}

	log := s.log.WithFields(logrus.Fields{
		`request_id`: uuid.NewString(),
		`session`:    tok.Session,
		`request`:    tok.Request,
	})
	log.Debug(`fetch started`)

	settled := make(chan struct{})
	go func() {
		defer close(settled)
		res := <-fetch.Start(context.WithoutCancel(ctx), s.fetcher)

		var applied bool
		err := s.do(context.Background(), func(h *Holder) {
			if res.Err != nil {
				applied = h.CompleteFailure(tok, res.Err.Error())
			} else {
				applied = h.CompleteSuccess(tok, res.Posts)
			}
		})
		switch {
		case err != nil:
			log.WithError(err).Warn(`fetch finished after store closed`)
		case !applied:
			log.Debug(`fetch result discarded`)
		case res.Err != nil:
			log.WithError(res.Err).Warn(`fetch failed`)
		default:
			log.WithField(`posts`, len(res.Posts)).Info(`fetch completed`)
		}
	}()
	return settled, nil
}

func (s *Store) Snapshot(ctx context.Context) (FetchState, error) {
	var out FetchState
	err := s.do(ctx, func(h *Holder) { out = h.Snapshot() })
	return out, err
}

// Reset clears posts and error and returns the resulting state.
func (s *Store) Reset(ctx context.Context) (FetchState, error) {
	var out FetchState
	err := s.do(ctx, func(h *Holder) {
		h.Reset()
		out = h.Snapshot()
	})
	if err == nil {
		s.log.Debug(`state reset`)
	}
	return out, err
}

// SelectMode switches the demonstration mode, resetting on change.
func (s *Store) SelectMode(ctx context.Context, m Mode) (FetchState, error) {
	var (
		out     FetchState
		changed bool
	)
	err := s.do(ctx, func(h *Holder) {
		changed = h.SelectMode(m)
		out = h.Snapshot()
	})
	if err == nil && changed {
		s.log.WithField(`mode`, m).Debug(`mode selected`)
	}
	return out, err
}

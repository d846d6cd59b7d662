package state

import (
	"fmt"

	"github.com/bign8/postfetch/lib/domain"
)

type Phase int

const (
	Idle Phase = iota
	Loading
	Succeeded
	Failed
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return `idle`
	case Loading:
		return `loading`
	case Succeeded:
		return `succeeded`
	case Failed:
		return `failed`
	}
	return fmt.Sprintf(`phase(%d)`, int(p))
}

// Mode labels one of the demonstration modes. The labels only select what the
// screen claims to demonstrate: every mode, ModeClient included, fetches through
// the same fetch.Client. Switching between them starts over with an empty screen.
type Mode string

const (
	ModeAwait    Mode = `await`
	ModeCallback Mode = `callback`
	ModeStream   Mode = `stream`
	ModeClient   Mode = `client`
)

var Modes = []Mode{ModeAwait, ModeCallback, ModeStream, ModeClient}

func ParseMode(s string) (Mode, error) {
	for _, m := range Modes {
		if string(m) == s {
			return m, nil
		}
	}
	return ``, fmt.Errorf(`unknown mode %q`, s)
}

// FetchState is a snapshot of what the screen shows.
type FetchState struct {
	Posts        []domain.Post
	IsLoading    bool
	ErrorMessage string // empty means no error
	Phase        Phase
	Mode         Mode
}

// Token identifies a fetch started by BeginFetch. Completions carry it back so
// results of superseded requests or reset sessions are not applied.
type Token struct {
	Session uint64
	Request uint64
}

// Holder is the presentation state. It is not safe for concurrent use; Store
// serializes access to one.
type Holder struct {
	state   FetchState
	session uint64
	request uint64
}

func NewHolder(mode Mode) *Holder {
	return &Holder{state: FetchState{Posts: []domain.Post{}, Mode: mode}}
}

// BeginFetch marks a request in flight. Posts stay visible while loading.
func (h *Holder) BeginFetch() Token {
	h.request++
	h.state.IsLoading = true
	h.state.ErrorMessage = ``
	h.state.Phase = Loading
	return Token{Session: h.session, Request: h.request}
}

// CompleteSuccess applies posts fetched for tok and reports whether they were
// applied.
func (h *Holder) CompleteSuccess(tok Token, posts []domain.Post) bool {
	if !h.settle(tok) {
		return false
	}
	if posts == nil {
		posts = []domain.Post{}
	}
	h.state.Posts = posts
	h.state.ErrorMessage = ``
	h.state.Phase = Succeeded
	return true
}

// CompleteFailure records msg for tok, leaving posts as they were.
func (h *Holder) CompleteFailure(tok Token, msg string) bool {
	if !h.settle(tok) {
		return false
	}
	h.state.ErrorMessage = msg
	h.state.Phase = Failed
	return true
}

// settle ends the loading state for the latest request and reports whether
// its payload may be applied.
func (h *Holder) settle(tok Token) bool {
	if tok.Request != h.request {
		// a newer request owns the loading flag
		return false
	}
	h.state.IsLoading = false
	if tok.Session != h.session {
		h.state.Phase = Idle
		return false
	}
	return true
}

// Reset empties the list and the error without touching IsLoading. Anything
// still in flight will not be applied.
func (h *Holder) Reset() {
	h.session++
	h.state.Posts = []domain.Post{}
	h.state.ErrorMessage = ``
	if !h.state.IsLoading {
		h.state.Phase = Idle
	}
}

// SelectMode switches mode, resetting when it changes.
func (h *Holder) SelectMode(m Mode) bool {
	if m == h.state.Mode {
		return false
	}
	h.state.Mode = m
	h.Reset()
	return true
}

// Snapshot copies the current state.
func (h *Holder) Snapshot() FetchState {
	s := h.state
	s.Posts = append([]domain.Post(nil), h.state.Posts...)
	if s.Posts == nil {
		s.Posts = []domain.Post{}
	}
	return s
}

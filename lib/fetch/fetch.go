package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/bign8/postfetch/lib/domain"
)

const DefaultURL = `https://jsonplaceholder.typicode.com/posts`

// Client fetches the posts listing from a fixed URL.
type Client struct {
	URL  string
	HTTP *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces http.DefaultClient. Timeouts are whatever hc says.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.HTTP = hc }
}

func New(rawURL string, opts ...Option) *Client {
	c := &Client{URL: rawURL, HTTP: http.DefaultClient}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch issues one GET and decodes the body as a list of posts. The returned
// slice is never nil on success. All failures are *Error.
func (c *Client) Fetch(ctx context.Context) ([]domain.Post, error) {
	ctx, span := otel.Tracer(``).Start(ctx, `fetch.posts`)
	defer span.End()
	span.SetAttributes(attribute.String(`http.url`, c.URL))

	posts, status, err := c.fetch(ctx)
	if status != 0 {
		span.SetAttributes(attribute.Int(`http.status_code`, status))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int(`posts.count`, len(posts)))
	return posts, nil
}

func (c *Client) fetch(ctx context.Context) ([]domain.Post, int, error) {
	target, err := validate(c.URL)
	if err != nil {
		return nil, 0, &Error{Kind: InvalidConfiguration, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, 0, &Error{Kind: InvalidConfiguration, Err: fmt.Errorf(`request: %w`, err)}
	}
	// an explicitly empty User-Agent is omitted from the request
	req.Header.Set(`User-Agent`, ``)

	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	res, err := hc.Do(req)
	if err != nil {
		return nil, 0, &Error{Kind: NetworkFailure, Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		io.Copy(io.Discard, res.Body)
		return nil, res.StatusCode, &Error{Kind: NetworkFailure, Err: fmt.Errorf(`request failed: %s`, res.Status)}
	}

	dec := json.NewDecoder(res.Body)
	var posts []domain.Post
	if err := dec.Decode(&posts); err != nil {
		return nil, res.StatusCode, &Error{Kind: decodeKind(err), Err: err}
	}
	if err := dec.Decode(new(json.RawMessage)); err != io.EOF {
		if err == nil || decodeKind(err) == DecodeFailure {
			return nil, res.StatusCode, &Error{Kind: DecodeFailure, Err: errors.New(`trailing data after posts`)}
		}
		return nil, res.StatusCode, &Error{Kind: NetworkFailure, Err: fmt.Errorf(`read body: %w`, err)}
	}
	if posts == nil {
		posts = []domain.Post{}
	}
	return posts, res.StatusCode, nil
}

// decodeKind tells a malformed body apart from a connection that broke while
// the body was being read.
func decodeKind(err error) Kind {
	var (
		syntax *json.SyntaxError
		typ    *json.UnmarshalTypeError
	)
	switch {
	case errors.As(err, &syntax), errors.As(err, &typ),
		errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return DecodeFailure
	}
	return NetworkFailure
}

func validate(raw string) (*url.URL, error) {
	if raw == `` {
		return nil, errors.New(`empty url`)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != `http` && u.Scheme != `https` {
		return nil, fmt.Errorf(`url %q: unsupported scheme %q`, raw, u.Scheme)
	}
	if u.Host == `` {
		return nil, fmt.Errorf(`url %q: missing host`, raw)
	}
	return u, nil
}

// Fetcher is anything that can produce the posts listing.
type Fetcher interface {
	Fetch(ctx context.Context) ([]domain.Post, error)
}

// Result is the single outcome of one fetch.
type Result struct {
	Posts []domain.Post
	Err   error
}

// Start runs Fetch on its own goroutine. The channel yields exactly one Result
// and is then closed.
func Start(ctx context.Context, f Fetcher) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		defer close(out)
		posts, err := f.Fetch(ctx)
		out <- Result{Posts: posts, Err: err}
	}()
	return out
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/graphql-go/graphql"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bign8/postfetch/lib/fetch"
	"github.com/bign8/postfetch/lib/state"
)

func quiet() *logrus.Logger {
	l, _ := test.NewNullLogger()
	return l
}

func upstream(t *testing.T, status int, body string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func setup(t *testing.T, url string) graphql.Schema {
	t.Helper()
	store := state.NewStore(fetch.New(url), state.ModeAwait, quiet())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go store.Run(ctx)

	schema, err := newSchema(store)
	require.NoError(t, err)
	return schema
}

func do(t *testing.T, schema graphql.Schema, query string) string {
	t.Helper()
	res := graphql.Do(graphql.Params{
		Schema:        schema,
		RequestString: query,
		Context:       context.Background(),
	})
	require.Empty(t, res.Errors)
	out, err := json.Marshal(res.Data)
	require.NoError(t, err)
	return string(out)
}

const fields = `{ posts { id userId title body } isLoading errorMessage phase mode }`

func TestSchema(t *testing.T) {
	t.Run(`initial`, func(t *testing.T) {
		schema := setup(t, upstream(t, http.StatusOK, `[]`))
		assert.JSONEq(t,
			`{"state":{"posts":[],"isLoading":false,"errorMessage":null,"phase":"idle","mode":"await"}}`,
			do(t, schema, `{ state `+fields+` }`))
	})

	t.Run(`fetch then reset`, func(t *testing.T) {
		schema := setup(t, upstream(t, http.StatusOK, `[{"id":1,"userId":1,"title":"t","body":"b"}]`))
		assert.JSONEq(t,
			`{"fetch":{"posts":[{"id":1,"userId":1,"title":"t","body":"b"}],"isLoading":false,"errorMessage":null,"phase":"succeeded","mode":"await"}}`,
			do(t, schema, `mutation { fetch `+fields+` }`))
		assert.JSONEq(t,
			`{"reset":{"posts":[],"isLoading":false,"errorMessage":null,"phase":"idle","mode":"await"}}`,
			do(t, schema, `mutation { reset `+fields+` }`))
	})

	t.Run(`failure`, func(t *testing.T) {
		schema := setup(t, upstream(t, http.StatusInternalServerError, `oops`))
		var out struct {
			Fetch struct {
				IsLoading    bool
				ErrorMessage *string
				Phase        string
			}
		}
		require.NoError(t, json.Unmarshal([]byte(do(t, schema, `mutation { fetch `+fields+` }`)), &out))
		assert.False(t, out.Fetch.IsLoading)
		require.NotNil(t, out.Fetch.ErrorMessage)
		assert.Contains(t, *out.Fetch.ErrorMessage, `request failed`)
		assert.Equal(t, `failed`, out.Fetch.Phase)
	})

	t.Run(`fetch without waiting`, func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-release
			w.Write([]byte(`[{"id":1,"userId":1,"title":"t","body":"b"}]`))
		}))
		t.Cleanup(srv.Close)
		schema := setup(t, srv.URL)

		assert.JSONEq(t,
			`{"fetch":{"posts":[],"isLoading":true,"phase":"loading"}}`,
			do(t, schema, `mutation { fetch(wait: false) { posts { id } isLoading phase } }`))
		close(release)

		assert.Eventually(t, func() bool {
			res := graphql.Do(graphql.Params{
				Schema:        schema,
				RequestString: `{ state { phase } }`,
				Context:       context.Background(),
			})
			out, _ := json.Marshal(res.Data)
			return string(out) == `{"state":{"phase":"succeeded"}}`
		}, 5*time.Second, 10*time.Millisecond)
	})

	t.Run(`select mode`, func(t *testing.T) {
		schema := setup(t, upstream(t, http.StatusOK, `[{"id":1,"userId":1,"title":"t","body":"b"}]`))
		do(t, schema, `mutation { fetch { isLoading } }`)
		assert.JSONEq(t,
			`{"selectMode":{"posts":[],"mode":"stream"}}`,
			do(t, schema, `mutation { selectMode(mode: "stream") { posts { id } mode } }`))

		res := graphql.Do(graphql.Params{
			Schema:        schema,
			RequestString: `mutation { selectMode(mode: "rx") { mode } }`,
			Context:       context.Background(),
		})
		require.Len(t, res.Errors, 1)
		assert.Contains(t, res.Errors[0].Message, `unknown mode`)
	})
}

func TestRouter(t *testing.T) {
	schema := setup(t, upstream(t, http.StatusOK, `[]`))
	srv := httptest.NewServer(newRouter(&schema, quiet()))
	defer srv.Close()

	t.Run(`graphql`, func(t *testing.T) {
		body, err := json.Marshal(map[string]string{`query`: `{ state { phase } }`})
		require.NoError(t, err)
		res, err := http.Post(srv.URL+`/graphql`, `application/json`, bytes.NewReader(body))
		require.NoError(t, err)
		defer res.Body.Close()
		assert.Equal(t, http.StatusOK, res.StatusCode)

		var out struct {
			Data struct {
				State struct{ Phase string }
			}
		}
		require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
		assert.Equal(t, `idle`, out.Data.State.Phase)
	})

	t.Run(`redirect`, func(t *testing.T) {
		client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}}
		res, err := client.Get(srv.URL + `/`)
		require.NoError(t, err)
		res.Body.Close()
		assert.Equal(t, http.StatusSeeOther, res.StatusCode)
		assert.Equal(t, `/graphql`, res.Header.Get(`Location`))
	})
}

func TestServeDrainsInFlightFetch(t *testing.T) {
	arrived := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(arrived)
		time.Sleep(100 * time.Millisecond)
		w.Write([]byte(`[{"id":1,"userId":1,"title":"t","body":"b"}]`))
	}))
	defer srv.Close()

	store := state.NewStore(fetch.New(srv.URL), state.ModeAwait, quiet())
	schema, err := newSchema(store)
	require.NoError(t, err)
	l, err := net.Listen(`tcp`, `127.0.0.1:0`)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- serve(ctx, l, newRouter(&schema, quiet()), store, quiet()) }()

	type reply struct {
		body []byte
		err  error
	}
	replies := make(chan reply, 1)
	go func() {
		query, _ := json.Marshal(map[string]string{`query`: `mutation { fetch { posts { id } } }`})
		res, err := http.Post(`http://`+l.Addr().String()+`/graphql`, `application/json`, bytes.NewReader(query))
		if err != nil {
			replies <- reply{err: err}
			return
		}
		defer res.Body.Close()
		body, err := io.ReadAll(res.Body)
		replies <- reply{body: body, err: err}
	}()

	<-arrived
	cancel() // shutdown starts while the upstream is still answering

	r := <-replies
	require.NoError(t, r.err)
	assert.JSONEq(t, `{"data":{"fetch":{"posts":[{"id":1}]}}}`, string(r.body))
	require.NoError(t, <-served)

	_, err = store.Snapshot(context.Background())
	assert.ErrorIs(t, err, state.ErrClosed, `store stops once the server is down`)
}

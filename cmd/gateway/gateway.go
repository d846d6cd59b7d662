package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/gqlerrors"
	"github.com/graphql-go/handler"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/bign8/postfetch/lib/env"
	"github.com/bign8/postfetch/lib/fetch"
	"github.com/bign8/postfetch/lib/logging"
	"github.com/bign8/postfetch/lib/state"
	"github.com/bign8/postfetch/lib/tracing"
)

const version = `0.1.0`

var (
	postType = graphql.NewObject(graphql.ObjectConfig{
		Name: `Post`,
		Fields: graphql.Fields{
			`id`:     &graphql.Field{Type: graphql.Int},
			`userId`: &graphql.Field{Type: graphql.Int},
			`title`:  &graphql.Field{Type: graphql.String},
			`body`:   &graphql.Field{Type: graphql.String},
		},
	})
	fetchStateType = graphql.NewObject(graphql.ObjectConfig{
		Name: `FetchState`,
		Fields: graphql.Fields{
			`posts`:        &graphql.Field{Type: graphql.NewList(postType)},
			`isLoading`:    &graphql.Field{Type: graphql.Boolean},
			`errorMessage`: &graphql.Field{Type: graphql.String},
			`phase`:        &graphql.Field{Type: graphql.String},
			`mode`:         &graphql.Field{Type: graphql.String},
		},
	})
)

// view renders a snapshot the way the FetchState type expects it.
func view(st state.FetchState) map[string]any {
	var msg any
	if st.ErrorMessage != `` {
		msg = st.ErrorMessage
	}
	return map[string]any{
		`posts`:        st.Posts,
		`isLoading`:    st.IsLoading,
		`errorMessage`: msg,
		`phase`:        st.Phase.String(),
		`mode`:         string(st.Mode),
	}
}

func rendered(st state.FetchState, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	return view(st), nil
}

func newSchema(store *state.Store) (graphql.Schema, error) {
	return graphql.NewSchema(graphql.SchemaConfig{
		Query: graphql.NewObject(graphql.ObjectConfig{
			Name: `RootQuery`,
			Fields: graphql.Fields{
				`state`: &graphql.Field{
					Type: fetchStateType,
					Resolve: func(p graphql.ResolveParams) (any, error) {
						return rendered(store.Snapshot(p.Context))
					},
				},
			},
		}),
		Mutation: graphql.NewObject(graphql.ObjectConfig{
			Name: `RootMutation`,
			Fields: graphql.Fields{
				`fetch`: &graphql.Field{
					Type: fetchStateType,
					Args: graphql.FieldConfigArgument{
						`wait`: &graphql.ArgumentConfig{
							Type:         graphql.Boolean,
							DefaultValue: true,
						},
					},
					Resolve: func(p graphql.ResolveParams) (any, error) {
						settled, err := store.Fetch(p.Context)
						if err != nil {
							return nil, err
						}
						if wait, _ := p.Args[`wait`].(bool); wait {
							select {
							case <-settled:
							case <-p.Context.Done():
								return nil, p.Context.Err()
							}
						}
						return rendered(store.Snapshot(p.Context))
					},
				},
				`reset`: &graphql.Field{
					Type: fetchStateType,
					Resolve: func(p graphql.ResolveParams) (any, error) {
						return rendered(store.Reset(p.Context))
					},
				},
				`selectMode`: &graphql.Field{
					Type: fetchStateType,
					Args: graphql.FieldConfigArgument{
						`mode`: &graphql.ArgumentConfig{
							Type: graphql.NewNonNull(graphql.String),
						},
					},
					Resolve: func(p graphql.ResolveParams) (any, error) {
						mode, err := state.ParseMode(p.Args[`mode`].(string))
						if err != nil {
							return nil, err
						}
						return rendered(store.SelectMode(p.Context, mode))
					},
				},
			},
		}),
	})
}

type tracer struct{}

func (t tracer) TraceQuery(ctx context.Context, queryString, operationName string) (context.Context, graphql.TraceQueryFinishFunc) {
	if operationName == `` {
		operationName = `graphql`
	}
	ctx, span := otel.Tracer(``).Start(ctx, operationName)
	return ctx, func(fe []gqlerrors.FormattedError) {
		for _, e := range fe {
			span.RecordError(errors.New(e.Message))
		}
		span.End()
	}
}

func (t tracer) TraceField(ctx context.Context, fieldName, typeName string) (context.Context, graphql.TraceFieldFinishFunc) {
	if typeName != `FetchState` {
		return ctx, func(fe []gqlerrors.FormattedError) { /* leaves are not worth a span */ }
	}

	ctx, span := otel.Tracer(``).Start(ctx, fieldName+`.`+typeName)
	return ctx, func(fe []gqlerrors.FormattedError) {
		span.End()
	}
}

func newRouter(schema *graphql.Schema, log logrus.FieldLogger) http.Handler {
	h := handler.New(&handler.Config{
		Schema:     schema,
		Pretty:     true,
		Playground: true,
		Tracer:     &tracer{},
	})
	r := chi.NewRouter()
	r.Handle(`/graphql`, h)
	r.Handle(`/`, http.RedirectHandler(`/graphql`, http.StatusSeeOther))
	return measure(log, r)
}

func measure(log logrus.FieldLogger, h http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, span := otel.Tracer(``).Start(r.Context(), r.Method+` `+r.URL.Path)
		defer span.End()
		h.ServeHTTP(w, r.WithContext(ctx))
		log.WithFields(logrus.Fields{
			`method`:   r.Method,
			`path`:     r.URL.Path,
			`duration`: time.Since(start).Round(time.Nanosecond * 100).String(),
		}).Info(`request`)
	}
}

func check(err error) {
	if err != nil {
		logrus.Fatal(err)
	}
}

func run(ctx context.Context, log *logrus.Logger) error {
	shutdown, err := tracing.Init(ctx, `gateway`, version)
	if err != nil {
		return err
	}
	defer shutdown(context.Background())

	timeout, err := env.Duration(`FETCH_TIMEOUT`, 0)
	if err != nil {
		return err
	}
	client := fetch.New(
		env.Default(`POSTS_URL`, fetch.DefaultURL),
		fetch.WithHTTPClient(&http.Client{Timeout: timeout}),
	)
	store := state.NewStore(client, state.ModeAwait, log)

	schema, err := newSchema(store)
	if err != nil {
		return fmt.Errorf(`schema: %w`, err)
	}

	l, err := net.Listen(`tcp`, env.Default(`GATEWAY_ADDR`, `[::]:8000`))
	if err != nil {
		return fmt.Errorf(`listen: %w`, err)
	}
	return serve(ctx, l, newRouter(&schema, log), store, log)
}

// serve runs the store and the HTTP server until ctx is done. The store
// outlives the server so requests drained by Shutdown can still settle.
func serve(ctx context.Context, l net.Listener, h http.Handler, store *state.Store, log logrus.FieldLogger) error {
	sctx, stopStore := context.WithCancel(context.Background())
	stored := make(chan struct{})
	go func() {
		defer close(stored)
		store.Run(sctx)
	}()
	defer func() {
		stopStore()
		<-stored
	}()

	server := &http.Server{Handler: h}
	errs := make(chan error, 1)
	go func() {
		log.Infof(`gateway on %v`, l.Addr())
		if err := server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
		close(errs)
	}()

	select {
	case err := <-errs:
		return fmt.Errorf(`serve: %w`, err)
	case <-ctx.Done():
	}
	log.Info(`shutting down`)
	tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(tctx)
}

func main() {
	check(env.Load())
	log, err := logging.New(env.Default(`LOG_LEVEL`, `info`), env.Default(`LOG_FORMAT`, `text`))
	check(err)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, log); err != nil {
		log.Fatal(err)
	}
}

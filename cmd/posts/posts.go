package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bign8/postfetch/lib/env"
	"github.com/bign8/postfetch/lib/fetch"
	"github.com/bign8/postfetch/lib/logging"
	"github.com/bign8/postfetch/lib/state"
	"github.com/bign8/postfetch/lib/tracing"
)

const version = `0.1.0`

var errFetchFailed = errors.New(`fetch failed`)

type options struct {
	url     string
	timeout time.Duration
	json    bool
	mode    string
}

func newRootCmd(log *logrus.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           `posts`,
		Short:         `Fetch and show the posts listing`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newFetchCmd(log))
	return root
}

func newFetchCmd(log *logrus.Logger) *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   `fetch`,
		Short: `Fetch posts once and print the resulting state`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return fetchOnce(cmd.Context(), cmd.OutOrStdout(), log, opts)
		},
	}
	timeout, err := env.Duration(`FETCH_TIMEOUT`, 0)
	if err != nil {
		log.WithError(err).Warn(`ignoring FETCH_TIMEOUT`)
	}
	cmd.Flags().StringVar(&opts.url, `url`, env.Default(`POSTS_URL`, fetch.DefaultURL), `posts endpoint`)
	cmd.Flags().DurationVar(&opts.timeout, `timeout`, timeout, `request timeout, 0 for none`)
	cmd.Flags().BoolVar(&opts.json, `json`, false, `print the state as JSON`)
	cmd.Flags().StringVar(&opts.mode, `mode`, string(state.ModeAwait), `demonstration mode label`)
	return cmd
}

func fetchOnce(ctx context.Context, w io.Writer, log *logrus.Logger, opts options) error {
	mode, err := state.ParseMode(opts.mode)
	if err != nil {
		return err
	}
	client := fetch.New(opts.url, fetch.WithHTTPClient(&http.Client{Timeout: opts.timeout}))
	store := state.NewStore(client, mode, log)

	rctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go store.Run(rctx)

	settled, err := store.Fetch(ctx)
	if err != nil {
		return fmt.Errorf(`fetch: %w`, err)
	}
	<-settled

	st, err := store.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf(`snapshot: %w`, err)
	}
	if err := render(w, st, opts.json); err != nil {
		return fmt.Errorf(`render: %w`, err)
	}
	if st.ErrorMessage != `` {
		return fmt.Errorf(`%w: %s`, errFetchFailed, st.ErrorMessage)
	}
	return nil
}

type jsonState struct {
	Posts        any     `json:"posts"`
	IsLoading    bool    `json:"isLoading"`
	ErrorMessage *string `json:"errorMessage"`
	Phase        string  `json:"phase"`
	Mode         string  `json:"mode"`
}

func render(w io.Writer, st state.FetchState, asJSON bool) error {
	if asJSON {
		out := jsonState{
			Posts:     st.Posts,
			IsLoading: st.IsLoading,
			Phase:     st.Phase.String(),
			Mode:      string(st.Mode),
		}
		if st.ErrorMessage != `` {
			out.ErrorMessage = &st.ErrorMessage
		}
		enc := json.NewEncoder(w)
		enc.SetIndent(``, `  `)
		return enc.Encode(out)
	}

	if st.ErrorMessage != `` {
		_, err := fmt.Fprintf(w, "error: %s\n", st.ErrorMessage)
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUSER\tTITLE")
	for _, p := range st.Posts {
		fmt.Fprintf(tw, "%d\t%d\t%s\n", p.ID, p.UserID, p.Title)
	}
	return tw.Flush()
}

func check(err error) {
	if err != nil {
		logrus.Fatal(err)
	}
}

func main() {
	check(env.Load())
	log, err := logging.New(env.Default(`LOG_LEVEL`, `warn`), env.Default(`LOG_FORMAT`, `text`))
	check(err)

	ctx := context.Background()
	shutdown, err := tracing.Init(ctx, `posts`, version)
	check(err)

	err = newRootCmd(log).ExecuteContext(ctx)
	shutdown(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

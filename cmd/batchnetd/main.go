// Command batchnetd runs the network core's connection multiplexer with
// the job-submission collaborator registered as its primary application
// handler.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hashicorp/go-envparse"
	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/pflag"

	"github.com/r2northstar/batchnet/jobqueue"
	"github.com/r2northstar/batchnet/jobqueue/jobdb"
	"github.com/r2northstar/batchnet/jobqueue/memstore"
	"github.com/r2northstar/batchnet/pkg/netcore"
)

var opt struct {
	Help bool
}

func init() {
	pflag.BoolVarP(&opt.Help, "help", "h", false, "Show this help text")
}

func main() {
	pflag.Parse()

	if pflag.NArg() > 1 || opt.Help {
		fmt.Printf("usage: %s [options] [env_file]\n\noptions:\n%s\nnote: if env_file is provided, config from the environment is ignored\n", os.Args[0], pflag.CommandLine.FlagUsages())
		if opt.Help {
			os.Exit(2)
		}
		os.Exit(0)
	}

	var e []string
	if pflag.NArg() == 0 {
		e = os.Environ()
	} else {
		if x, err := readEnv(pflag.Arg(0)); err == nil {
			e = x
		} else {
			fmt.Fprintf(os.Stderr, "error: read env file: %v\n", err)
			os.Exit(1)
		}
		if v, ok := os.LookupEnv("NOTIFY_SOCKET"); ok {
			e = append(e, "NOTIFY_SOCKET="+v)
		}
	}

	var c netcore.Config
	if err := c.UnmarshalEnv(e, false); err != nil {
		fmt.Fprintf(os.Stderr, "error: parse config: %v\n", err)
		os.Exit(1)
	}

	s, err := netcore.NewServer(&c)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: initialize server: %v\n", err)
		os.Exit(1)
	}

	store, err := configureJobStore(&c)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: initialize job store: %v\n", err)
		os.Exit(1)
	}

	if err := s.InitNetwork(firstOr(c.Addr, ":15001"), netcore.GenPrimary, jobqueue.NewHandler(store)); err != nil {
		fmt.Fprintf(os.Stderr, "error: init primary network: %v\n", err)
		os.Exit(1)
	}
	if len(c.AddrSecondary) != 0 {
		if err := s.InitNetwork(c.AddrSecondary[0], netcore.GenSecondary, jobqueue.NewHandler(store)); err != nil {
			fmt.Fprintf(os.Stderr, "error: init secondary network: %v\n", err)
			os.Exit(1)
		}
	}

	go serveMetrics(s)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hch := make(chan os.Signal, 1)
	signal.Notify(hch, syscall.SIGHUP)

	go func() {
		for range hch {
			fmt.Println("got SIGHUP")
			s.HandleSIGHUP()
		}
	}()

	if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "error: run server: %v\n", err)
		os.Exit(1)
	}
}

func configureJobStore(c *netcore.Config) (jobqueue.Store, error) {
	typ, arg, _ := strings.Cut(c.JobStore, ":")
	switch typ {
	case "", "memory":
		return memstore.NewStore(), nil
	case "sqlite3":
		return jobdb.Open(arg)
	default:
		return nil, fmt.Errorf("unknown job store type %q", typ)
	}
}

// serveMetrics serves the core's Prometheus metrics on a debug-only HTTP
// listener, gated by MetricsSecret, mirroring atlas's own internal
// /metrics gating pattern generalized to the core's own metrics set.
func serveMetrics(s *netcore.Server) {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		if err := s.WriteMetrics(w, r.URL.Query().Get("secret")); err != nil {
			http.Error(w, err.Error(), http.StatusForbidden)
		}
	})
	addr := os.Getenv("BATCHNET_METRICS_ADDR")
	if addr == "" {
		return
	}
	if err := http.ListenAndServe(addr, mux); err != nil {
		fmt.Fprintf(os.Stderr, "warning: metrics server failed: %v\n", err)
	}
}

func firstOr(xs []string, def string) string {
	if len(xs) == 0 || xs[0] == "" {
		return def
	}
	return xs[0]
}

func readEnv(name string) ([]string, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := envparse.Parse(f)
	if err != nil {
		return nil, err
	}

	var r []string
	for k, v := range m {
		r = append(r, k+"="+v)
	}
	return r, nil
}

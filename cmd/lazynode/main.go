package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/citizenwallet/lazynode/internal/config"
	"github.com/citizenwallet/lazynode/internal/logging"
	"github.com/citizenwallet/lazynode/internal/services/upstream"
	"github.com/citizenwallet/lazynode/internal/services/webhook"
	"github.com/citizenwallet/lazynode/pkg/proxy"
	"github.com/citizenwallet/lazynode/pkg/router"
	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

func main() {
	log.Default().Println("launching lazynode...")

	env := flag.String("env", "", "path to .env file")

	flags := config.RegisterFlags(flag.CommandLine)

	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conf, err := config.New(ctx, *env, flags.Overrides())
	if err != nil {
		log.Fatal(err)
	}

	logs, err := logging.New(conf.LogFilter, zapcore.Lock(os.Stdout), isTerminal(os.Stdout))
	if err != nil {
		log.Fatal(err)
	}
	defer logs.Sync()

	if conf.SentryURL != "" {
		err = sentry.Init(sentry.ClientOptions{
			Dsn: conf.SentryURL,
		})
		if err != nil {
			log.Fatalf("sentry.Init: %s", err)
		}
		// Flush buffered events before the program terminates.
		defer sentry.Flush(2 * time.Second)
	}

	w := webhook.NewMessager(conf.DiscordURL, "lazynode", &http.Client{Timeout: 10 * time.Second})

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := proxy.NewMetrics(reg)

	log.Default().Println("proxying node: ", conf.NodeURL)

	up := upstream.New(conf.NodeURL, &http.Client{Timeout: conf.UpstreamTimeout}, metrics.UpstreamLatency, logs.Named("lazynode.upstream"))

	p := proxy.New(proxy.Config{
		UpdateChance:     conf.UpdateChance,
		RefreshRateLimit: conf.RefreshRateLimit,
	}, up, proxy.NewBlockCache(), nil, metrics, logs.Named("lazynode.proxy"))

	api := router.NewServer(p, reg, conf.MaxBodyBytes, logs.Named("lazynode.router"))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return api.Start(ctx, conf.BindAddress)
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Default().Println("shutting down...")
		return nil
	})

	log.Default().Println("listening on: ", conf.BindAddress)

	err = g.Wait()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		w.NotifyError(context.Background(), err)
		sentry.CaptureException(err)
		log.Fatal(err)
	}

	log.Default().Println("lazynode stopped")
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

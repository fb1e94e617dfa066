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
	"github.com/citizenwallet/lazynode/internal/services/dshackle"
	"github.com/citizenwallet/lazynode/pkg/router"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

func main() {
	log.Default().Println("launching dshackle health adapter...")

	env := flag.String("env", "", "path to .env file")

	flags := config.RegisterHealthFlags(flag.CommandLine)

	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conf, err := config.NewHealth(ctx, *env, flags.Overrides())
	if err != nil {
		log.Fatal(err)
	}

	logs, err := logging.New(conf.LogFilter, zapcore.Lock(os.Stdout), false)
	if err != nil {
		log.Fatal(err)
	}
	defer logs.Sync()

	log.Default().Printf("monitoring node %s via %s", conf.NodeID, conf.HealthURL)

	d := dshackle.New(conf.HealthURL, conf.NodeID, conf.MaxLag(), &http.Client{Timeout: conf.Timeout}, logs.Named("healthadapter"))

	cr := chi.NewRouter()
	cr.Use(middleware.RequestID)
	cr.Use(router.RequestLogger(logs.Named("healthadapter.router")))
	cr.Use(middleware.Recoverer)
	cr.Get("/health", d.ServeHealth)

	srv := &http.Server{
		Addr:              conf.BindAddress,
		Handler:           cr,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.ListenAndServe()
	})

	g.Go(func() error {
		<-ctx.Done()

		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return srv.Shutdown(sctx)
	})

	log.Default().Println("listening on: ", conf.BindAddress)

	err = g.Wait()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}

package main

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"radartiler/internal/api"
	"radartiler/internal/manifest"
	"radartiler/internal/mosaic"
	"radartiler/internal/upstream"
)

func main() {
	InitFlag()
	InitSafeExit()
	InitConf(configPath)
	InitLog()

	fetcher := upstream.NewClient(conf.UpstreamConfig(), log)

	if renderPath != "" {
		task := NewRenderTask(fetcher, renderPath, renderZoom, renderLat, renderLon, renderSize)
		if err := task.Run(SafeExitInst.Context()); err != nil {
			log.Fatalf("render failed: %s", err)
		}
		return
	}

	if err := serve(fetcher); err != nil {
		log.Fatalf("server failed: %s", err)
	}
}

// newServer assembles the HTTP surface around fetcher.
func newServer(fetcher upstream.Fetcher) *http.Server {
	compositor := mosaic.New(fetcher, log, mosaic.WithWorkers(conf.Upstream.Workers))
	synth := manifest.NewSynthesizer(conf.Manifest.Host)
	handler := api.NewHandler(fetcher, compositor, synth, log, conf.App.Title)

	return &http.Server{
		Addr:         conf.Server.Addr,
		Handler:      api.NewRouter(handler, api.Config{CORSOrigins: conf.Server.CORSOrigins}, log),
		ReadTimeout:  conf.Server.ReadTimeout,
		WriteTimeout: conf.Server.WriteTimeout,
	}
}

func serve(fetcher upstream.Fetcher) error {
	srv := newServer(fetcher)

	drained := make(chan struct{})
	SafeExitInst.Register(func() {
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Warnf("server shutdown: %s", err)
		}
		close(drained)
	})

	banner()
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-drained
	log.Info("server stopped")
	return nil
}

func banner() {
	host := strings.TrimRight(conf.Manifest.Host, "/")
	log.WithFields(logrus.Fields{
		"addr":    conf.Server.Addr,
		"layer":   conf.Upstream.Layer,
		"version": conf.App.Version,
	}).Infof("%s starting", conf.App.Title)
	log.Infof("Base URL: %s", host)
	log.Infof("Weather maps: %s/public/weather-maps.json", host)
	log.Infof("API key: %s", maskKey(conf.Upstream.APIKey))
	if conf.Upstream.APIKey == "" {
		log.Warn("no upstream API key configured, every tile will be blank")
	}
}

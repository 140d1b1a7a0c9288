package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"kyc-service/internal/config"
	"kyc-service/internal/factory"
	"kyc-service/internal/handler"
	"kyc-service/internal/util"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	util.Init(cfg.Environment, cfg.LogLevel(), cfg.Logging.Format)
	defer util.Sync()

	f, err := factory.NewFactory(cfg)
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}
	defer f.Close()

	router, err := setupRouter(f)
	if err != nil {
		util.Fatal("Failed to build router", util.ErrorField(err))
	}

	background, stopBackground := context.WithCancel(context.Background())
	var workers sync.WaitGroup
	startProfileSync(background, f, &workers)
	stop := func() {
		stopBackground()
		workers.Wait()
	}

	// Determine server address based on TLS config
	var serverAddr string
	if cfg.Server.EnableTLS {
		serverAddr = fmt.Sprintf(":%d", cfg.Server.TLSPort)
	} else {
		serverAddr = cfg.GetServerAddress()
	}

	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if cfg.Server.EnableTLS {
		tlsManager := f.TLSManager()
		server.TLSConfig = tlsManager.GetTLSConfig()

		if cfg.IsProduction() && cfg.Server.AutoCert {
			startProductionServerWithAutoCert(f, server, cfg, router, stop)
			return
		}

		util.Info("Starting HTTPS server",
			util.String("environment", cfg.Environment),
			util.Int("port", cfg.Server.TLSPort),
			util.Bool("auto_cert", cfg.Server.AutoCert),
		)
	} else {
		util.Warn("Starting HTTP server - TLS is disabled",
			util.String("environment", cfg.Environment),
			util.Int("port", cfg.Server.Port),
		)
	}

	startServer(f, server, cfg, stop)
}

// setupRouter creates the HTTP router with all handlers using Chi
func setupRouter(f *factory.Factory) (http.Handler, error) {
	cfg := f.Config()

	kycService, err := f.KYCService()
	if err != nil {
		return nil, err
	}

	// typed nils must not leak into the handler's optional interfaces
	var searcher handler.VerificationSearcher
	if idx := f.SearchIndexer(); idx != nil {
		searcher = idx
	}
	var limiter handler.RateLimiter
	if rl := f.RateLimiter(); rl != nil {
		limiter = rl
	}

	kycHandler := handler.NewKYCHandler(kycService, searcher, limiter, cfg.Environment, util.Get())
	return handler.NewRouter(cfg, kycHandler, f.HealthCheck, util.Get()), nil
}

func startProfileSync(ctx context.Context, f *factory.Factory, workers *sync.WaitGroup) {
	consumer, err := f.ProfileConsumer()
	if err != nil {
		util.Fatal("Failed to build profile consumer", util.ErrorField(err))
	}
	if consumer == nil {
		util.Info("Profile sync disabled")
		return
	}

	workers.Add(1)
	go func() {
		defer workers.Done()
		util.Info("Profile sync consumer started", util.String("topic", f.Config().Kafka.ProfileTopic))
		if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			util.Error("Profile sync consumer stopped", util.ErrorField(err))
		}
	}()
}

func startProductionServerWithAutoCert(f *factory.Factory, server *http.Server, cfg *config.Config, router http.Handler, stop func()) {
	tlsManager := f.TLSManager()
	autoCertManager := tlsManager.GetAutocertManager()
	if autoCertManager == nil {
		util.Fatal("AutoCert manager is not available in production")
	}

	// HTTP server for ACME challenge and redirect only
	httpServer := &http.Server{
		Addr:    ":80",
		Handler: autoCertManager.HTTPHandler(nil),
	}

	httpsServer := &http.Server{
		Addr:         ":443",
		Handler:      router,
		TLSConfig:    server.TLSConfig,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		util.Info("Starting HTTP redirect server on port 80")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			util.Error("HTTP redirect server failed", util.ErrorField(err))
		}
	}()

	go func() {
		util.Info("Starting HTTPS server with AutoCert on port 443",
			util.String("domain", cfg.Server.Domain),
		)
		if err := httpsServer.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
			util.Error("HTTPS AutoCert server failed", util.ErrorField(err))
		}
	}()

	waitForShutdown(f, stop, httpsServer, httpServer)
}

func startServer(f *factory.Factory, server *http.Server, cfg *config.Config, stop func()) {
	go func() {
		var err error
		if cfg.Server.EnableTLS {
			if !cfg.Server.AutoCert && cfg.Server.CertFile != "" && cfg.Server.KeyFile != "" {
				err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
			} else {
				err = server.ListenAndServeTLS("", "")
			}
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			util.Fatal("Server failed to start", util.ErrorField(err))
		}
	}()

	util.Info("Server started successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.String("address", server.Addr),
	)

	waitForShutdown(f, stop, server)
}

func waitForShutdown(f *factory.Factory, stop func(), servers ...*http.Server) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	sig := <-signalChan
	util.Info("Received shutdown signal", util.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			util.Error("Failed to shutdown server gracefully", util.ErrorField(err))
		} else {
			util.Info("Server shutdown completed")
		}
	}

	stop()
	f.Close()
}

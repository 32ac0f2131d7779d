package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clipshelf/clipshelf/internal/config"
	"github.com/clipshelf/clipshelf/internal/dispatch"
	"github.com/clipshelf/clipshelf/internal/httpapi"
	"github.com/clipshelf/clipshelf/internal/janitor"
	"github.com/clipshelf/clipshelf/internal/llm"
	"github.com/clipshelf/clipshelf/internal/persistence"
	"github.com/clipshelf/clipshelf/internal/router"
	"github.com/clipshelf/clipshelf/internal/signature"
	"github.com/clipshelf/clipshelf/internal/storage"
	"github.com/clipshelf/clipshelf/internal/storefront"
	"github.com/clipshelf/clipshelf/internal/worker"
	"github.com/clipshelf/clipshelf/pkg/icron"
	"github.com/clipshelf/clipshelf/pkg/log"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.NewFromEnv()
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}
	log.InitLogger(log.ParseLevel(cfg.Server.LogLevel))

	store, err := persistence.NewSQLiteStore(cfg.Server.DBPath)
	if err != nil {
		log.Fatal("Failed to open job store: %v", err)
	}
	defer store.Close()

	media, err := storage.NewMediaStore(storage.Config{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		Bucket:    cfg.Storage.Bucket,
		UseSSL:    cfg.Storage.UseSSL,
	})
	if err != nil {
		log.Fatal("Failed to initialize media store: %v", err)
	}

	var modelRouter worker.ModelRouter
	var ledger *router.CostLedger
	if cfg.Provider.Ready() {
		client, err := llm.NewClient(&llm.Config{
			APIKey:  cfg.Provider.APIKey,
			APIURL:  cfg.Provider.APIURL,
			Timeout: cfg.Provider.Timeout,
			SiteURL: cfg.Provider.SiteURL,
			AppName: cfg.Provider.AppName,
		})
		if err != nil {
			log.Fatal("Failed to initialize provider client: %v", err)
		}
		ledger = router.NewCostLedger()
		modelRouter = router.NewRouter(client, router.NewRegistry(), router.NewTaskMap(), ledger)
	} else {
		log.Warn("LLM_API_KEY is not set; jobs will stop after upload confirmation")
	}

	orchestrator := worker.NewOrchestrator(
		store,
		media,
		modelRouter,
		storefront.NewCreator(store),
		time.Duration(cfg.Worker.TimeoutSeconds)*time.Second,
	)

	keys := signature.Keys{Current: cfg.Queue.SigningKey, Next: cfg.Queue.SigningKeyNext}

	var transport dispatch.Transport
	var relay *dispatch.Relay
	if cfg.Queue.DistributedReady() {
		amqpTransport, err := dispatch.NewAMQPTransport(dispatch.AMQPConfig{
			URL:        cfg.Queue.AMQPURL,
			QueueName:  cfg.Queue.QueueName,
			MaxRetries: cfg.Queue.MaxRetries,
		}, keys)
		if err != nil {
			log.Fatal("Failed to initialize distributed transport: %v", err)
		}
		defer amqpTransport.Close()
		relay, err = dispatch.NewRelay(amqpTransport, cfg.Queue.CallbackURL, cfg.Queue.MaxRetries)
		if err != nil {
			log.Fatal("Failed to initialize queue relay: %v", err)
		}
		transport = amqpTransport
	} else {
		transport = dispatch.NewLocalTransport(store, orchestrator.Process)
	}

	dispatcher := dispatch.NewDispatcher(store, transport)

	cronRunner := cron.New()
	sweeper := janitor.New(store, time.Duration(cfg.Worker.StaleAfterMin)*time.Minute)
	if err := sweeper.Schedule(cronRunner, cfg.Worker.JanitorCron); err != nil {
		log.Fatal("Failed to schedule janitor: %v", err)
	}
	if trigger, err := icron.GetTriggerInfo(cfg.Worker.JanitorCron, time.Now()); err == nil {
		log.Info("Janitor scheduled (%s), next sweep at %s", trigger.Expression, trigger.Next.Format(time.RFC3339))
	}
	cronRunner.Start()
	defer cronRunner.Stop()

	server := httpapi.NewServer(
		store,
		dispatcher,
		orchestrator,
		httpapi.WithSignatureKeys(keys),
		httpapi.WithLocalDev(cfg.Queue.LocalDev),
		httpapi.WithCostLedger(ledger),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info("HTTP server listening on %s (queue mode: %s)", cfg.Server.Addr, transport.Mode())
		if err := server.ListenAndServe(cfg.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if relay != nil {
		group.Go(func() error {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		log.Fatal("Service stopped: %v", err)
	}
	log.Info("Service stopped")
}

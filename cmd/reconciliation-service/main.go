package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"jersey-events/internal/api"
	"jersey-events/internal/config"
	"jersey-events/internal/entry"
	"jersey-events/internal/events"
	"jersey-events/internal/gateway"
	"jersey-events/internal/issuance"
	"jersey-events/internal/logger"
	"jersey-events/internal/notify"
	orderdb "jersey-events/internal/order/db"
	"jersey-events/internal/qrcodec"
	"jersey-events/internal/reconcile"
	"jersey-events/internal/replay"
	ticketdb "jersey-events/internal/tickets/db"
)

func verifyConnections(cfg *config.Config, log *logger.Logger) (*bun.DB, *redis.Client) {
	if cfg.Database.DSN == "" {
		log.Fatal("CONFIG", "POSTGRES_DSN not set")
	}

	var sqldb *sql.DB
	var err error
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		log.Info("DATABASE", fmt.Sprintf("Connecting to PostgreSQL (attempt %d/%d)", i+1, maxRetries))
		sqldb, err = sql.Open("postgres", cfg.Database.DSN)
		if err == nil {
			err = sqldb.Ping()
		}
		if err == nil {
			break
		}
		log.Error("DATABASE", fmt.Sprintf("PostgreSQL connection failed: %v", err))
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Could not connect to PostgreSQL: %v", err))
	}
	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)
	log.Info("DATABASE", "PostgreSQL connection successful")

	bunDB := bun.NewDB(sqldb, pgdialect.New())

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Warn("REDIS", fmt.Sprintf("Redis unavailable at %s: %v (webhook replay guard degraded)", cfg.Redis.Addr, err))
	} else {
		log.Info("REDIS", "Redis connection successful")
	}

	return bunDB, rdb
}

func main() {
	_ = godotenv.Load()

	log := logger.NewLogger()
	defer log.Close()

	cfg := config.Load()
	if cfg.Secrets.TicketHashSecret == "" {
		log.Fatal("CONFIG", "TICKET_HASH_SECRET not set")
	}
	if cfg.Secrets.WebhookSecret == "" {
		log.Fatal("CONFIG", "WEBHOOK_SECRET not set")
	}

	bunDB, rdb := verifyConnections(cfg, log)
	defer bunDB.Close()

	orders := &orderdb.DB{Bun: bunDB}
	tickets := &ticketdb.DB{Bun: bunDB}

	codec := qrcodec.New(cfg.Secrets.TicketHashSecret)
	verifier := gateway.NewClient(cfg.SumUp.BaseURL, cfg.SumUp.APIKey, cfg.SumUp.Timeout, log)

	renderer := issuance.NewTicketPDFRenderer(os.Getenv("TICKET_FONT_PATH"))
	docs := issuance.NewDiskDocumentStore(os.Getenv("TICKET_PDF_DIR"))
	engine := issuance.NewEngine(tickets, docs, renderer, codec, log)

	sender := &notify.SMTPSender{
		Host:     cfg.Email.SMTPHost,
		Port:     cfg.Email.SMTPPort,
		Username: cfg.Email.SMTPUsername,
		Password: cfg.Email.SMTPPassword,
		From:     cfg.Email.FromAddress,
	}
	dispatcher := notify.NewDispatcher(sender, cfg.Email, log)

	producer := events.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topics)
	defer producer.Close()

	guard := replay.NewGuard(rdb, 24*time.Hour)

	pipeline := reconcile.NewPipeline(orders, tickets, verifier, engine, dispatcher, producer, guard, log)
	validator := entry.NewValidator(tickets, codec, log)

	handler := &api.Handler{
		Pipeline:      pipeline,
		Validator:     validator,
		Tickets:       tickets,
		Logger:        log,
		WebhookSecret: cfg.Secrets.WebhookSecret,
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Payment-Signature"},
	}))
	handler.Routes(r)

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("SERVER", fmt.Sprintf("Reconciliation service on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("SERVER", fmt.Sprintf("HTTP error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(ctxShutdown)
	log.Info("SERVER", "Reconciliation service shutdown complete")
}

package application

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/book-service/internal/config"
	"github.com/psds-microservice/book-service/internal/elasticsearch"
	"github.com/psds-microservice/book-service/internal/handler"
	"github.com/psds-microservice/book-service/internal/router"
	"github.com/psds-microservice/book-service/internal/service"
	"github.com/psds-microservice/book-service/internal/validator"
)

// NewESClient собирает низкоуровневый клиент Elasticsearch из конфига.
func NewESClient(cfg *config.Config) (*elasticsearch.Client, error) {
	selector, err := elasticsearch.NodeSelectorByName(cfg.Elasticsearch.NodeSelector)
	if err != nil {
		return nil, err
	}
	nodes, err := elasticsearch.ParseNodes(cfg.Elasticsearch.Hosts)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		log.Printf("elasticsearch: node %s roles=%v", n, n.Roles)
	}
	headers := http.Header{}
	for k, v := range cfg.Elasticsearch.Headers {
		headers.Set(k, v)
	}
	return elasticsearch.NewClient(elasticsearch.Options{
		Nodes:                nodes,
		Headers:              headers,
		ConnectTimeout:       cfg.Elasticsearch.ConnectTimeout,
		SocketTimeout:        cfg.Elasticsearch.SocketTimeout,
		MaxRetryTimeout:      cfg.Elasticsearch.MaxRetryTimeout,
		NodeSelector:         selector,
		Routing:              elasticsearch.Routing(cfg.Elasticsearch.Routing),
		MaxRequestsPerSecond: cfg.Elasticsearch.MaxRequestsPerSecond,
		FailureListener: func(n elasticsearch.Node) {
			log.Printf("elasticsearch: node %s failed, marked dead", n)
		},
	})
}

// NewBookService builds the client and the service and makes sure the index exists.
// The caller owns the returned client and must Close it.
func NewBookService(ctx context.Context, cfg *config.Config) (*service.BookService, *elasticsearch.Client, error) {
	es, err := NewESClient(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("elasticsearch client: %w", err)
	}
	svc := service.NewBookService(es, cfg.Elasticsearch.Index, cfg.Batch.WaitTimeout)
	if err := svc.EnsureIndex(ctx); err != nil {
		es.Close()
		return nil, nil, err
	}
	return svc, es, nil
}

// API приложение: HTTP сервер (режим api).
type API struct {
	cfg     *config.Config
	httpSrv *http.Server
	es      *elasticsearch.Client
}

// NewAPI создаёт приложение для режима api.
func NewAPI(cfg *config.Config) (*API, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if strings.EqualFold(cfg.AppEnv(), "production") && !strings.EqualFold(cfg.LogLevel, "debug") {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Elasticsearch.MaxRetryTimeout)
	defer cancel()
	bookSvc, es, err := NewBookService(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("book service: %w", err)
	}

	bookHandler := handler.NewBookHandler(bookSvc, validator.New(cfg.Batch.MaxSize))

	httpAddr := cfg.AppHost + ":" + cfg.HTTPPort
	httpSrv := &http.Server{
		Addr:              httpAddr,
		Handler:           router.New(bookHandler),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      writeTimeout(cfg),
		IdleTimeout:       60 * time.Second,
	}

	return &API{
		cfg:     cfg,
		httpSrv: httpSrv,
		es:      es,
	}, nil
}

// writeTimeout leaves room for a full retry cycle or a bounded batch wait.
func writeTimeout(cfg *config.Config) time.Duration {
	d := cfg.Elasticsearch.MaxRetryTimeout
	if cfg.Batch.WaitTimeout > d {
		d = cfg.Batch.WaitTimeout
	}
	if cfg.Batch.WaitTimeout == 0 {
		// ожидание батча не ограничено, ответ не обрываем
		return 0
	}
	return d + 10*time.Second
}

// Run запускает HTTP сервер, блокируется до отмены ctx.
func (a *API) Run(ctx context.Context) error {
	host := a.cfg.AppHost
	if host == "0.0.0.0" {
		host = "localhost"
	}
	base := "http://" + host + ":" + a.cfg.HTTPPort
	log.Printf("HTTP server listening on %s", a.httpSrv.Addr)
	log.Printf("  Swagger UI:    %s/swagger", base)
	log.Printf("  Health:        %s/health", base)
	log.Printf("  Books:         %s/book", base)
	log.Printf("Elasticsearch: %v (index=%s)", a.cfg.Elasticsearch.Hosts, a.cfg.Elasticsearch.Index)

	errCh := make(chan error, 1)
	go func() {
		if err := a.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		a.es.Close()
		return fmt.Errorf("http: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := a.httpSrv.Shutdown(shutdownCtx)
	a.es.Close()
	if err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

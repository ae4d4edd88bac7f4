package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/psds-microservice/book-service/internal/application"
	"github.com/psds-microservice/book-service/internal/config"
	"github.com/psds-microservice/book-service/internal/service"
	"github.com/spf13/cobra"
)

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Print one book from the index as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

func runGet(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	es, err := application.NewESClient(cfg)
	if err != nil {
		return fmt.Errorf("elasticsearch client: %w", err)
	}
	defer es.Close()

	svc := service.NewBookService(es, cfg.Elasticsearch.Index, cfg.Batch.WaitTimeout)
	book, err := svc.GetBook(ctx, args[0])
	if errors.Is(err, service.ErrBookNotFound) {
		return fmt.Errorf("book %q not found in %s", args[0], cfg.Elasticsearch.Index)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(book)
}

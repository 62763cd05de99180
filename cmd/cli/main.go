package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/ledger-assistant/internal/api/middleware"
	"github.com/dvloznov/ledger-assistant/internal/catalog"
	"github.com/dvloznov/ledger-assistant/internal/config"
	"github.com/dvloznov/ledger-assistant/internal/export"
	"github.com/dvloznov/ledger-assistant/internal/inference"
	"github.com/dvloznov/ledger-assistant/internal/inference/providers"
	"github.com/dvloznov/ledger-assistant/internal/ledger"
	"github.com/dvloznov/ledger-assistant/internal/ledger/gormstore"
	"github.com/dvloznov/ledger-assistant/internal/logger"
	"github.com/dvloznov/ledger-assistant/internal/storage"
	"github.com/dvloznov/ledger-assistant/internal/vision"
)

func main() {
	log := logger.New()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "infer":
		runInfer(log)
	case "ocr":
		runOCR(log)
	case "token":
		runToken(log)
	case "export":
		runExport(log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Ledger Assistant CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  infer     Run one inference and print the result as JSON")
	fmt.Println("  ocr       Print the text of an invoice image in reading order")
	fmt.Println("  token     Issue a bearer token for a user")
	fmt.Println("  export    Write a user's transactions to an .xlsx file")
	fmt.Println("  help      Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

func loadConfig(log zerolog.Logger) *config.Config {
	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	return cfg
}

func runInfer(log zerolog.Logger) {
	fs := flag.NewFlagSet("infer", flag.ExitOnError)
	mode := fs.String("mode", "text", "inference mode: text or invoice")
	prompt := fs.String("prompt", "", "free-text message (text mode)")
	image := fs.String("image", "", "local file or bucket/path of an invoice image (invoice mode)")
	currency := fs.String("currency", "", "preferred currency, first in the list handed to the model")
	fs.Parse(os.Args[2:])

	m, err := inference.ParseMode(*mode)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid mode")
	}

	cfg := loadConfig(log)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	text := *prompt
	if m == inference.ModeInvoice {
		if *image == "" {
			log.Fatal().Msg("Usage: cli infer -mode invoice -image PATH")
		}
		text, err = detect(ctx, cfg, *image, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Text detection failed")
		}
	} else if text == "" {
		log.Fatal().Msg("Usage: cli infer -mode text -prompt TEXT")
	}

	kind, err := cfg.ProviderKind()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid provider")
	}
	provider, err := providers.New(ctx, kind, cfg.ProviderSettings(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create provider")
	}

	preferred := strings.ToUpper(*currency)
	if preferred == "" {
		preferred = cfg.DefaultCurrency
	}
	currencies := []string{preferred}
	for _, c := range catalog.Currencies() {
		if c != preferred {
			currencies = append(currencies, c)
		}
	}

	result, completion, err := inference.NewOrchestrator(provider, log).Infer(ctx, m, text, inference.Options{
		Currencies: currencies,
		Categories: catalog.Categories(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Inference failed")
	}

	log.Debug().Str("completion", completion).Msg("Raw completion")
	printJSON(result)
}

func runOCR(log zerolog.Logger) {
	fs := flag.NewFlagSet("ocr", flag.ExitOnError)
	image := fs.String("image", "", "local file or bucket/path of an invoice image")
	fs.Parse(os.Args[2:])

	if *image == "" {
		log.Fatal().Msg("Usage: cli ocr -image PATH")
	}

	cfg := loadConfig(log)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	text, err := detect(ctx, cfg, *image, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Text detection failed")
	}
	fmt.Println(text)
}

// detect reads a local image, or a stored one when the file does not exist,
// and runs OCR on it.
func detect(ctx context.Context, cfg *config.Config, image string, log zerolog.Logger) (string, error) {
	data, err := os.ReadFile(image)
	if os.IsNotExist(err) {
		gcs, gerr := storage.NewGCSStore(ctx, log)
		if gerr != nil {
			return "", gerr
		}
		defer gcs.Close()
		data, err = gcs.Fetch(ctx, image)
	}
	if err != nil {
		return "", fmt.Errorf("reading image: %w", err)
	}
	if ct := http.DetectContentType(data); !strings.HasPrefix(ct, "image/") {
		return "", fmt.Errorf("%w: %s", storage.ErrUnsupportedContentType, ct)
	}

	detector, err := vision.New(ctx, cfg.VisionAPIKey, log)
	if err != nil {
		return "", err
	}
	prepared, _ := vision.Prepare(data)
	return detector.DetectText(ctx, base64.StdEncoding.EncodeToString(prepared))
}

func runToken(log zerolog.Logger) {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	userID := fs.String("user", "", "user id (token subject)")
	currency := fs.String("currency", "", "preferred currency claim")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	fs.Parse(os.Args[2:])

	if *userID == "" {
		log.Fatal().Msg("Usage: cli token -user ID [-currency VND] [-ttl 24h]")
	}
	if *currency != "" && !catalog.IsCurrency(strings.ToUpper(*currency)) {
		log.Fatal().Str("currency", *currency).Msg("Unknown currency")
	}

	cfg := loadConfig(log)
	if cfg.JWTSecret == "" {
		log.Fatal().Msg("APP_JWT_SECRET is required")
	}

	token, err := middleware.IssueToken([]byte(cfg.JWTSecret), *userID, strings.ToUpper(*currency), *ttl, time.Now())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to sign token")
	}
	fmt.Println(token)
}

func runExport(log zerolog.Logger) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	userID := fs.String("user", "", "user id")
	out := fs.String("out", "transactions.xlsx", "output file")
	fs.Parse(os.Args[2:])

	if *userID == "" {
		log.Fatal().Msg("Usage: cli export -user ID [-out FILE]")
	}

	cfg := loadConfig(log)
	if err := cfg.Require("BotID", "DatabaseDSN"); err != nil {
		log.Fatal().Err(err).Msg("Incomplete configuration")
	}

	store, err := gormstore.Open(cfg.DatabaseDSN, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open ledger store")
	}
	defer store.Close()

	coordinator, err := ledger.NewCoordinator(store, ledger.Config{BotID: cfg.BotID}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create coordinator")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	txs, err := coordinator.ListTransactions(ctx, *userID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list transactions")
	}

	f, err := os.Create(*out)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create output file")
	}
	defer f.Close()

	if err := export.WriteTransactions(f, txs); err != nil {
		log.Fatal().Err(err).Msg("Failed to write workbook")
	}
	fmt.Printf("Wrote %d transactions to %s\n", len(txs), *out)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "encoding result: %v\n", err)
		os.Exit(1)
	}
}

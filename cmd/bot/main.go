package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/SAMEER05407/mytrading/internal/domain"
	"github.com/SAMEER05407/mytrading/internal/infrastructure/exchange"
	"github.com/SAMEER05407/mytrading/internal/infrastructure/logger"
	"github.com/SAMEER05407/mytrading/internal/infrastructure/telegram"
	"github.com/SAMEER05407/mytrading/internal/usecase"
	"github.com/SAMEER05407/mytrading/internal/web"
)

type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
	Polling struct {
		IntervalSec int `yaml:"interval_sec"`
	} `yaml:"polling"`
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
	Binance struct {
		Testnet bool `yaml:"testnet"`
	} `yaml:"binance"`
}

func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func main() {
	// 1. Load Config
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// Secrets come from the environment; .env is optional
	_ = godotenv.Load()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	log, err := logger.NewLogger(cfg.Logging.Level)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// 3. Init Exchange (Binance)
	apiKey := os.Getenv("BINANCE_API_KEY")
	apiSecret := os.Getenv("BINANCE_API_SECRET")
	if apiKey == "" || apiSecret == "" {
		log.Fatal("BINANCE_API_KEY and BINANCE_API_SECRET must be set")
	}
	if cfg.Binance.Testnet {
		binance.UseTestnet = true
		futures.UseTestnet = true
		log.Info("Using Binance testnet")
	}
	spotAdapter := exchange.NewBinanceAdapter(apiKey, apiSecret)
	futuresAdapter := exchange.NewFuturesAdapter(apiKey, apiSecret, spotAdapter)

	// 4. Init Telegram Channel (optional: without it the bot only serves
	// the web status page)
	var notifier domain.Notifier
	var channel *telegram.Channel
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	chatIDEnv := os.Getenv("TELEGRAM_CHAT_ID")
	if token != "" && chatIDEnv != "" {
		chatID, err := strconv.ParseInt(chatIDEnv, 10, 64)
		if err != nil {
			log.Fatal("Invalid TELEGRAM_CHAT_ID", zap.Error(err))
		}
		channel, err = telegram.NewChannel(token, chatID)
		if err != nil {
			log.Fatal("Failed to connect to Telegram", zap.Error(err))
		}
		notifier = channel
	} else {
		log.Warn("Telegram credentials missing, chat interface disabled")
	}

	// 5. Init Services
	tickInterval := time.Duration(cfg.Polling.IntervalSec) * time.Second
	spotAnalyzer := usecase.NewMarketAnalyzer(spotAdapter, log)
	futuresAnalyzer := usecase.NewMarketAnalyzer(futuresAdapter, log)
	tradeEngine := usecase.NewTradeEngine(spotAdapter, notifier, spotAnalyzer, log, tickInterval)
	futuresEngine := usecase.NewFuturesEngine(futuresAdapter, spotAdapter, notifier, futuresAnalyzer, log, tickInterval)

	// 6. Start Command Router
	var bot *telegram.Bot
	if channel != nil {
		bot = telegram.NewBot(channel, tradeEngine, futuresEngine, log)
		bot.Run()
	}

	// 7. Init Web Server
	if err := web.InitTemplates("internal/web/templates"); err != nil {
		log.Fatal("Failed to initialize templates", zap.Error(err))
	}
	port := cfg.Server.Port
	if port == 0 {
		port = 8080 // Default
	}
	server := web.NewServer(port, tradeEngine, futuresEngine, log)

	// 8. Start Server
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	// 9. Wait for Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("Shutting down...")
	if bot != nil {
		bot.Stop()
	}
	tradeEngine.Shutdown()
	futuresEngine.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server shutdown failed", zap.Error(err))
	}
}

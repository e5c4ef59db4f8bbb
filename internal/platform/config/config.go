package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config is centralized process configuration. Keep infra values here
// and pass typed config into builders.
type Config struct {
	ServiceName  string
	HTTPAddr     string
	PostgresDSN  string
	KafkaBrokers []string

	LedgerTopic        string
	FeePct             decimal.Decimal
	RoyaltyPct         decimal.Decimal
	LockWaitTimeout    time.Duration
	OutboxBatchSize    int
	OutboxPollInterval time.Duration
}

func Load() (Config, error) {
	// A missing .env is fine; real deployments set the environment.
	_ = godotenv.Load()

	service := os.Getenv("SERVICE_NAME")
	if service == "" {
		service = "agentchains-billing"
	}

	var brokers []string
	for _, value := range strings.Split(os.Getenv("KAFKA_BROKERS"), ",") {
		value = strings.TrimSpace(value)
		if value != "" {
			brokers = append(brokers, value)
		}
	}
	if len(brokers) == 0 {
		brokers = []string{"localhost:9092"}
	}

	topic := os.Getenv("LEDGER_EVENTS_TOPIC")
	if topic == "" {
		topic = "ledger.events"
	}

	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	return Config{
		ServiceName:  service,
		HTTPAddr:     addr,
		PostgresDSN:  os.Getenv("POSTGRES_DSN"),
		KafkaBrokers: brokers,

		LedgerTopic:        topic,
		FeePct:             envDecimal("LEDGER_FEE_PCT", decimal.NewFromFloat(0.02)),
		RoyaltyPct:         envDecimal("LEDGER_ROYALTY_PCT", decimal.NewFromFloat(0.20)),
		LockWaitTimeout:    envDuration("LEDGER_LOCK_WAIT", 5*time.Second),
		OutboxBatchSize:    envInt("LEDGER_OUTBOX_BATCH", 100),
		OutboxPollInterval: envDuration("LEDGER_OUTBOX_POLL", 2*time.Second),
	}, nil
}

func envDecimal(name string, fallback decimal.Decimal) decimal.Decimal {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return fallback
	}
	return value
}

func envDuration(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func envInt(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

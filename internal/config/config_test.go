package config

import (
	"reflect"
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, k := range []string{"HTTP_ADDR", "KAFKA_BROKERS", "INSTALLMENTS_READ_HORIZON_MONTHS", "POSTGRES_MIGRATE", "HTTP_REQUEST_TIMEOUT"} {
		t.Setenv(k, "")
	}
	cfg := FromEnv()
	if cfg.HTTPAddr != ":8081" {
		t.Fatalf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.Installments.ReadHorizonMonths != 3 || cfg.Installments.WriteHorizonMonths != 6 {
		t.Fatalf("horizons = %+v", cfg.Installments)
	}
	if !cfg.Migrate {
		t.Fatal("migrate should default to true")
	}
	if cfg.RequestTimeout != 5*time.Second {
		t.Fatalf("RequestTimeout = %v", cfg.RequestTimeout)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092 ")
	t.Setenv("INSTALLMENTS_READ_HORIZON_MONTHS", "2")
	t.Setenv("NOTIFIER_WORKERS", "not-a-number")
	t.Setenv("POSTGRES_MIGRATE", "false")
	t.Setenv("HTTP_REQUEST_TIMEOUT", "750ms")

	cfg := FromEnv()
	if want := []string{"k1:9092", "k2:9092"}; !reflect.DeepEqual(cfg.Kafka.Brokers, want) {
		t.Fatalf("brokers = %v, want %v", cfg.Kafka.Brokers, want)
	}
	if cfg.Installments.ReadHorizonMonths != 2 {
		t.Fatalf("read horizon = %d", cfg.Installments.ReadHorizonMonths)
	}
	if cfg.Kafka.Workers != 8 {
		t.Fatalf("workers = %d, want default on bad input", cfg.Kafka.Workers)
	}
	if cfg.Migrate {
		t.Fatal("migrate override ignored")
	}
	if cfg.RequestTimeout != 750*time.Millisecond {
		t.Fatalf("RequestTimeout = %v", cfg.RequestTimeout)
	}
}

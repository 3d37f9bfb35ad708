package observability

import (
	"context"
	"testing"
	"time"

	"github.com/rexproai/rexpro/internal/log"
)

func TestSetup(t *testing.T) {
	ctx := context.Background()

	shutdown, err := Setup(ctx, Config{
		Endpoint:    "localhost:4318",
		Environment: "test",
		ServiceName: "rexpro-test",
	}, log.NewNop())
	if err != nil {
		t.Fatalf("Setup() error: %v", err)
	}
	if shutdown == nil {
		t.Fatal("Setup() returned nil shutdown")
	}

	// Shutdown must return even with no collector listening.
	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_ = shutdown(shutdownCtx)
}

func TestSetupDefaultEndpoint(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{ServiceName: "rexpro-test"}, log.NewNop())
	if err != nil {
		t.Fatalf("Setup() error: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = shutdown(shutdownCtx)
}

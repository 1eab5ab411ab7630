package telemetry

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

func TestSetupWithoutEndpointIsNoop(t *testing.T) {
	shutdown := Setup(context.Background(), Options{ServiceName: "clinicqueue"}, zerolog.Nop())
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("unexpected shutdown error: %v", err)
	}
}

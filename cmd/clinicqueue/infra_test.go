package main

import (
	"context"
	"testing"

	"clinicqueue/internal/auth"
	"clinicqueue/internal/config"
	"clinicqueue/internal/hub"
	"clinicqueue/internal/models"
	"clinicqueue/internal/store"

	"github.com/rs/zerolog"
)

type fakeUsers struct {
	count   int
	created []store.UserInput
}

func (f *fakeUsers) GetUserByEmail(ctx context.Context, email string) (models.User, bool, error) {
	return models.User{}, false, nil
}

func (f *fakeUsers) GetUser(ctx context.Context, userID string) (models.User, bool, error) {
	return models.User{}, false, nil
}

func (f *fakeUsers) ListUsers(ctx context.Context) ([]models.User, error) {
	return nil, nil
}

func (f *fakeUsers) CreateUser(ctx context.Context, input store.UserInput) (models.User, error) {
	f.created = append(f.created, input)
	f.count++
	return models.User{ID: "u1", Email: input.Email, Function: input.Function}, nil
}

func (f *fakeUsers) CountUsers(ctx context.Context) (int, error) {
	return f.count, nil
}

func TestBootstrapAdmin(t *testing.T) {
	users := &fakeUsers{}
	if err := bootstrapAdmin(context.Background(), users, " Admin@Clinic.test ", "change-me-now", zerolog.Nop()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if len(users.created) != 1 {
		t.Fatalf("expected one admin, got %d", len(users.created))
	}
	created := users.created[0]
	if created.Email != "admin@clinic.test" || created.Function != models.FunctionAdmin {
		t.Fatalf("unexpected admin %+v", created)
	}
	if err := auth.CheckPassword(created.PasswordHash, "change-me-now"); err != nil {
		t.Fatalf("stored hash does not match: %v", err)
	}

	if err := bootstrapAdmin(context.Background(), users, "other@clinic.test", "change-me-now", zerolog.Nop()); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
	if len(users.created) != 1 {
		t.Fatalf("expected no second admin once users exist")
	}
}

func TestBootstrapAdminRejectsShortPassword(t *testing.T) {
	if err := bootstrapAdmin(context.Background(), &fakeUsers{}, "admin@clinic.test", "short", zerolog.Nop()); err == nil {
		t.Fatalf("expected short password to be rejected")
	}
}

func TestBuildSinks(t *testing.T) {
	h := hub.New(zerolog.Nop())
	sinks, closeSinks := buildSinks(config.Config{}, nil, h)
	defer closeSinks()
	if len(sinks) != 1 || sinks[0].Name() != "hub" {
		t.Fatalf("expected hub sink only, got %d sinks", len(sinks))
	}

	sinks, closeKafka := buildSinks(config.Config{KafkaBrokers: "localhost:9092", KafkaTopic: "events"}, nil, nil)
	defer closeKafka()
	if len(sinks) != 1 || sinks[0].Name() != "kafka" {
		t.Fatalf("expected kafka sink only, got %d sinks", len(sinks))
	}
}

package main

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"

	appconfig "github.com/atticusjxn/FlynnAIapp-sub006/internal/config"
	"github.com/atticusjxn/FlynnAIapp-sub006/pkg/logging"
)

func TestBuildRunLockDisabledWithoutRedis(t *testing.T) {
	if lock := buildRunLock(&appconfig.Config{}); lock != nil {
		t.Fatal("expected nil lock when REDIS_ADDR is unset")
	}
	if lock := buildRunLock(&appconfig.Config{RedisAddr: "localhost:6379"}); lock == nil {
		t.Fatal("expected a lock when REDIS_ADDR is set")
	}
}

func TestBuildEmailSenderSelection(t *testing.T) {
	logger := logging.Default()

	if s := buildEmailSender(&appconfig.Config{EmailProvider: "sendgrid"}, aws.Config{}, logger); s != nil {
		t.Error("sendgrid without an API key must disable alerts")
	}
	if s := buildEmailSender(&appconfig.Config{EmailProvider: "ses"}, aws.Config{}, logger); s != nil {
		t.Error("ses without a from address must disable alerts")
	}
	cfg := &appconfig.Config{
		EmailProvider:     "sendgrid",
		SendGridAPIKey:    "SG.test",
		SendGridFromEmail: "alerts@example.com",
	}
	if s := buildEmailSender(cfg, aws.Config{}, logger); s == nil {
		t.Error("configured sendgrid must produce a sender")
	}
}

func TestBuildLLMClientRequiresAModel(t *testing.T) {
	_, err := buildLLMClient(context.Background(), &appconfig.Config{}, aws.Config{}, logging.Default())
	if err == nil {
		t.Fatal("expected an error with no model configured")
	}
}

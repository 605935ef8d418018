package main

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/BaSui01/mailflow/channel"
	"github.com/BaSui01/mailflow/config"
	"github.com/BaSui01/mailflow/llm"
	"github.com/BaSui01/mailflow/types"
)

// Development transport adapters. Concrete mail, model and messaging
// integrations live outside this repository; these stand-ins log every
// call so the full workflow is exercisable locally end to end.

type devMail struct{ logger *zap.Logger }

func newDevMail(logger *zap.Logger) *devMail {
	return &devMail{logger: logger.With(zap.String("component", "dev_mail"))}
}

func (m *devMail) GetThreadHistory(_ context.Context, mailThreadID string) ([]types.ThreadMessage, error) {
	m.logger.Info("get thread history", zap.String("mail_thread_id", mailThreadID))
	return nil, nil
}

func (m *devMail) ApplyCategory(_ context.Context, providerMessageID, category string) error {
	m.logger.Info("apply category",
		zap.String("provider_message_id", providerMessageID),
		zap.String("category", category))
	return nil
}

func (m *devMail) SendReply(_ context.Context, providerMessageID, mailThreadID, body string) error {
	m.logger.Info("send reply",
		zap.String("provider_message_id", providerMessageID),
		zap.String("mail_thread_id", mailThreadID),
		zap.Int("body_len", len(body)))
	return nil
}

type devMessenger struct {
	logger *zap.Logger
	seq    atomic.Int64
}

func newDevMessenger(logger *zap.Logger) *devMessenger {
	return &devMessenger{logger: logger.With(zap.String("component", "dev_messenger"))}
}

func (m *devMessenger) SendProposal(_ context.Context, recipient, text string, actions []channel.Action) (string, error) {
	id := fmt.Sprintf("dev-msg-%d", m.seq.Add(1))
	m.logger.Info("send proposal",
		zap.String("recipient", recipient),
		zap.String("message_id", id),
		zap.Int("actions", len(actions)),
		zap.String("text", text))
	return id, nil
}

func (m *devMessenger) EditMessage(_ context.Context, externalMessageID, text string) error {
	m.logger.Info("edit message",
		zap.String("message_id", externalMessageID),
		zap.String("text", text))
	return nil
}

// devModel classifies round-robin over the configured categories using a
// stable hash, so repeated runs are deterministic.
type devModel struct{ cfg config.LLMConfig }

func newDevModel(cfg config.LLMConfig) *devModel { return &devModel{cfg: cfg} }

func (m *devModel) Classify(_ context.Context, prompt string) (*llm.ClassificationResult, error) {
	if len(m.cfg.Categories) == 0 {
		return &llm.ClassificationResult{Category: llm.Unclassified}, nil
	}
	sum := sha256.Sum256([]byte(prompt))
	category := m.cfg.Categories[int(sum[0])%len(m.cfg.Categories)]
	return &llm.ClassificationResult{
		Category:   category,
		Reasoning:  "development classifier, hash-based",
		Confidence: 0.5,
	}, nil
}

func (m *devModel) GenerateReply(_ context.Context, _ string) (string, error) {
	return "Thanks for your message; I'll get back to you shortly.", nil
}

func (m *devModel) Embed(_ context.Context, text string) ([]float64, error) {
	// Byte histogram; enough to make similar texts land near each other.
	vec := make([]float64, 64)
	for _, b := range []byte(text) {
		vec[int(b)%64]++
	}
	return vec, nil
}

func (m *devModel) Name() string { return "dev" }

package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/mailflow/config"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Database.Driver = "sqlite"
	cfg.Database.Name = "file::memory:"
	cfg.Database.MaxOpenConns = 1
	cfg.Redis.Addr = ""
	return cfg
}

func TestNewServerWiresCollaborators(t *testing.T) {
	srv, err := NewServer(testConfig(), zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, srv)
}

func TestNewServerRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.RAG.TokenBudget = 0
	_, err := NewServer(cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestDevModelStaysWithinCandidates(t *testing.T) {
	model := newDevModel(config.DefaultConfig().LLM)
	res, err := model.Classify(context.Background(), "quarterly report attached")
	require.NoError(t, err)
	assert.Contains(t, config.DefaultConfig().LLM.Categories, res.Category)

	again, err := model.Classify(context.Background(), "quarterly report attached")
	require.NoError(t, err)
	assert.Equal(t, res.Category, again.Category)
}

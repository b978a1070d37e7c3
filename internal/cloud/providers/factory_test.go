package providers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescale/upsess/internal/config"
	"github.com/rescale/upsess/internal/logging"
)

func TestAzureConfigured(t *testing.T) {
	assert.False(t, AzureConfigured(config.AzureConfig{}))
	assert.False(t, AzureConfigured(config.AzureConfig{Account: "acct"}))
	assert.True(t, AzureConfigured(config.AzureConfig{Account: "acct", AccountKey: "a2V5"}))
	assert.True(t, AzureConfigured(config.AzureConfig{SASURL: "https://acct.blob.core.windows.net/?sig=x"}))
}

func TestPlatforms(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Proxy.Mode = "no-proxy"
	cfg.S3.Region = "us-east-1"
	cfg.S3.AccessKeyID = "AKIDEXAMPLE"
	cfg.S3.SecretAccessKey = "secret"

	f := NewFactory(cfg, logging.NewNopLogger())
	platforms, err := f.Platforms(context.Background())
	require.NoError(t, err)
	require.Len(t, platforms, 1)
	assert.Equal(t, "s3", platforms[0].Scheme())

	cfg.Azure.SASURL = "https://acct.blob.core.windows.net/?sv=2021-06-08&sig=abc"
	platforms, err = f.Platforms(context.Background())
	require.NoError(t, err)
	require.Len(t, platforms, 2)
	assert.Equal(t, "azure", platforms[1].Scheme())
}

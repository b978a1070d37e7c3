// Package providers builds the cloud fsref platforms from configuration.
package providers

import (
	"context"
	"fmt"
	nethttp "net/http"

	"github.com/rescale/upsess/internal/cloud/providers/azure"
	"github.com/rescale/upsess/internal/cloud/providers/s3"
	"github.com/rescale/upsess/internal/config"
	"github.com/rescale/upsess/internal/fsref"
	inthttp "github.com/rescale/upsess/internal/http"
	"github.com/rescale/upsess/internal/logging"
)

// Factory creates cloud platforms sharing one proxy-aware HTTP client.
type Factory struct {
	cfg    *config.Config
	logger *logging.Logger
}

// NewFactory creates a new platform factory.
func NewFactory(cfg *config.Config, logger *logging.Logger) *Factory {
	return &Factory{cfg: cfg, logger: logger}
}

// AzureConfigured reports whether the [azure] section has usable credentials.
func AzureConfigured(cfg config.AzureConfig) bool {
	return cfg.SASURL != "" || (cfg.Account != "" && cfg.AccountKey != "")
}

// Platforms returns the s3 platform, plus azure when it is configured.
func (f *Factory) Platforms(ctx context.Context) ([]fsref.Platform, error) {
	httpClient, err := inthttp.CreateClient(f.cfg.Proxy, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}
	return f.platforms(ctx, httpClient)
}

func (f *Factory) platforms(ctx context.Context, httpClient *nethttp.Client) ([]fsref.Platform, error) {
	s3Client, err := s3.NewClient(ctx, f.cfg.S3, httpClient)
	if err != nil {
		return nil, err
	}
	platforms := []fsref.Platform{s3.New(s3Client, f.logger)}

	if AzureConfigured(f.cfg.Azure) {
		azClient, err := azure.NewClient(f.cfg.Azure, httpClient)
		if err != nil {
			return nil, err
		}
		platforms = append(platforms, azure.New(azClient, f.logger))
	}

	f.logger.Debug().Int("count", len(platforms)).Msg("Cloud platforms configured")
	return platforms, nil
}

// Package vault wraps the HashiCorp Vault client used as the secret store:
// it resolves the project-key pepper at boot and keeps its own token alive
// on a background timer.
package vault

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/vault/api"
	"go.uber.org/zap"
)

const renewInterval = 30 * time.Minute

// Client is a thin wrapper over the Vault API client.
type Client struct {
	api    *api.Client
	logger *zap.Logger
}

// New creates a Vault client pointed at the given address and authenticated
// with the provided token.
func New(address, token string, logger *zap.Logger) (*Client, error) {
	cfg := api.DefaultConfig()
	cfg.Address = address

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault client initialization failed: %w", err)
	}
	client.SetToken(token)

	return &Client{api: client, logger: logger}, nil
}

// GetKV2 reads from a KV v2 backend and returns the inner "data" map,
// unwrapping the v2 envelope automatically.
func (c *Client) GetKV2(path string) (map[string]interface{}, error) {
	secret, err := c.api.Logical().Read(path)
	if err != nil {
		return nil, fmt.Errorf("read secret at %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("no data found at %s", path)
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected data format at %s", path)
	}
	return data, nil
}

// StartRenewer launches the background token renewal loop. Renewal failures
// are logged and retried on the next tick; the token stays usable until its
// TTL actually lapses.
func (c *Client) StartRenewer(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(renewInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				c.logger.Info("vault token renewer stopping")
				return
			case <-ticker.C:
				if _, err := c.api.Auth().Token().RenewSelfWithContext(ctx, 0); err != nil {
					c.logger.Error("vault token renewal failed", zap.Error(err))
					continue
				}
				c.logger.Debug("vault token renewed")
			}
		}
	}()
}

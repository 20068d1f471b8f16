// Package secretstore fetches the server secret from HashiCorp Vault for
// self-hosted deployments, where the signing key must not live in the
// environment of the host running the facade.
package secretstore

import (
	"context"
	"fmt"

	vault "github.com/hashicorp/vault/api"
)

const secretKeyField = "secret_key"

type Client struct {
	v *vault.Client
}

// New builds a Vault client for the given address and token.
func New(addr, token string) (*Client, error) {
	cfg := vault.DefaultConfig()
	cfg.Address = addr
	v, err := vault.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault client: %w", err)
	}
	v.SetToken(token)
	return &Client{v: v}, nil
}

// SecretKey reads the server secret from the given logical path. Both KV v2
// (nested under "data") and KV v1 layouts are accepted.
func (c *Client) SecretKey(ctx context.Context, path string) (string, error) {
	secret, err := c.v.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("no secret at %s", path)
	}
	data := secret.Data
	if nested, ok := data["data"].(map[string]interface{}); ok {
		data = nested
	}
	key, ok := data[secretKeyField].(string)
	if !ok || key == "" {
		return "", fmt.Errorf("secret at %s misses field %q", path, secretKeyField)
	}
	return key, nil
}

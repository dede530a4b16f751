package config

import (
	"context"
	"fmt"

	"github.com/hashicorp/vault/api"
)

// LoadBrokerCredentialsFromVault overwrites the broker app key/secret with
// values stored in Vault. Called from main when VaultConfig.Enabled is set,
// so credentials never have to live in the environment or on disk.
func LoadBrokerCredentialsFromVault(ctx context.Context, cfg *Config) error {
	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.VaultConfig.Address

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.VaultConfig.Token)

	path := fmt.Sprintf("%s/data/%s", cfg.VaultConfig.MountPath, cfg.VaultConfig.SecretPath)
	secret, err := client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to read broker secret from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return fmt.Errorf("no broker secret found at %s", path)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return fmt.Errorf("unexpected secret format at %s", path)
	}

	if v, ok := data["app_key"].(string); ok && v != "" {
		cfg.BrokerConfig.AppKey = v
	}
	if v, ok := data["app_secret"].(string); ok && v != "" {
		cfg.BrokerConfig.AppSecret = v
	}
	if v, ok := data["account_no"].(string); ok && v != "" {
		cfg.BrokerConfig.AccountNo = v
	}

	if cfg.BrokerConfig.AppKey == "" || cfg.BrokerConfig.AppSecret == "" {
		return fmt.Errorf("vault secret at %s is missing app_key/app_secret", path)
	}
	return nil
}

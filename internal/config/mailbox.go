package config

import (
	"os"

	"github.com/spf13/viper"

	"github.com/docmatch/docmatch/internal/common"
	"github.com/docmatch/docmatch/internal/mailbox"
)

// LoadMailboxConfig loads mailbox OAuth credentials from Viper and
// environment variables. It follows this precedence:
// 1. Viper configuration (from config file or DOCMATCH_ env vars)
// 2. Direct environment variables (GMAIL_*)
func LoadMailboxConfig() (*mailbox.OAuthConfig, error) {
	var config mailbox.OAuthConfig

	// Load from Viper first
	if v := viper.GetString("mailbox.client_id"); v != "" {
		config.ClientID = v
	}
	if v := viper.GetString("mailbox.client_secret"); v != "" {
		config.ClientSecret = v
	}

	// Override with direct environment variables if not set
	if config.ClientID == "" {
		config.ClientID = os.Getenv("GMAIL_CLIENT_ID")
	}
	if config.ClientSecret == "" {
		config.ClientSecret = os.Getenv("GMAIL_CLIENT_SECRET")
	}

	if config.ClientID == "" || config.ClientSecret == "" {
		return nil, &common.UserError{
			Err: common.ErrMissingConfig,
			UserMessage: "Mailbox credentials are not configured. Set mailbox.client_id and " +
				"mailbox.client_secret in your config file, or export GMAIL_CLIENT_ID and GMAIL_CLIENT_SECRET.",
		}
	}

	return &config, nil
}

// TokenDir returns the directory where mailbox OAuth tokens are stored.
func TokenDir() string {
	if v := viper.GetString("mailbox.token_dir"); v != "" {
		return ExpandPath(v)
	}
	return ExpandPath("~/.config/docmatch/tokens")
}

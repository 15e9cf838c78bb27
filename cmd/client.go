package cmd

import (
	"fmt"

	"github.com/psds-microservice/support-chat/internal/auth"
	"github.com/psds-microservice/support-chat/internal/config"
	"github.com/psds-microservice/support-chat/internal/supportapi"
	"github.com/psds-microservice/support-chat/pkg/logger"
)

// clientSetup builds the REST client of the client commands. The viewer
// identity is read from SUPPORT_TOKEN; the backend verifies the signature.
func clientSetup(log *logger.Logger) (*config.Config, *supportapi.Client, *auth.Claims, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	if err := cfg.ValidateClient(); err != nil {
		return nil, nil, nil, err
	}
	claims, err := auth.ParseUnverified(cfg.Client.Token)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("SUPPORT_TOKEN: %w", err)
	}
	client := supportapi.NewClient(cfg.Client.APIURL, cfg.Client.Token, cfg.Client.Timeout, log)
	return cfg, client, claims, nil
}

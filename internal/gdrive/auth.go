package gdrive

import (
	"context"
	"errors"
	"fmt"

	"github.com/chmdznr/table-to-drive-writer/pkg/models"
)

var ErrNoRefreshToken = errors.New("access token expired and no refresh token is available")

// TokenRefresher exchanges a refresh token for a new credential pair.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (models.Credentials, error)
}

// RefreshCallback is invoked with the new credentials before they are used.
// An error aborts the request that triggered the refresh.
type RefreshCallback func(ctx context.Context, creds models.Credentials) error

func (c *Client) refreshCredentials(ctx context.Context) error {
	current := c.Credentials()
	if current.RefreshToken == "" || c.refresher == nil {
		return ErrNoRefreshToken
	}

	fresh, err := c.refresher.Refresh(ctx, current.RefreshToken)
	if err != nil {
		return fmt.Errorf("refresh access token: %w", err)
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = current.RefreshToken
	}

	if c.onRefresh != nil {
		if err := c.onRefresh(ctx, fresh); err != nil {
			return fmt.Errorf("store refreshed credentials: %w", err)
		}
	}
	c.setCredentials(fresh)
	c.logger.Info("access token refreshed")
	return nil
}

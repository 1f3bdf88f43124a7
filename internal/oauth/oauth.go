// Package oauth exchanges refresh tokens for new access tokens.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/chmdznr/table-to-drive-writer/pkg/models"
)

// Scopes requested when the tokens were issued.
var Scopes = []string{
	"https://www.googleapis.com/auth/drive",
	"https://spreadsheets.google.com/feeds",
}

type Config struct {
	ClientID     string
	ClientSecret string
	// TokenURL overrides the provider's token endpoint.
	TokenURL   string
	HTTPClient *http.Client
}

// Refresher implements the refresh-token exchange for the transport client.
type Refresher struct {
	cfg        *oauth2.Config
	httpClient *http.Client
}

func NewRefresher(cfg Config) (*Refresher, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("oauth client id and secret are required")
	}
	endpoint := google.Endpoint
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
		endpoint.AuthStyle = oauth2.AuthStyleInParams
	}
	return &Refresher{
		cfg: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			Scopes:       Scopes,
		},
		httpClient: cfg.HTTPClient,
	}, nil
}

// Refresh returns a new credential pair. The refresh token is carried over
// when the provider does not rotate it.
func (r *Refresher) Refresh(ctx context.Context, refreshToken string) (models.Credentials, error) {
	if refreshToken == "" {
		return models.Credentials{}, errors.New("refresh token is empty")
	}
	if r.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
	}
	token, err := r.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return models.Credentials{}, fmt.Errorf("token exchange: %w", err)
	}
	creds := models.Credentials{AccessToken: token.AccessToken, RefreshToken: token.RefreshToken}
	if creds.RefreshToken == "" {
		creds.RefreshToken = refreshToken
	}
	return creds, nil
}

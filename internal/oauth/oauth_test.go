package oauth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chmdznr/table-to-drive-writer/pkg/models"
)

func tokenServer(t *testing.T, body string, status int, form *map[string]string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if form != nil {
			*form = map[string]string{
				"grant_type":    r.PostForm.Get("grant_type"),
				"refresh_token": r.PostForm.Get("refresh_token"),
				"client_id":     r.PostForm.Get("client_id"),
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestRefreshKeepsRefreshTokenWhenNotRotated(t *testing.T) {
	var form map[string]string
	server := tokenServer(t, `{"access_token":"new-access","token_type":"Bearer","expires_in":3600}`, http.StatusOK, &form)

	r, err := NewRefresher(Config{ClientID: "cid", ClientSecret: "secret", TokenURL: server.URL, HTTPClient: server.Client()})
	require.NoError(t, err)

	creds, err := r.Refresh(context.Background(), "old-refresh")
	require.NoError(t, err)
	require.Equal(t, models.Credentials{AccessToken: "new-access", RefreshToken: "old-refresh"}, creds)
	require.Equal(t, "refresh_token", form["grant_type"])
	require.Equal(t, "old-refresh", form["refresh_token"])
	require.Equal(t, "cid", form["client_id"])
}

func TestRefreshRotatedToken(t *testing.T) {
	server := tokenServer(t, `{"access_token":"a2","refresh_token":"r2","token_type":"Bearer"}`, http.StatusOK, nil)

	r, err := NewRefresher(Config{ClientID: "cid", ClientSecret: "secret", TokenURL: server.URL, HTTPClient: server.Client()})
	require.NoError(t, err)

	creds, err := r.Refresh(context.Background(), "r1")
	require.NoError(t, err)
	require.Equal(t, "r2", creds.RefreshToken)
}

func TestRefreshRejected(t *testing.T) {
	server := tokenServer(t, `{"error":"invalid_grant"}`, http.StatusBadRequest, nil)

	r, err := NewRefresher(Config{ClientID: "cid", ClientSecret: "secret", TokenURL: server.URL, HTTPClient: server.Client()})
	require.NoError(t, err)

	_, err = r.Refresh(context.Background(), "revoked")
	require.ErrorContains(t, err, "invalid_grant")
}

func TestNewRefresherRequiresClient(t *testing.T) {
	_, err := NewRefresher(Config{ClientID: "cid"})
	require.Error(t, err)
}

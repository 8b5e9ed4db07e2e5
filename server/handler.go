package server

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/julez-dev/rewardplay/save"
)

var indexTemplate = template.Must(template.New("index").Parse(`<!doctype html>
<html>
<head><title>rewardplay authorization</title></head>
<body>
<h2>Twitch OAuth</h2>
<p><a href="{{.AuthURL}}">Authorize on Twitch</a></p>
<p>Redirect URI: <code>{{.RedirectURL}}</code></p>
</body>
</html>
`))

type savedResponse struct {
	SavedTo string `json:"saved_to"`
}

func (a *API) handleIndex() http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := a.getLoggerFrom(r.Context())

		w.Header().Set("Content-Type", "text/html; charset=utf-8")

		err := indexTemplate.Execute(w, struct {
			AuthURL     string
			RedirectURL string
		}{
			AuthURL:     a.oauth.AuthCodeURL(a.state),
			RedirectURL: a.conf.RedirectURL,
		})
		if err != nil {
			logger.Err(err).Msg("could not render index page")
		}
	})
}

func (a *API) handleCallback() http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := a.getLoggerFrom(r.Context())

		values := r.URL.Query()

		if qErr := values.Get("error"); qErr != "" {
			logger.Err(errors.New(qErr)).Str("description", values.Get("error_description")).Msg("got error from twitch redirect")
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte("App was not authorized"))
			return
		}

		if subtle.ConstantTimeCompare([]byte(values.Get("state")), []byte(a.state)) != 1 {
			logger.Error().Msg("state does not match")
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte("Invalid state"))
			return
		}

		code := values.Get("code")
		if code == "" {
			logger.Error().Msg("code is missing from twitch redirect")
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte("Missing code"))
			return
		}

		resp, err := a.oauth.ExchangeAuthorizationCode(r.Context(), code)
		if err != nil {
			logger.Err(err).Msg("could not exchange authorization code")
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("OAuth callback failed"))
			return
		}

		now := a.clock.Now()
		creds := save.Credentials{
			AccessToken:  resp.AccessToken,
			RefreshToken: resp.RefreshToken,
			TokenType:    resp.TokenType,
			Scopes:       resp.Scopes,
			ExpiresIn:    resp.ExpiresIn,
			ExpiresAt:    now.Add(time.Duration(resp.ExpiresIn) * time.Second),
			ObtainedAt:   now,
		}

		if err := a.store.Write(creds); err != nil {
			logger.Err(err).Msg("could not store tokens")
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("OAuth callback failed"))
			return
		}

		logger.Info().Str("location", a.store.Location()).Msg("tokens saved")

		body, err := json.Marshal(savedResponse{SavedTo: a.store.Location()})
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(body)

		a.savedOnce.Do(func() {
			close(a.saved)
		})
	})
}

func (a *API) handleGetHealth() http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprint(w, "UP")
	})
}

func randomString(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

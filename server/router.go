package server

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

func router(logger zerolog.Logger, api *API) *chi.Mux {
	c := chi.NewMux()

	c.Use(
		middleware.RequestID,
		requestLogger(logger),
		middleware.RequestSize(5*1024),
		middleware.Recoverer,
	)

	c.Route("/internal", func(r chi.Router) {
		r.Get("/health", api.handleGetHealth())
	})

	c.Get("/", api.handleIndex())
	c.Get("/callback", api.handleCallback())

	return c
}

package app

import (
	"net/http"

	"github.com/gorilla/mux"

	"parley/pkg/api"
	"parley/pkg/auth"
	"parley/pkg/banner"
	"parley/pkg/telemetry"
)

// printBanner prints the startup banner and build info.
func (a *App) printBanner() {
	verStr := a.version
	if a.commit != "" && a.commit != "none" {
		verStr += " (" + a.commit + ")"
	}
	if a.buildDate != "" && a.buildDate != "unknown" {
		verStr += " @ " + a.buildDate
	}
	banner.Print(a.addr, a.dbPath, a.source, verStr)
}

// buildHandler assembles the router: health and metrics stay outside the
// signature check, everything under /v1 requires a verified user.
func (a *App) buildHandler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", api.Healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", api.Readyz).Methods(http.MethodGet)
	r.Handle("/metrics", telemetry.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(auth.RequireSignedUser)
	api.New(a.svc).Register(v1)

	return auth.GatewayMiddleware(a.cfg.Security)(r)
}

// startHTTP starts the HTTP server in a goroutine and returns a channel
// that will carry any fatal server error.
func (a *App) startHTTP() <-chan error {
	a.srv = &http.Server{Addr: a.addr, Handler: a.buildHandler()}

	errCh := make(chan error, 1)
	go func() {
		cert := a.cfg.Server.TLS.CertFile
		key := a.cfg.Server.TLS.KeyFile
		if cert != "" && key != "" {
			errCh <- a.srv.ListenAndServeTLS(cert, key)
		} else {
			errCh <- a.srv.ListenAndServe()
		}
	}()
	return errCh
}

// Package server serves a trust chain bundle over HTTPS: the leaf
// certificate secures the listener and the CA certificate is offered for
// download so it can be imported into a trust store.
package server

import (
	"crypto/tls"
	_ "embed"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	openapimw "github.com/go-openapi/runtime/middleware"
	"go.uber.org/zap"

	"github.com/jmcleod/localtrust/internal/logging"
	"github.com/jmcleod/localtrust/pki"
	"github.com/jmcleod/localtrust/trustchain"
)

// DefaultPort is the port serve listens on when none is configured.
const DefaultPort = 8443

// Config holds listener settings.
type Config struct {
	Addr string
}

//go:embed openapi.yaml
var openapiDoc []byte

// Description is the JSON document served at "/".
type Description struct {
	CA   pki.Summary `json:"ca"`
	Cert pki.Summary `json:"cert"`
}

// New returns an HTTPS server presenting the bundle's leaf certificate. Call
// ListenAndServeTLS("", "") on the result.
func New(cfg Config, bundle trustchain.Bundle, logger *zap.Logger) (*http.Server, error) {
	cert, err := bundle.TLSCertificate()
	if err != nil {
		return nil, err
	}
	handler, err := Handler(bundle, logger)
	if err != nil {
		return nil, err
	}

	addr := cfg.Addr
	if addr == "" {
		addr = fmt.Sprintf(":%d", DefaultPort)
	}

	return &http.Server{
		Addr:    addr,
		Handler: handler,
		TLSConfig: &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		},
		ErrorLog:          logging.StandardErrorLog(logger),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}, nil
}

// Handler returns the router for bundle.
func Handler(bundle trustchain.Bundle, logger *zap.Logger) (http.Handler, error) {
	ca, err := pki.DecodeCertificatePEM([]byte(bundle.CA))
	if err != nil {
		return nil, fmt.Errorf("decoding bundle ca: %w", err)
	}
	leaf, err := pki.DecodeCertificatePEM([]byte(bundle.Cert))
	if err != nil {
		return nil, fmt.Errorf("decoding bundle cert: %w", err)
	}
	description := Description{CA: pki.Describe(ca), Cert: pki.Describe(leaf)}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(securityHeaders)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiDoc)
	})

	r.Handle("/docs*", openapimw.SwaggerUI(openapimw.SwaggerUIOpts{
		SpecURL: "/openapi.yaml",
		Path:    "docs",
	}, nil))

	r.Handle("/redoc*", openapimw.Redoc(openapimw.RedocOpts{
		SpecURL: "/openapi.yaml",
		Path:    "redoc",
	}, nil))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	r.Get("/ca.crt", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-x509-ca-cert")
		w.Header().Set("Content-Disposition", `attachment; filename="ca.crt"`)
		w.Write(ca.Raw)
	})

	r.Get("/ca.pem", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-pem-file")
		w.Write([]byte(bundle.CA))
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(description); err != nil {
			logger.Warn("encoding description", zap.Error(err))
		}
	})

	return r, nil
}

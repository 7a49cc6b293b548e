package web

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"
)

const (
	acmeChallengeAddr   = ":80"
	defaultCertCacheDir = "cert-cache"
)

// autoTLS ACME certificate management for the dashboard domains.
type autoTLS struct {
	domains []string
	manager *autocert.Manager
}

// newAutoTLS validates domains and prepares a manager caching certificates in
// cacheDir. Domains are bare host names; duplicates are dropped.
func newAutoTLS(domains []string, cacheDir string) (*autoTLS, error) {
	hosts := make([]string, 0, len(domains))
	seen := make(map[string]struct{}, len(domains))
	for _, raw := range domains {
		host := strings.ToLower(strings.TrimSpace(raw))
		if host == "" {
			continue
		}
		if strings.ContainsAny(host, ":/") {
			return nil, errors.Errorf("tls domain %q must be a bare host name", raw)
		}
		if _, dup := seen[host]; dup {
			continue
		}
		seen[host] = struct{}{}
		hosts = append(hosts, host)
	}
	if len(hosts) == 0 {
		return nil, errors.New("no domains provided for automatic TLS")
	}
	if cacheDir == "" {
		cacheDir = defaultCertCacheDir
	}

	return &autoTLS{
		domains: hosts,
		manager: &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(hosts...),
			Cache:      autocert.DirCache(cacheDir),
		},
	}, nil
}

// tlsConfig certificates come from the manager.
func (a *autoTLS) tlsConfig() *tls.Config {
	conf := a.manager.TLSConfig()
	conf.MinVersion = tls.VersionTLS12
	return conf
}

// challengeHandler answers HTTP-01 challenges and sends everything else to https.
func (a *autoTLS) challengeHandler() http.Handler {
	return a.manager.HTTPHandler(http.HandlerFunc(redirectToHTTPS))
}

// redirectToHTTPS answers with a 308; method and body are preserved.
func redirectToHTTPS(w http.ResponseWriter, r *http.Request) {
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	http.Redirect(w, r, "https://"+host+r.URL.RequestURI(), http.StatusPermanentRedirect)
}

// StartWithAutoTLS serves the dashboard over HTTPS with ACME certificates for
// domains. Challenges are answered on :80; a failure there is logged only,
// since certificates already in the cache keep working.
func (s *Server) StartWithAutoTLS(ctx context.Context, domains []string, cacheDir string) error {
	auto, err := newAutoTLS(domains, cacheDir)
	if err != nil {
		return err
	}

	challenge := &http.Server{
		Addr:              acmeChallengeAddr,
		Handler:           auto.challengeHandler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	dashboard := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
		TLSConfig:         auto.tlsConfig(),
	}

	go func() {
		if err := s.serve(ctx, challenge, challenge.ListenAndServe); err != nil {
			s.logger.Error("acme challenge server failed", zap.Error(err))
		}
	}()

	s.logger.Info("dashboard listening with auto TLS", zap.String("addr", s.Addr), zap.Strings("domains", auto.domains))
	return s.serve(ctx, dashboard, func() error { return dashboard.ListenAndServeTLS("", "") })
}

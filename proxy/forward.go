// Package proxy forwards defended traffic to the dashboard backend.
package proxy

import (
	"net/http"
	"net/http/httputil"
	"net/url"

	"go.uber.org/zap"
)

type ReverseProxy struct {
	target *url.URL
	proxy  *httputil.ReverseProxy
	log    *zap.Logger
}

func NewReverseProxy(targetURL string, log *zap.Logger) (*ReverseProxy, error) {
	target, err := url.Parse(targetURL)
	if err != nil {
		return nil, err
	}

	rp := &ReverseProxy{
		target: target,
		log:    log.With(zap.String("module", "proxy")),
	}

	proxy := httputil.NewSingleHostReverseProxy(target)

	proxy.ModifyResponse = func(resp *http.Response) error {
		resp.Header.Set("X-Proxy", "shieldcore")
		return nil
	}

	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		rp.log.Warn("backend request failed",
			zap.String("path", r.URL.Path),
			zap.String("backend", target.Host),
			zap.Error(err))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error": "backend service unavailable"}`))
	}

	rp.proxy = proxy
	return rp, nil
}

func (rp *ReverseProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r.Host = rp.target.Host
	rp.proxy.ServeHTTP(w, r)
}

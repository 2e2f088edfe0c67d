package control

import (
	"crypto/subtle"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// withAuth guards h with the shared token. An empty token leaves h open.
func withAuth(token string, h http.HandlerFunc) http.HandlerFunc {
	want := []byte(strings.TrimSpace(token))
	if len(want) == 0 {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if subtle.ConstantTimeCompare([]byte(presentedToken(r)), want) == 1 {
			h(w, r)
			return
		}
		w.Header().Set("WWW-Authenticate", `Bearer realm="stayconnect"`)
		writeError(w, http.StatusUnauthorized, "unauthorized", nil)
	}
}

// presentedToken reads an Authorization bearer, then the X-Api-Key header
// cron callers send, then the token or api_key query param.
func presentedToken(r *http.Request) string {
	if scheme, cred, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(cred)
	}
	if k := strings.TrimSpace(r.Header.Get("X-Api-Key")); k != "" {
		return k
	}
	q := r.URL.Query()
	if t := q.Get("token"); t != "" {
		return t
	}
	return q.Get("api_key")
}

// isLoopbackAddr reports whether a host:port only accepts local clients.
// An empty host binds every interface.
func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	switch {
	case err != nil, host == "":
		return false
	case strings.EqualFold(host, "localhost"):
		return true
	}
	ip, err := netip.ParseAddr(host)
	return err == nil && ip.IsLoopback()
}

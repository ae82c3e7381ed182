package httpmiddleware

import (
	"net/http"
	"net/url"
	"strings"
)

// SameOrigin rejects state-changing requests (anything but GET, HEAD and
// OPTIONS) whose Origin header names a foreign site. Requests without an
// Origin header are let through, as are origins matching the request host or
// one of trusted. Trusted entries are compared case-insensitively.
func SameOrigin(trusted ...string) Middleware {
	allowed := make(map[string]struct{}, len(trusted))
	for _, o := range trusted {
		allowed[strings.ToLower(strings.TrimSuffix(o, "/"))] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}

			origin := r.Header.Get("Origin")
			if origin == "" || originAllowed(origin, r.Host, allowed) {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Add("Vary", "Origin")
			http.Error(w, "Cross-origin request rejected.", http.StatusForbidden)
		})
	}
}

func originAllowed(origin, host string, allowed map[string]struct{}) bool {
	origin = strings.ToLower(origin)
	if _, ok := allowed[origin]; ok {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, host)
}

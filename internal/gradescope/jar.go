package gradescope

import (
	"net/http"
	"strings"
)

// cookieJar accumulates Set-Cookie values from successive responses into a
// request-ready Cookie header. It is deliberately not an RFC 6265 cookie
// store: every request targets one fixed origin, so path,
// domain, and expiry attributes are dropped and only name=value survives.
// Its lifetime is bounded by the auth session, not by cookie Max-Age.
type cookieJar struct {
	order  []string
	values map[string]string
}

func newCookieJar() *cookieJar {
	return &cookieJar{values: make(map[string]string)}
}

// cookieAttributes are the Set-Cookie attribute names the jar discards.
// Everything else in a header is treated as a name=value cookie pair.
var cookieAttributes = map[string]struct{}{
	"path":        {},
	"domain":      {},
	"expires":     {},
	"max-age":     {},
	"secure":      {},
	"httponly":    {},
	"samesite":    {},
	"priority":    {},
	"partitioned": {},
}

// Ingest upserts every name=value pair from the response's Set-Cookie
// headers, skipping attribute segments. Last write wins per name; insertion
// order is preserved for serialization.
func (j *cookieJar) Ingest(header http.Header) {
	for _, raw := range header.Values("Set-Cookie") {
		for _, segment := range strings.Split(raw, ";") {
			name, value, ok := strings.Cut(strings.TrimSpace(segment), "=")
			name = strings.TrimSpace(name)
			if !ok || name == "" {
				continue
			}
			if _, attr := cookieAttributes[strings.ToLower(name)]; attr {
				continue
			}
			if _, exists := j.values[name]; !exists {
				j.order = append(j.order, name)
			}
			j.values[name] = value
		}
	}
}

// Serialize joins the held cookies as "name=value; name2=value2" in
// insertion order.
func (j *cookieJar) Serialize() string {
	if len(j.order) == 0 {
		return ""
	}
	parts := make([]string, 0, len(j.order))
	for _, name := range j.order {
		parts = append(parts, name+"="+j.values[name])
	}
	return strings.Join(parts, "; ")
}

// Clear empties the jar, used on forced re-authentication.
func (j *cookieJar) Clear() {
	j.order = nil
	j.values = make(map[string]string)
}

func (j *cookieJar) Len() int {
	return len(j.order)
}

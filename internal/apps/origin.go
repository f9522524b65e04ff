package apps

import (
	"fmt"
	"net/url"
	"strings"
)

// Origin identifica un boundary de seguridad web: scheme + host + port.
// La comparación es estructural y exacta; no hay wildcards de subdominio.
type Origin struct {
	Scheme string
	Host   string
	Port   string
}

// ParseOrigin parsea una URL absoluta y extrae su origin normalizado.
// Path/query se ignoran. Falla cerrado: cualquier cosa que no sea una
// URL absoluta http(s) es error.
func ParseOrigin(raw string) (Origin, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Origin{}, fmt.Errorf("origin vacío")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Origin{}, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Origin{}, fmt.Errorf("scheme no soportado: %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return Origin{}, fmt.Errorf("origin sin host: %q", raw)
	}
	return normalize(u), nil
}

// normalize baja a minúsculas y descarta puertos default, igual que
// el concepto de "origin" de los navegadores (https://x:443 == https://x).
func normalize(u *url.URL) Origin {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	return Origin{Scheme: scheme, Host: host, Port: port}
}

func (o Origin) String() string {
	if o.Port != "" {
		return o.Scheme + "://" + o.Host + ":" + o.Port
	}
	return o.Scheme + "://" + o.Host
}

// OriginOf extrae el origin de una URL ya parseada.
func OriginOf(u *url.URL) (Origin, error) {
	if u == nil || !u.IsAbs() {
		return Origin{}, fmt.Errorf("url no absoluta")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Origin{}, fmt.Errorf("scheme no soportado: %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return Origin{}, fmt.Errorf("url sin host")
	}
	return normalize(u), nil
}

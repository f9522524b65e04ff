package http

import (
	"net"
	"regexp"
	"strings"
)

// CookieRewriter re-scopea los Set-Cookie del motor al dominio registrable
// correcto del host que atendió el request, para que la sesión aplique a
// todos los subdominios del despliegue.
//
// La tabla de dominios es estática (configuración) y chica a propósito:
// ante un host desconocido NO se adivina dominio y la cookie pasa intacta.
type CookieRewriter struct {
	domains []string
}

// NewCookieRewriter recibe los dominios registrables conocidos
// (p.ej. ["capy.town", "capyschool.com"]), normalizados a minúsculas.
func NewCookieRewriter(domains []string) *CookieRewriter {
	out := make([]string, 0, len(domains))
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(d, ".")))
		if d != "" {
			out = append(out, d)
		}
	}
	return &CookieRewriter{domains: out}
}

// Resolve mapea un host al dominio registrable canónico, o "" si el host
// no pertenece a ningún dominio conocido.
func (c *CookieRewriter) Resolve(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	for _, d := range c.domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return d
		}
	}
	return ""
}

var (
	domainAttrRe = regexp.MustCompile(`(?i);\s*Domain=[^;]*`)
	hostPrefixRe = regexp.MustCompile(`(?i)^__Host-`)
)

// RewriteCookieDomain reemplaza (o agrega) el atributo Domain de un Set-Cookie.
//
// Las cookies __Host- NUNCA se tocan: el contrato del prefijo prohíbe el
// atributo Domain y el browser las rechazaría en silencio.
func RewriteCookieDomain(setCookie, domain string) string {
	if domain == "" {
		return setCookie
	}
	if hostPrefixRe.MatchString(strings.TrimSpace(setCookie)) {
		return setCookie
	}
	if domainAttrRe.MatchString(setCookie) {
		return domainAttrRe.ReplaceAllString(setCookie, "; Domain="+domain)
	}
	return setCookie + "; Domain=" + domain
}

// RewriteAll procesa el set completo de Set-Cookie de una respuesta,
// cada uno independiente, preservando el orden. Ninguna cookie se descarta.
func (c *CookieRewriter) RewriteAll(setCookies []string, requestHost string) []string {
	domain := c.Resolve(requestHost)
	if domain == "" {
		return setCookies
	}
	out := make([]string, len(setCookies))
	for i, sc := range setCookies {
		out[i] = RewriteCookieDomain(sc, domain)
	}
	return out
}

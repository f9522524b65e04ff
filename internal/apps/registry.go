// Package apps mantiene el registro estático de aplicaciones cliente y la
// validación de redirects post-login contra sus orígenes declarados.
//
// El registro es inmutable después de Load: se construye una vez al arranque
// desde la configuración y solo se lee por request.
package apps

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/capy-town/capyauth/internal/config"
)

// App es una aplicación cliente registrada con sus orígenes de redirect válidos.
type App struct {
	ID           string
	Name         string
	Description  string
	ValidOrigins []Origin
}

// IsRedirectAllowed decide si candidate es un destino admisible para esta app.
// Predicado puro: parsea candidate como URL absoluta (falla cerrado) y compara
// su origin contra cada origin declarado. Path y query son irrelevantes.
func (a *App) IsRedirectAllowed(candidate string) bool {
	o, err := ParseOrigin(candidate)
	if err != nil {
		return false
	}
	for _, v := range a.ValidOrigins {
		if v == o {
			return true
		}
	}
	return false
}

// Registry indexa las apps por id (case-insensitive) y mantiene la unión
// global de orígenes permitidos para el bridge SSO.
type Registry struct {
	apps       map[string]*App
	ssoOrigins map[Origin]struct{}
	// Orígenes declarados por apps que no figuran en la lista SSO extra.
	// No es un error (el bridge valida contra la unión) pero se loguea al arranque.
	drift []string
}

// Load construye el registro desde la configuración.
// Cualquier origin mal formado en el YAML es un error de arranque: preferimos
// no levantar antes que levantar con una allow-list parcial.
func Load(entries []config.AppEntry, extraSSOOrigins []string) (*Registry, error) {
	r := &Registry{
		apps:       make(map[string]*App, len(entries)),
		ssoOrigins: make(map[Origin]struct{}),
	}

	extra := make(map[Origin]struct{}, len(extraSSOOrigins))
	for _, raw := range extraSSOOrigins {
		o, err := ParseOrigin(raw)
		if err != nil {
			return nil, fmt.Errorf("sso.extra_allowed_origins: %q: %w", raw, err)
		}
		extra[o] = struct{}{}
		r.ssoOrigins[o] = struct{}{}
	}

	for _, e := range entries {
		id := strings.ToLower(strings.TrimSpace(e.ID))
		if id == "" {
			return nil, fmt.Errorf("app sin id")
		}
		if _, dup := r.apps[id]; dup {
			return nil, fmt.Errorf("app id duplicado: %q", id)
		}
		app := &App{
			ID:          id,
			Name:        e.Name,
			Description: e.Description,
		}
		for _, raw := range e.ValidOrigins {
			o, err := ParseOrigin(raw)
			if err != nil {
				return nil, fmt.Errorf("app %q: origin %q: %w", id, raw, err)
			}
			app.ValidOrigins = append(app.ValidOrigins, o)
			r.ssoOrigins[o] = struct{}{}
			if _, ok := extra[o]; !ok {
				r.drift = append(r.drift, id+": "+o.String())
			}
		}
		r.apps[id] = app
	}

	sort.Strings(r.drift)
	return r, nil
}

// Lookup busca una app por id, case-insensitive.
func (r *Registry) Lookup(id string) (*App, bool) {
	if id == "" {
		return nil, false
	}
	a, ok := r.apps[strings.ToLower(strings.TrimSpace(id))]
	return a, ok
}

// IsSSORedirectAllowed valida un destino contra la unión de todos los orígenes
// registrados (apps + lista SSO extra). El bridge es app-agnóstico en redeem,
// así que acá no importa qué app originó el flujo.
func (r *Registry) IsSSORedirectAllowed(u *url.URL) bool {
	o, err := OriginOf(u)
	if err != nil {
		return false
	}
	_, ok := r.ssoOrigins[o]
	return ok
}

// SSOOrigins devuelve la unión de orígenes permitidos, ordenada.
func (r *Registry) SSOOrigins() []string {
	out := make([]string, 0, len(r.ssoOrigins))
	for o := range r.ssoOrigins {
		out = append(out, o.String())
	}
	sort.Strings(out)
	return out
}

// Apps devuelve las apps registradas ordenadas por id.
func (r *Registry) Apps() []*App {
	out := make([]*App, 0, len(r.apps))
	for _, a := range r.apps {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Drift lista orígenes declarados por apps que faltan en la lista SSO extra.
// La validación del bridge usa la unión, así que esto no bloquea; se reporta
// al arranque para que configuración y apps no diverjan en silencio.
func (r *Registry) Drift() []string {
	return r.drift
}

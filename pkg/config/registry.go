package config

import "fmt"

type sourceApp struct {
	App
	types map[string]struct{}
}

// Registry is the immutable lookup view of a Config: apps by role, source apps in
// declaration order, SMTP profiles by name. Build it once at startup and share it;
// nothing mutates it afterwards.
type Registry struct {
	domain   string
	roles    map[AppType]App
	sources  []sourceApp
	profiles map[string]SMTPProfile
}

// NewRegistry indexes cfg. For roles declared more than once the first entry wins.
func NewRegistry(cfg Config) *Registry {
	r := &Registry{
		domain:   cfg.Kintone.Domain,
		roles:    make(map[AppType]App),
		profiles: make(map[string]SMTPProfile, len(cfg.SMTPServers)),
	}
	for _, app := range cfg.Kintone.Apps {
		if _, seen := r.roles[app.Type]; !seen {
			r.roles[app.Type] = app
		}
		if app.Type != AppTypeSource {
			continue
		}
		types := make(map[string]struct{}, len(app.Types))
		for _, t := range app.Types {
			types[t] = struct{}{}
		}
		r.sources = append(r.sources, sourceApp{App: app, types: types})
	}
	for _, p := range cfg.SMTPServers {
		if _, seen := r.profiles[p.Name]; !seen {
			r.profiles[p.Name] = p
		}
	}
	return r
}

// Domain is the kintone domain webhooks must originate from.
func (r *Registry) Domain() string { return r.domain }

// App returns the first app configured for role. It fails with a *ConfigError
// when the role is missing or the entry has no id or API token.
func (r *Registry) App(role AppType) (App, error) {
	app, ok := r.roles[role]
	if !ok {
		return App{}, &ConfigError{Op: "lookup", Msg: fmt.Sprintf("no %s app configured", role)}
	}
	if app.ID == "" || app.APIToken == "" {
		return App{}, &ConfigError{Op: "lookup", Msg: fmt.Sprintf("%s app is missing id or apiToken", role)}
	}
	return app, nil
}

// MatchSourceApp returns the first source app whose id equals id and whose
// allowed types contain hookType.
func (r *Registry) MatchSourceApp(id AppID, hookType string) (App, bool) {
	for _, s := range r.sources {
		if s.ID != id {
			continue
		}
		if _, ok := s.types[hookType]; ok {
			return s.App, true
		}
	}
	return App{}, false
}

// SMTPProfile returns the named profile or a *ConfigError.
func (r *Registry) SMTPProfile(name string) (SMTPProfile, error) {
	p, ok := r.profiles[name]
	if !ok {
		return SMTPProfile{}, &ConfigError{Op: "lookup", Msg: fmt.Sprintf("no smtp server named %q", name)}
	}
	return p, nil
}

// SMTPProfiles returns a copy of all profiles keyed by name.
func (r *Registry) SMTPProfiles() map[string]SMTPProfile {
	out := make(map[string]SMTPProfile, len(r.profiles))
	for k, v := range r.profiles {
		out[k] = v
	}
	return out
}

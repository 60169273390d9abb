// Package provider wires the upstream adapters into a registry the
// orchestrator, reconciler and poller resolve adapters from. Each
// adapter gets its own circuit breaker and retry policy.
package provider

import (
	"fmt"
	"time"

	"github.com/DesignerDev23/MiiMii-sub000/internal/config"
	"github.com/DesignerDev23/MiiMii-sub000/internal/domain"
	"github.com/DesignerDev23/MiiMii-sub000/internal/provider/bellbank"
	"github.com/DesignerDev23/MiiMii-sub000/internal/provider/bilal"
	"github.com/DesignerDev23/MiiMii-sub000/internal/provider/dojah"
	"github.com/DesignerDev23/MiiMii-sub000/internal/provider/ninepsb"
	"github.com/DesignerDev23/MiiMii-sub000/internal/retry"
)

type entry struct {
	adapter domain.Adapter
	breaker *retry.Breaker
	policy  retry.Policy
	timeout time.Duration
}

type Registry struct {
	entries     map[string]entry
	defaultBaas string
}

func NewRegistry(cfg config.AppConfig) (*Registry, error) {
	r := &Registry{
		entries:     make(map[string]entry),
		defaultBaas: cfg.DefaultBaas,
	}

	r.add(bellbank.New(cfg.BellBank), cfg.BellBank, retry.BankPolicy())
	r.add(ninepsb.New(cfg.NinePsb), cfg.NinePsb, retry.BankPolicy())
	r.add(bilal.New(cfg.Bilal), cfg.Bilal, retry.DefaultPolicy())
	r.add(dojah.New(cfg.Dojah), cfg.Dojah, retry.DefaultPolicy())

	def, ok := r.entries[cfg.DefaultBaas]
	if !ok {
		return nil, fmt.Errorf("unknown default baas adapter %q", cfg.DefaultBaas)
	}
	if def.adapter.Kind() != domain.ProviderKindBaas {
		return nil, fmt.Errorf("default baas adapter %q has kind %q", cfg.DefaultBaas, def.adapter.Kind())
	}
	return r, nil
}

func (r *Registry) add(a domain.Adapter, cfg config.ProviderConfig, p retry.Policy) {
	r.entries[a.Name()] = entry{
		adapter: a,
		breaker: retry.NewBreaker(a.Name(), cfg.Circuit),
		policy:  p,
		timeout: cfg.Timeout,
	}
}

func (r *Registry) Get(name string) (domain.Adapter, error) {
	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	return e.adapter, nil
}

// DefaultBaas returns the adapter that dispatches outbound bank transfers.
func (r *Registry) DefaultBaas() domain.Adapter {
	return r.entries[r.defaultBaas].adapter
}

func (r *Registry) Breaker(name string) *retry.Breaker {
	if e, ok := r.entries[name]; ok {
		return e.breaker
	}
	return nil
}

func (r *Registry) Policy(name string) retry.Policy {
	if e, ok := r.entries[name]; ok {
		return e.policy
	}
	return retry.DefaultPolicy()
}

// WebhookSource resolves the adapter that verifies and parses webhooks
// for the named provider, when it exposes that capability.
func (r *Registry) WebhookSource(name string) (domain.WebhookSource, bool) {
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	ws, ok := e.adapter.(domain.WebhookSource)
	return ws, ok
}

// Names lists registered adapters, for health reporting.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.entries))
	for n := range r.entries {
		out = append(out, n)
	}
	return out
}

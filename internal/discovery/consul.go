// Package discovery registers this orchestrator instance with Consul so
// other services can find it, and deregisters it on shutdown. It is
// optional: an orchestrator with no Consul address configured simply never
// calls into this package. Grounded in
// services/gateway/pkg/discovery/consul/consul.go, trimmed from that
// file's full worker-registry surface (Watch, Heartbeat, filters) down to
// the single-instance register/deregister this service needs.
package discovery

import (
	"fmt"

	consulapi "github.com/hashicorp/consul/api"
)

// Config names the Consul agent and the service identity to register.
type Config struct {
	Address     string
	Datacenter  string
	Scheme      string
	Token       string
	ServiceName    string
	ServiceID      string
	ServiceAddress string
	ServicePort    int
}

// Registry registers and deregisters this instance with a Consul agent.
type Registry struct {
	client *consulapi.Client
	cfg    Config
}

// New connects to the Consul agent described by cfg.
func New(cfg Config) (*Registry, error) {
	consulCfg := consulapi.DefaultConfig()
	consulCfg.Address = cfg.Address
	if cfg.Datacenter != "" {
		consulCfg.Datacenter = cfg.Datacenter
	}
	if cfg.Scheme != "" {
		consulCfg.Scheme = cfg.Scheme
	}
	if cfg.Token != "" {
		consulCfg.Token = cfg.Token
	}

	client, err := consulapi.NewClient(consulCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}

	return &Registry{client: client, cfg: cfg}, nil
}

// Register advertises this orchestrator instance under cfg.ServiceName with
// an HTTP health check against its own /sandbox endpoint.
func (r *Registry) Register(healthURL string) error {
	registration := &consulapi.AgentServiceRegistration{
		ID:      r.cfg.ServiceID,
		Name:    r.cfg.ServiceName,
		Address: r.cfg.ServiceAddress,
		Port:    r.cfg.ServicePort,
		Check: &consulapi.AgentServiceCheck{
			HTTP:                           healthURL,
			Interval:                       "10s",
			Timeout:                        "5s",
			DeregisterCriticalServiceAfter: "1m",
		},
	}

	if err := r.client.Agent().ServiceRegister(registration); err != nil {
		return fmt.Errorf("failed to register %s with consul: %w", r.cfg.ServiceID, err)
	}
	return nil
}

// Deregister removes this instance's service entry from Consul.
func (r *Registry) Deregister() error {
	if err := r.client.Agent().ServiceDeregister(r.cfg.ServiceID); err != nil {
		return fmt.Errorf("failed to deregister %s from consul: %w", r.cfg.ServiceID, err)
	}
	return nil
}

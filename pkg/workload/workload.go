// Package workload talks to the supervisor running the managed ZooKeeper
// process: pushing files into its filesystem and starting, stopping and
// restarting its services from a layered plan.
package workload

import (
	"context"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v2"
)

// Service describes one supervised process.
type Service struct {
	Override string `yaml:"override,omitempty"`
	Summary  string `yaml:"summary,omitempty"`
	Command  string `yaml:"command,omitempty"`
	Startup  string `yaml:"startup,omitempty"`
}

// Layer is a named set of service definitions merged into the plan.
type Layer struct {
	Summary     string             `yaml:"summary,omitempty"`
	Description string             `yaml:"description,omitempty"`
	Services    map[string]Service `yaml:"services,omitempty"`
}

// Plan is the merge of every layer added so far.
type Plan struct {
	Services map[string]Service `yaml:"services,omitempty"`
}

func (p Plan) YAML() ([]byte, error) {
	return yaml.Marshal(p)
}

// Container is the supervisor boundary.
type Container interface {
	Push(ctx context.Context, path string, data []byte) error
	Pull(ctx context.Context, path string) ([]byte, error)
	Plan(ctx context.Context) (Plan, error)
	AddLayer(ctx context.Context, label string, l Layer, combine bool) error
	Stop(ctx context.Context, services ...string) error
	// Autostart starts every service with startup "enabled" that is not
	// running.
	Autostart(ctx context.Context) error
}

// ServiceLayer returns the layer defining the ZooKeeper service.
func ServiceLayer(name, command string) Layer {
	return Layer{
		Summary:     "zookeeper layer",
		Description: "service layer for zookeeper",
		Services: map[string]Service{
			name: {
				Override: "replace",
				Summary:  "zookeeper",
				Command:  command,
				Startup:  "enabled",
			},
		},
	}
}

// Restart stops service and autostarts the plan again. When the plan has no
// services yet the workload is not provisioned and restarted is false: the
// first provisioning pass starts it instead.
func Restart(ctx context.Context, c Container, service string) (restarted bool, err error) {
	plan, err := c.Plan(ctx)
	if err != nil {
		return false, errors.Wrap(err, "read plan")
	}
	if len(plan.Services) == 0 {
		return false, nil
	}
	if err := c.Stop(ctx, service); err != nil {
		return false, errors.Wrapf(err, "stop %s", service)
	}
	if err := c.Autostart(ctx); err != nil {
		return false, errors.Wrap(err, "autostart")
	}
	return true, nil
}

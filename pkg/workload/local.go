package workload

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/renameio"
	"go.uber.org/zap"
)

type process struct {
	cmd  *exec.Cmd
	done chan struct{}
}

type labeledLayer struct {
	label string
	layer Layer
}

// Local supervises services as child processes and maps workload paths under
// a root directory.
type Local struct {
	root        string
	stopTimeout time.Duration
	lg          *zap.Logger

	mu     sync.Mutex
	layers []labeledLayer
	procs  map[string]*process
}

func NewLocal(root string, lg *zap.Logger) *Local {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Local{
		root:        root,
		stopTimeout: 10 * time.Second,
		lg:          lg,
		procs:       make(map[string]*process),
	}
}

func (l *Local) hostPath(p string) string {
	return filepath.Join(l.root, filepath.FromSlash(p))
}

// Push replaces the file at p atomically.
func (l *Local) Push(_ context.Context, p string, data []byte) error {
	dst := l.hostPath(p)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errors.Wrapf(err, "create parent of %s", p)
	}
	if err := renameio.WriteFile(dst, data, 0o644); err != nil {
		return errors.Wrapf(err, "write %s", p)
	}
	return nil
}

func (l *Local) Pull(_ context.Context, p string) ([]byte, error) {
	data, err := os.ReadFile(l.hostPath(p))
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", p)
	}
	return data, nil
}

func (l *Local) Plan(context.Context) (Plan, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.planLocked(), nil
}

func (l *Local) planLocked() Plan {
	plan := Plan{Services: make(map[string]Service)}
	for _, ll := range l.layers {
		for name, svc := range ll.layer.Services {
			old, ok := plan.Services[name]
			if !ok || svc.Override == "replace" {
				plan.Services[name] = svc
				continue
			}
			// merge: only set fields override
			if svc.Summary != "" {
				old.Summary = svc.Summary
			}
			if svc.Command != "" {
				old.Command = svc.Command
			}
			if svc.Startup != "" {
				old.Startup = svc.Startup
			}
			plan.Services[name] = old
		}
	}
	return plan
}

// AddLayer appends a layer, or replaces the layer with the same label when
// combine is set.
func (l *Local) AddLayer(_ context.Context, label string, layer Layer, combine bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, ll := range l.layers {
		if ll.label != label {
			continue
		}
		if !combine {
			return errors.Newf("layer %q already exists", label)
		}
		l.layers[i].layer = layer
		return nil
	}
	l.layers = append(l.layers, labeledLayer{label: label, layer: layer})
	return nil
}

func (l *Local) Autostart(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for name, svc := range l.planLocked().Services {
		if svc.Startup != "enabled" || l.runningLocked(name) {
			continue
		}
		if err := l.startLocked(name, svc); err != nil {
			return err
		}
	}
	return nil
}

func (l *Local) Stop(_ context.Context, services ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, name := range services {
		p, ok := l.procs[name]
		if !ok {
			continue
		}
		delete(l.procs, name)
		_ = p.cmd.Process.Signal(syscall.SIGTERM)
		select {
		case <-p.done:
		case <-time.After(l.stopTimeout):
			l.lg.Warn("service did not stop in time, killing", zap.String("service", name))
			_ = p.cmd.Process.Kill()
			<-p.done
		}
		l.lg.Info("stopped service", zap.String("service", name))
	}
	return nil
}

// Running reports whether service has a live process.
func (l *Local) Running(service string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.runningLocked(service)
}

func (l *Local) runningLocked(name string) bool {
	p, ok := l.procs[name]
	if !ok {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (l *Local) startLocked(name string, svc Service) error {
	cmd := exec.Command("/bin/sh", "-c", svc.Command)
	cmd.Dir = l.root
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return errors.Wrapf(err, "start %s", name)
	}
	p := &process{cmd: cmd, done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		l.lg.Info("service exited", zap.String("service", name), zap.Error(err))
		close(p.done)
	}()
	l.procs[name] = p
	l.lg.Info("started service", zap.String("service", name), zap.Int("pid", cmd.Process.Pid))
	return nil
}

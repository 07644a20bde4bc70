package node

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zkensemble/pkg/zkconfig"
	"github.com/ryandielhenn/zkensemble/pkg/zkdiag"
)

// Healthz returns 200 OK to indicate the Node is alive.
func (n *Node) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Info writes the controller status as JSON.
func (n *Node) Info(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, n.Status())
}

// Config returns the zoo.cfg currently in the workload as a JSON object.
func (n *Node) Config(w http.ResponseWriter, r *http.Request) {
	data, err := n.cfg.Container.Pull(r.Context(), zkconfig.ConfigPath)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	p, err := zkconfig.Parse(data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, p.Map())
}

// DumpData returns ZooKeeper's whole key tree.
func (n *Node) DumpData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	conn, ok := n.dial(w)
	if !ok {
		return
	}
	defer conn.Close()

	content, err := zkdiag.Dump(conn, "/")
	if err != nil {
		n.lg.Warn("dump-data failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"content": content})
}

// SeedData writes the test keys.
func (n *Node) SeedData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	conn, ok := n.dial(w)
	if !ok {
		return
	}
	defer conn.Close()

	written, err := zkdiag.Seed(conn)
	if err != nil {
		n.lg.Warn("seed-data failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"written": written})
}

func (n *Node) dial(w http.ResponseWriter) (zkdiag.Conn, bool) {
	if n.cfg.ZK == nil {
		http.Error(w, "no zookeeper dialer configured", http.StatusServiceUnavailable)
		return nil, false
	}
	conn, err := n.cfg.ZK()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return nil, false
	}
	return conn, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(data)
}

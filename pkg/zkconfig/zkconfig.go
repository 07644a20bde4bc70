// Package zkconfig renders the ZooKeeper configuration artifacts: zoo.cfg and
// the myid identity file. Rendering is pure; callers do the writing.
package zkconfig

import (
	"path"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/flosch/pongo2"
	"github.com/magiconair/properties"

	"github.com/ryandielhenn/zkensemble/pkg/membership"
)

// ConfigPath is where zoo.cfg lives inside the workload.
const ConfigPath = "/conf/zoo.cfg"

// Tunables are the fixed operational parameters written to zoo.cfg.
type Tunables struct {
	ClientPort      int
	ServerPort      int
	ElectionPort    int
	DataDir         string
	DataLogDir      string
	TickTime        int
	InitLimit       int
	SyncLimit       int
	SnapRetainCount int
	PurgeInterval   int
	MaxClientCnxns  int
}

func DefaultTunables() Tunables {
	return Tunables{
		ClientPort:      2181,
		ServerPort:      2888,
		ElectionPort:    3888,
		DataDir:         "/data",
		DataLogDir:      "/datalog",
		TickTime:        2000,
		InitLimit:       5,
		SyncLimit:       2,
		SnapRetainCount: 3,
		PurgeInterval:   0,
		MaxClientCnxns:  60,
	}
}

// Validate checks the ports are usable and distinct and the directories are
// absolute.
func (t Tunables) Validate() error {
	ports := map[string]int{
		"client-port":          t.ClientPort,
		"server-port":          t.ServerPort,
		"leader-election-port": t.ElectionPort,
	}
	seen := make(map[int]string, len(ports))
	for name, p := range ports {
		if p < 1 || p > 65535 {
			return errors.Newf("%s %d out of range", name, p)
		}
		if other, ok := seen[p]; ok {
			return errors.Newf("%s and %s share port %d", name, other, p)
		}
		seen[p] = name
	}
	if !path.IsAbs(t.DataDir) || !path.IsAbs(t.DataLogDir) {
		return errors.Newf("data directories must be absolute, got %q and %q", t.DataDir, t.DataLogDir)
	}
	return nil
}

// MyIDPath is where the identity file lives inside the workload.
func (t Tunables) MyIDPath() string {
	return path.Join(t.DataDir, "myid")
}

// Artifacts is one rendered configuration.
type Artifacts struct {
	Config []byte
	MyID   []byte
}

var zooCfg = pongo2.Must(pongo2.FromString(`{% autoescape off %}# Generated by zkensemble
dataDir={{ t.DataDir }}
clientPort={{ t.ClientPort }}
dataLogDir={{ t.DataLogDir }}
tickTime={{ t.TickTime }}
initLimit={{ t.InitLimit }}
syncLimit={{ t.SyncLimit }}
autopurge.snapRetainCount={{ t.SnapRetainCount }}
autopurge.purgeInterval={{ t.PurgeInterval }}
maxClientCnxns={{ t.MaxClientCnxns }}
{% if standalone %}standaloneEnabled=true
{% endif %}admin.enableServer=true
{% for s in servers %}server.{{ s.ID }}={{ s.Address }}:{{ t.ServerPort }}:{{ t.ElectionPort }}
{% endfor %}{% endautoescape %}`))

// Render produces the clustered configuration for m.
func Render(m membership.Membership, t Tunables) (Artifacts, error) {
	if m.Self == 0 || len(m.Servers) == 0 {
		return Artifacts{}, errors.AssertionFailedf("rendering an unresolved membership")
	}
	return render(m.Servers, m.Self, t, false)
}

// RenderStandalone produces the single-server configuration used when the
// ensemble is not clustered. The only server is localhost with ID 1.
func RenderStandalone(t Tunables) Artifacts {
	a, err := render([]membership.Server{{ID: 1, Address: "localhost"}}, 1, t, true)
	if err != nil {
		// the template is static and every input is a plain value
		panic(err)
	}
	return a
}

func render(servers []membership.Server, self int, t Tunables, standalone bool) (Artifacts, error) {
	out, err := zooCfg.Execute(pongo2.Context{
		"t":          t,
		"servers":    servers,
		"standalone": standalone,
	})
	if err != nil {
		return Artifacts{}, errors.Wrap(err, "render zoo.cfg")
	}
	return Artifacts{
		Config: []byte(out),
		MyID:   []byte(strconv.Itoa(self) + "\n"),
	}, nil
}

// Parse reads a rendered zoo.cfg back.
func Parse(data []byte) (*properties.Properties, error) {
	p, err := properties.Load(data, properties.UTF8)
	if err != nil {
		return nil, errors.Wrap(err, "parse zoo.cfg")
	}
	return p, nil
}

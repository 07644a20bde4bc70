package main

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ryandielhenn/zkensemble/pkg/node"
	"github.com/ryandielhenn/zkensemble/pkg/zkconfig"
)

const (
	// EnvPrefix is the prefix of environment variables overriding flags.
	EnvPrefix = "ZKENSEMBLE"

	ParamVerbose             = "verbose"
	ParamJSON                = "json"
	ParamConfigPath          = "config-path"
	ParamVersion             = "version"
	ParamUnitName            = "unit-name"
	ParamAppName             = "app-name"
	ParamAdvertiseAddress    = "advertise-address"
	ParamAdvertiseInterface  = "advertise-interface"
	ParamEtcdEndpoints       = "etcd-endpoints"
	ParamEtcdPrefix          = "etcd-prefix"
	ParamEtcdDialTimeout     = "etcd-dial-timeout"
	ParamElectionTTL         = "election-ttl"
	ParamClientPort          = "client-port"
	ParamServerPort          = "server-port"
	ParamLeaderElectionPort  = "leader-election-port"
	ParamWorkloadRoot        = "workload-root"
	ParamWorkloadCommand     = "workload-command"
	ParamStandalone          = "standalone"
	ParamListenAddress       = "listen-address"
	ParamRelationName        = "relation-name"
	ParamRestartOnChangeOnly = "restart-on-change-only"
)

func addFlags(fs *pflag.FlagSet) {
	def := zkconfig.DefaultTunables()
	host, _ := os.Hostname()

	fs.Bool(ParamVerbose, false, "Verbose")
	fs.Bool(ParamJSON, false, "Log in JSON format")
	fs.String(ParamConfigPath, "", "Path to the configuration file; changes to it reconfigure the ensemble")
	fs.String(ParamUnitName, host, "Stable identity of this unit on the peer channel")
	fs.String(ParamAppName, "zookeeper", "Application name the client endpoints are published under")
	fs.String(ParamAdvertiseAddress, "", "Address peers reach this unit on")
	fs.String(ParamAdvertiseInterface, "eth0", "Interface to take the address from when no advertise address is set")
	fs.StringSlice(ParamEtcdEndpoints, []string{"http://etcd:2379"}, "etcd endpoints")
	fs.String(ParamEtcdPrefix, "/zkensemble", "etcd key prefix")
	fs.Duration(ParamEtcdDialTimeout, 5*time.Second, "etcd dial timeout")
	fs.Int(ParamElectionTTL, 10, "Leader election session TTL in seconds")
	fs.Int(ParamClientPort, def.ClientPort, "ZooKeeper client port")
	fs.Int(ParamServerPort, def.ServerPort, "ZooKeeper peer port")
	fs.Int(ParamLeaderElectionPort, def.ElectionPort, "ZooKeeper leader election port")
	fs.String(ParamWorkloadRoot, "/", "Root of the workload filesystem")
	fs.String(ParamWorkloadCommand, node.DefaultCommand, "Command starting ZooKeeper in the foreground")
	fs.Bool(ParamStandalone, false, "Run a single, non clustered server")
	fs.String(ParamListenAddress, ":8080", "Address of the status and actions HTTP server")
	fs.String(ParamRelationName, "zookeeper", "Name of the client relation")
	fs.Bool(ParamRestartOnChangeOnly, false, "Only restart ZooKeeper when the rendered configuration changed")
}

func setupConfiguration(args []string) (*viper.Viper, bool, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.SetEnvPrefix(EnvPrefix)
	v.SetTypeByDefaultValue(true)
	v.AutomaticEnv()

	var version bool

	cmd := pflag.NewFlagSet("zkensemble", pflag.ContinueOnError)
	cmd.BoolVar(&version, ParamVersion, false, "Print the version and exit")
	addFlags(cmd)

	cmd.VisitAll(func(flag *pflag.Flag) {
		if err := v.BindPFlag(flag.Name, flag); err != nil {
			panic(err) // Should never happen
		}
	})

	if err := cmd.Parse(args); err != nil {
		return nil, false, err
	}

	configPath := v.GetString(ParamConfigPath)
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, false, err
		}
	}

	return v, version, nil
}

func tunablesFromViper(v *viper.Viper) zkconfig.Tunables {
	t := zkconfig.DefaultTunables()
	t.ClientPort = v.GetInt(ParamClientPort)
	t.ServerPort = v.GetInt(ParamServerPort)
	t.ElectionPort = v.GetInt(ParamLeaderElectionPort)
	return t
}

func bindingFromViper(v *viper.Viper) node.Binding {
	if addr := v.GetString(ParamAdvertiseAddress); addr != "" {
		return node.StaticBinding(addr)
	}
	return node.InterfaceBinding(v.GetString(ParamAdvertiseInterface))
}

func newLogger(v *viper.Viper) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if !v.GetBool(ParamJSON) {
		cfg = zap.NewDevelopmentConfig()
		cfg.Development = false
	}
	if v.GetBool(ParamVerbose) {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	return cfg.Build()
}

package main

import (
	"fmt"
	"os"
	"path"
	"time"

	"github.com/spf13/cobra"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/ryandielhenn/zkensemble/discovery"
	"github.com/ryandielhenn/zkensemble/pkg/kv"
	"github.com/ryandielhenn/zkensemble/pkg/relation"
)

type cmdGlobal struct {
	flagNode     string
	flagTimeout  time.Duration
	flagEtcd     []string
	flagPrefix   string
	flagApp      string
	flagRelation string
}

func main() {
	app := newRoot()
	if err := app.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

func newRoot() *cobra.Command {
	globalCmd := cmdGlobal{}

	app := &cobra.Command{}
	app.Use = "zkctl"
	app.Short = "Inspect and operate a zkensemble deployment"
	app.SilenceUsage = true
	app.SilenceErrors = true

	app.PersistentFlags().StringVar(&globalCmd.flagNode, "node", "http://localhost:8080", "Address of a zkensemble node")
	app.PersistentFlags().DurationVar(&globalCmd.flagTimeout, "timeout", 30*time.Second, "Request timeout")
	app.PersistentFlags().StringSliceVar(&globalCmd.flagEtcd, "etcd-endpoints", []string{"http://localhost:2379"}, "etcd endpoints")
	app.PersistentFlags().StringVar(&globalCmd.flagPrefix, "etcd-prefix", "/zkensemble", "etcd key prefix")
	app.PersistentFlags().StringVar(&globalCmd.flagApp, "app-name", "zookeeper", "Application name of the ensemble")
	app.PersistentFlags().StringVar(&globalCmd.flagRelation, "relation-name", "zookeeper", "Name of the client relation")

	statusCmd := cmdStatus{global: &globalCmd}
	app.AddCommand(statusCmd.Command())

	dumpCmd := cmdDump{global: &globalCmd}
	app.AddCommand(dumpCmd.Command())

	seedCmd := cmdSeed{global: &globalCmd}
	app.AddCommand(seedCmd.Command())

	relateCmd := cmdRelate{global: &globalCmd}
	app.AddCommand(relateCmd.Command())

	endpointsCmd := cmdEndpoints{global: &globalCmd}
	app.AddCommand(endpointsCmd.Command())

	return app
}

// publisher connects to etcd and returns the client relation of the ensemble.
// The caller closes the returned client.
func (g *cmdGlobal) publisher() (*relation.Publisher, *clientv3.Client, error) {
	cli, err := discovery.NewClient(g.flagEtcd, g.flagTimeout, zap.NewNop())
	if err != nil {
		return nil, nil, err
	}
	prefix := path.Join(g.flagPrefix, g.flagApp)
	return relation.NewPublisher(kv.NewEtcd(cli, zap.NewNop()), prefix, g.flagRelation, g.flagApp, zap.NewNop()), cli, nil
}

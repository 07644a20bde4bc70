// Package discovery connects to the etcd cluster that carries the peer and
// client channels and the leader election.
package discovery

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

func NewClient(endpoints []string, dialTimeout time.Duration, lg *zap.Logger) (*clientv3.Client, error) {
	if len(endpoints) == 0 {
		return nil, errors.New("no etcd endpoints configured")
	}
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
		Logger:      lg.Named("etcd"),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "connect to etcd %v", endpoints)
	}
	return cli, nil
}

// WaitReady blocks until one endpoint answers a status request.
func WaitReady(ctx context.Context, cli *clientv3.Client) error {
	var last error
	for _, ep := range cli.Endpoints() {
		if _, err := cli.Status(ctx, ep); err != nil {
			last = err
			continue
		}
		return nil
	}
	return errors.Wrap(last, "no etcd endpoint is reachable")
}

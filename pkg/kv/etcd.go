package kv

import (
	"bytes"
	"context"

	"github.com/cockroachdb/errors"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// Etcd is a Bag stored in an etcd cluster.
type Etcd struct {
	cli *clientv3.Client
	lg  *zap.Logger
}

func NewEtcd(cli *clientv3.Client, lg *zap.Logger) *Etcd {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Etcd{cli: cli, lg: lg}
}

func (e *Etcd) Put(ctx context.Context, key, value string) error {
	if _, err := e.cli.Put(ctx, key, value); err != nil {
		return errors.Wrapf(err, "put %s", key)
	}
	return nil
}

func (e *Etcd) Get(ctx context.Context, key string) (string, bool, error) {
	resp, err := e.cli.Get(ctx, key)
	if err != nil {
		return "", false, errors.Wrapf(err, "get %s", key)
	}
	if len(resp.Kvs) == 0 {
		return "", false, nil
	}
	return string(resp.Kvs[0].Value), true, nil
}

func (e *Etcd) Delete(ctx context.Context, key string) error {
	if _, err := e.cli.Delete(ctx, key); err != nil {
		return errors.Wrapf(err, "delete %s", key)
	}
	return nil
}

func (e *Etcd) List(ctx context.Context, prefix string) (map[string]string, error) {
	resp, err := e.cli.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, errors.Wrapf(err, "list %s", prefix)
	}
	out := make(map[string]string, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		out[string(kv.Key)] = string(kv.Value)
	}
	return out, nil
}

func (e *Etcd) Watch(ctx context.Context, prefix string) <-chan struct{} {
	out := make(chan struct{}, 1)
	wch := e.cli.Watch(ctx, prefix, clientv3.WithPrefix(), clientv3.WithPrevKV())

	go func() {
		defer close(out)
		for resp := range wch {
			if err := resp.Err(); err != nil {
				e.lg.Warn("watch failed", zap.String("prefix", prefix), zap.Error(err))
				continue
			}
			changed := false
			for _, ev := range resp.Events {
				if changedEvent(ev) {
					changed = true
					break
				}
			}
			if !changed {
				continue
			}
			select {
			case out <- struct{}{}:
			default:
			}
		}
	}()
	return out
}

// changedEvent reports whether ev altered the stored value. Re-announcing the
// same address must not wake up watchers or passes would feed themselves.
func changedEvent(ev *clientv3.Event) bool {
	if ev.Type == mvccpb.DELETE {
		return true
	}
	if ev.PrevKv == nil {
		return true
	}
	return !bytes.Equal(ev.PrevKv.Value, ev.Kv.Value)
}

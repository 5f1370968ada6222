package checkpoint

import (
	"context"
	"fmt"
	"path"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

type EtcdConfig struct {
	Endpoints   []string
	Username    string // optional
	Password    string // optional
	DialTimeout time.Duration
	Prefix      string // default: "/docslurp"
}

// EtcdStore keeps the checkpoint under {prefix}/{namespace}/checkpoint.
// A single Put is atomic, so the stored value is never torn.
type EtcdStore struct {
	client *clientv3.Client
	key    string
	owned  bool
}

func NewEtcdStore(cfg EtcdConfig, namespace string, logger *zap.Logger) (*EtcdStore, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		Username:    cfg.Username,
		Password:    cfg.Password,
		DialTimeout: cfg.DialTimeout,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: etcd connect: %w", ErrUnavailable, err)
	}
	s := NewEtcdStoreFromClient(cli, cfg.Prefix, namespace)
	s.owned = true
	return s, nil
}

// NewEtcdStoreFromClient wraps an existing client; Close leaves it open.
func NewEtcdStoreFromClient(cli *clientv3.Client, prefix, namespace string) *EtcdStore {
	if prefix == "" {
		prefix = "/docslurp"
	}
	return &EtcdStore{client: cli, key: path.Join(prefix, namespace, "checkpoint")}
}

func (e *EtcdStore) Key() string { return e.key }

func (e *EtcdStore) Load(ctx context.Context) (Checkpoint, error) {
	resp, err := e.client.Get(ctx, e.key)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("%w: etcd get %s: %w", ErrUnavailable, e.key, err)
	}
	if len(resp.Kvs) == 0 {
		return Checkpoint{}, nil
	}
	cp, err := Unmarshal(resp.Kvs[0].Value)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return cp, nil
}

func (e *EtcdStore) Save(ctx context.Context, cp Checkpoint) error {
	body, err := Marshal(cp)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if _, err := e.client.Put(ctx, e.key, string(body)); err != nil {
		return fmt.Errorf("%w: etcd put %s: %w", ErrUnavailable, e.key, err)
	}
	return nil
}

func (e *EtcdStore) Close() error {
	if !e.owned {
		return nil
	}
	return e.client.Close()
}

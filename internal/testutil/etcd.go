package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/server/v3/embed"
)

// StartEtcd starts an embedded etcd server for the test and returns a client
// and a key prefix unique to it. Both are torn down with the test.
func StartEtcd(t *testing.T) (*clientv3.Client, string) {
	t.Helper()
	cfg := embed.NewConfig()
	cfg.Dir = t.TempDir()
	cfg.Logger = "zap"
	cfg.LogLevel = "error"
	e, err := embed.StartEtcd(cfg)
	require.NoError(t, err)

	select {
	case <-e.Server.ReadyNotify():
	case <-time.After(10 * time.Second):
		e.Close()
		t.Fatal("etcd server did not become ready in time")
	}

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   []string{e.Clients[0].Addr().String()},
		DialTimeout: 2 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = cli.Close()
		e.Close()
	})
	return cli, "/docslurp_test_" + RandString(5)
}

// EtcdEndpoint returns the client URL of a freshly started embedded server.
func EtcdEndpoint(t *testing.T) string {
	t.Helper()
	cli, _ := StartEtcd(t)
	return cli.Endpoints()[0]
}

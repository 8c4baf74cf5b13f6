package repository

import (
	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdClient is the part of *clientv3.Client the repository depends on
type EtcdClient interface {
	clientv3.KV
	clientv3.Watcher
}

var _ EtcdClient = (*clientv3.Client)(nil)

package repository

import (
	"context"

	"github.com/pkg/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/tsamsiyu/themelio/internal/repository/types"
)

// ClientWrapper provides revision-aware primitives over etcd. Every write is a single transaction
// comparing revisions, so concurrent writers are serialized by the store.
type ClientWrapper interface {
	Get(ctx context.Context, key string) (*types.KeyValue, error)
	List(ctx context.Context, prefix string) (*types.Batch, error)

	// Create fails with AlreadyExistsError when the key is present
	Create(ctx context.Context, key string, value []byte) (int64, error)
	// Update requires the key to exist. A non-zero expectedRevision must equal its mod revision.
	Update(ctx context.Context, key string, value []byte, expectedRevision int64) (int64, error)
	// Delete returns the removed value and the revision of the deletion
	Delete(ctx context.Context, key string, expectedRevision int64) (*types.KeyValue, int64, error)

	// Watch streams changes under prefix starting at fromRevision, or now when it is zero.
	// Previous values are included.
	Watch(ctx context.Context, prefix string, fromRevision int64) clientv3.WatchChan
	RequestProgress(ctx context.Context) error
}

type clientWrapper struct {
	logger *zap.Logger
	client EtcdClient
}

func NewClientWrapper(logger *zap.Logger, client *clientv3.Client) ClientWrapper {
	return &clientWrapper{
		logger: logger,
		client: client,
	}
}

func (c *clientWrapper) Get(ctx context.Context, key string) (*types.KeyValue, error) {
	resp, err := c.client.Get(ctx, key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get from etcd")
	}

	if len(resp.Kvs) == 0 {
		return nil, NewNotFoundError(key)
	}

	kv := toKeyValue(resp.Kvs[0].Key, resp.Kvs[0].Value, resp.Kvs[0].CreateRevision, resp.Kvs[0].ModRevision)
	return &kv, nil
}

func (c *clientWrapper) List(ctx context.Context, prefix string) (*types.Batch, error) {
	resp, err := c.client.Get(ctx, prefix, clientv3.WithPrefix(), clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list from etcd")
	}

	batch := &types.Batch{Revision: resp.Header.Revision}
	for _, kv := range resp.Kvs {
		batch.KVs = append(batch.KVs, toKeyValue(kv.Key, kv.Value, kv.CreateRevision, kv.ModRevision))
	}

	return batch, nil
}

func (c *clientWrapper) Create(ctx context.Context, key string, value []byte) (int64, error) {
	resp, err := c.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, string(value))).
		Commit()
	if err != nil {
		return 0, errors.Wrap(err, "failed to execute create transaction")
	}

	if !resp.Succeeded {
		return 0, NewAlreadyExistsError(key)
	}

	return resp.Header.Revision, nil
}

func (c *clientWrapper) Update(ctx context.Context, key string, value []byte, expectedRevision int64) (int64, error) {
	resp, err := c.client.Txn(ctx).
		If(revisionCompare(key, expectedRevision)).
		Then(clientv3.OpPut(key, string(value))).
		Else(clientv3.OpGet(key)).
		Commit()
	if err != nil {
		return 0, errors.Wrap(err, "failed to execute update transaction")
	}

	if !resp.Succeeded {
		return 0, failedCompareError(key, expectedRevision, resp)
	}

	return resp.Header.Revision, nil
}

func (c *clientWrapper) Delete(ctx context.Context, key string, expectedRevision int64) (*types.KeyValue, int64, error) {
	resp, err := c.client.Txn(ctx).
		If(revisionCompare(key, expectedRevision)).
		Then(clientv3.OpDelete(key, clientv3.WithPrevKV())).
		Else(clientv3.OpGet(key)).
		Commit()
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to execute delete transaction")
	}

	if !resp.Succeeded {
		return nil, 0, failedCompareError(key, expectedRevision, resp)
	}

	deleted := resp.Responses[0].GetResponseDeleteRange()
	if deleted == nil || len(deleted.PrevKvs) == 0 {
		return nil, 0, NewNotFoundError(key)
	}

	prev := deleted.PrevKvs[0]
	kv := toKeyValue(prev.Key, prev.Value, prev.CreateRevision, prev.ModRevision)
	return &kv, resp.Header.Revision, nil
}

func (c *clientWrapper) Watch(ctx context.Context, prefix string, fromRevision int64) clientv3.WatchChan {
	opts := []clientv3.OpOption{
		clientv3.WithPrefix(),
		clientv3.WithPrevKV(),
		clientv3.WithProgressNotify(),
	}
	if fromRevision > 0 {
		opts = append(opts, clientv3.WithRev(fromRevision))
	}

	c.logger.Debug("Opening etcd watch",
		zap.String("prefix", prefix),
		zap.Int64("fromRevision", fromRevision))

	return c.client.Watch(clientv3.WithRequireLeader(ctx), prefix, opts...)
}

func (c *clientWrapper) RequestProgress(ctx context.Context) error {
	if err := c.client.RequestProgress(ctx); err != nil {
		return errors.Wrap(err, "failed to request watch progress")
	}
	return nil
}

func revisionCompare(key string, expectedRevision int64) clientv3.Cmp {
	if expectedRevision == 0 {
		return clientv3.Compare(clientv3.CreateRevision(key), ">", 0)
	}
	return clientv3.Compare(clientv3.ModRevision(key), "=", expectedRevision)
}

func failedCompareError(key string, expectedRevision int64, resp *clientv3.TxnResponse) error {
	if len(resp.Responses) == 0 {
		return NewNotFoundError(key)
	}
	current := resp.Responses[0].GetResponseRange()
	if current == nil || len(current.Kvs) == 0 {
		return NewNotFoundError(key)
	}
	return NewConflictError(key, expectedRevision, current.Kvs[0].ModRevision)
}

func toKeyValue(key, value []byte, createRevision, modRevision int64) types.KeyValue {
	return types.KeyValue{
		Key:            string(key),
		Value:          value,
		CreateRevision: createRevision,
		ModRevision:    modRevision,
	}
}

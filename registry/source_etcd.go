package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/acgov/go-mesh/logger"
	"github.com/acgov/go-mesh/mesh"
)

// keyPrefix is where mesh instances live in etcd. Key layout:
// /mesh/services/{serviceType}/{instanceID}, value is an
// InstanceDescriptor in JSON.
const keyPrefix = "/mesh/services/"

// EtcdConfig configures the etcd-backed source.
type EtcdConfig struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
}

func (c *EtcdConfig) applyDefaults() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
}

// EtcdSource keeps the target in sync with the instance records held in
// etcd: puts become registrations, deletes become removals.
type EtcdSource struct {
	client *clientv3.Client
	log    *logger.CtxZapLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// NewEtcdSource dials etcd. The caller owns the returned source and must
// Stop it to release the connection.
func NewEtcdSource(cfg EtcdConfig, log *logger.CtxZapLogger) (*EtcdSource, error) {
	cfg.applyDefaults()
	if len(cfg.Endpoints) == 0 {
		return nil, errors.New("etcd source: no endpoints configured")
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		Username:    cfg.Username,
		Password:    cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("etcd source: connect: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &EtcdSource{
		client: client,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

func (s *EtcdSource) Name() string {
	return "etcd"
}

// Load registers the instances currently in etcd and starts the watch.
// The watch revision picks up immediately after the initial snapshot so
// no event is lost between the two.
func (s *EtcdSource) Load(ctx context.Context, target Target) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("etcd source: already started")
	}
	s.started = true
	s.mu.Unlock()

	resp, err := s.client.Get(ctx, keyPrefix, clientv3.WithPrefix())
	if err != nil {
		return fmt.Errorf("etcd source: initial load: %w", err)
	}

	for _, kv := range resp.Kvs {
		inst, err := parseInstance(string(kv.Key), kv.Value)
		if err != nil {
			s.log.WarnCtx(ctx, "skipping malformed instance record",
				zap.String("key", string(kv.Key)),
				zap.Error(err))
			continue
		}
		if err := target.AddServiceInstance(inst); err != nil && !errors.Is(err, mesh.ErrDuplicateInstance) {
			return fmt.Errorf("etcd source: register %s/%s: %w", inst.ServiceType, inst.InstanceID, err)
		}
	}

	s.log.InfoCtx(ctx, "loaded instances from etcd",
		zap.Int("instances", len(resp.Kvs)))

	s.wg.Add(1)
	go s.watchChanges(target, resp.Header.Revision+1)
	return nil
}

// Stop cancels the watch and closes the client.
func (s *EtcdSource) Stop() error {
	s.cancel()
	s.wg.Wait()
	return s.client.Close()
}

func (s *EtcdSource) watchChanges(target Target, fromRev int64) {
	defer s.wg.Done()

	watchChan := s.client.Watch(s.ctx, keyPrefix,
		clientv3.WithPrefix(), clientv3.WithRev(fromRev))

	s.log.Debug("watching etcd for instance changes",
		zap.String("prefix", keyPrefix))

	for {
		select {
		case <-s.ctx.Done():
			s.log.Debug("etcd watch stopped")
			return

		case watchResp, ok := <-watchChan:
			if !ok {
				s.log.Error("etcd watch channel closed")
				return
			}
			if watchResp.Err() != nil {
				s.log.Error("etcd watch error", zap.Error(watchResp.Err()))
				continue
			}
			s.handleWatchEvents(target, watchResp.Events)
		}
	}
}

func (s *EtcdSource) handleWatchEvents(target Target, events []*clientv3.Event) {
	for _, event := range events {
		key := string(event.Kv.Key)

		switch event.Type {
		case clientv3.EventTypePut:
			inst, err := parseInstance(key, event.Kv.Value)
			if err != nil {
				s.log.WarnCtx(s.ctx, "skipping malformed instance record",
					zap.String("key", key),
					zap.Error(err))
				continue
			}
			// A refreshed record replaces the previous registration so
			// weight and priority changes take effect.
			if err := target.AddServiceInstance(inst); errors.Is(err, mesh.ErrDuplicateInstance) {
				if err := target.RemoveServiceInstance(inst.ServiceType, inst.InstanceID); err != nil {
					s.log.WarnCtx(s.ctx, "failed to replace instance",
						zap.String("instance", inst.InstanceID),
						zap.Error(err))
					continue
				}
				err = target.AddServiceInstance(inst)
				if err != nil {
					s.log.WarnCtx(s.ctx, "failed to re-register instance",
						zap.String("instance", inst.InstanceID),
						zap.Error(err))
					continue
				}
				s.log.InfoCtx(s.ctx, "instance record refreshed",
					zap.String("service", inst.ServiceType.String()),
					zap.String("instance", inst.InstanceID))
			} else if err != nil {
				s.log.WarnCtx(s.ctx, "failed to register instance",
					zap.String("instance", inst.InstanceID),
					zap.Error(err))
			} else {
				s.log.InfoCtx(s.ctx, "instance online",
					zap.String("service", inst.ServiceType.String()),
					zap.String("instance", inst.InstanceID),
					zap.String("address", inst.URL()))
			}

		case clientv3.EventTypeDelete:
			serviceType, instanceID, err := splitInstanceKey(key)
			if err != nil {
				s.log.WarnCtx(s.ctx, "skipping malformed instance key",
					zap.String("key", key),
					zap.Error(err))
				continue
			}
			if err := target.RemoveServiceInstance(serviceType, instanceID); err != nil {
				if !errors.Is(err, mesh.ErrInstanceNotFound) {
					s.log.WarnCtx(s.ctx, "failed to remove instance",
						zap.String("instance", instanceID),
						zap.Error(err))
				}
				continue
			}
			s.log.WarnCtx(s.ctx, "instance offline",
				zap.String("service", serviceType.String()),
				zap.String("instance", instanceID))
		}
	}
}

// parseInstance decodes one etcd record into a live instance.
func parseInstance(key string, value []byte) (*mesh.ServiceInstance, error) {
	serviceType, instanceID, err := splitInstanceKey(key)
	if err != nil {
		return nil, err
	}

	var d InstanceDescriptor
	if err := json.Unmarshal(value, &d); err != nil {
		return nil, fmt.Errorf("decode instance record: %w", err)
	}
	if d.BaseURL == "" {
		return nil, fmt.Errorf("instance record for %s has no base_url", instanceID)
	}
	d.InstanceID = instanceID
	return d.instance(serviceType), nil
}

// splitInstanceKey extracts the service type and instance ID from a key
// of the form /mesh/services/{serviceType}/{instanceID}.
func splitInstanceKey(key string) (mesh.ServiceType, string, error) {
	rest, ok := strings.CutPrefix(key, keyPrefix)
	if !ok {
		return "", "", fmt.Errorf("key %q outside instance prefix", key)
	}
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("key %q is not a service/instance pair", key)
	}
	serviceType, err := mesh.ParseServiceType(parts[0])
	if err != nil {
		return "", "", err
	}
	return serviceType, parts[1], nil
}

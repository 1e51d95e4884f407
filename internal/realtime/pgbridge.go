package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	// NotifyChannel is the Postgres channel carrying change events between
	// server instances.
	NotifyChannel        = "evitare_changes"
	minReconnectInterval = 10 * time.Second
	maxReconnectInterval = time.Minute
	listenerPingInterval = 90 * time.Second
	resyncTableWildcard  = "*"
)

var (
	errMissingBridgeDatabase = errors.New("realtime: database handle is required")
	errMissingBridgeDSN      = errors.New("realtime: postgres dsn is required")
	errMissingBridgeLocal    = errors.New("realtime: local dispatcher is required")
)

// PGBridgeConfig wires a Postgres LISTEN/NOTIFY bridge.
type PGBridgeConfig struct {
	Database *gorm.DB
	DSN      string
	Local    *Dispatcher
	Logger   *zap.Logger
}

// PGBridge publishes change events through pg_notify so every server
// instance sharing the database sees them, and forwards received
// notifications to the local dispatcher.
type PGBridge struct {
	db       *gorm.DB
	local    *Dispatcher
	listener *pq.Listener
	logger   *zap.Logger
}

func NewPGBridge(cfg PGBridgeConfig) (*PGBridge, error) {
	if cfg.Database == nil {
		return nil, errMissingBridgeDatabase
	}
	if cfg.DSN == "" {
		return nil, errMissingBridgeDSN
	}
	if cfg.Local == nil {
		return nil, errMissingBridgeLocal
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	listener := pq.NewListener(cfg.DSN, minReconnectInterval, maxReconnectInterval, func(event pq.ListenerEventType, err error) {
		if err != nil {
			logger.Warn("postgres listener event", zap.Int("event", int(event)), zap.Error(err))
		}
	})
	if err := listener.Listen(NotifyChannel); err != nil {
		_ = listener.Close()
		return nil, err
	}

	return &PGBridge{
		db:       cfg.Database,
		local:    cfg.Local,
		listener: listener,
		logger:   logger,
	}, nil
}

// Publish sends the event through Postgres. When the notify fails the event is
// still delivered locally so this instance's subscribers stay current.
func (b *PGBridge) Publish(event ChangeEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("realtime payload encode failed", zap.Error(err))
		b.local.Publish(event)
		return
	}
	if err := b.db.Exec("SELECT pg_notify(?, ?)", NotifyChannel, string(payload)).Error; err != nil {
		b.logger.Warn("pg_notify failed, delivering locally", zap.String("table", event.Table), zap.Error(err))
		b.local.Publish(event)
	}
}

// Run forwards notifications until ctx is cancelled.
func (b *PGBridge) Run(ctx context.Context) {
	defer func() {
		if err := b.listener.Close(); err != nil {
			b.logger.Warn("postgres listener close failed", zap.Error(err))
		}
	}()

	ticker := time.NewTicker(listenerPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case notification := <-b.listener.Notify:
			b.forward(notification)
		case <-ticker.C:
			go func() {
				if err := b.listener.Ping(); err != nil {
					b.logger.Warn("postgres listener ping failed", zap.Error(err))
				}
			}()
		}
	}
}

func (b *PGBridge) forward(notification *pq.Notification) {
	// A nil notification means the connection was re-established and events
	// may have been lost; tell every subscriber to reload.
	if notification == nil {
		b.local.broadcastResync()
		return
	}
	var event ChangeEvent
	if err := json.Unmarshal([]byte(notification.Extra), &event); err != nil {
		b.logger.Warn("realtime payload decode failed", zap.Error(err))
		return
	}
	b.local.Publish(event)
}

// broadcastResync delivers an UPDATE for the wildcard table to every
// subscriber regardless of its filter.
func (d *Dispatcher) broadcastResync() {
	event := ChangeEvent{Event: EventUpdate, Table: resyncTableWildcard, Timestamp: d.clock().UTC()}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, sub := range d.subscribers {
		select {
		case sub.stream <- event:
		default:
		}
	}
}

package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/mamamind47/sfa-queue/internal/models"
	"github.com/mamamind47/sfa-queue/internal/store"
)

// Notifier turns committed queue changes into frames on the hub. Each
// notification carries the deltas, enriched with one fresh waiting count,
// followed by a STATE snapshot. Notifications of one service are
// serialized, so the last STATE a subscriber sees is the newest.
type Notifier struct {
	hub          *Hub
	store        store.Store
	log          *slog.Logger
	now          func() time.Time
	stateTimeout time.Duration

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func NewNotifier(hub *Hub, st store.Store, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		hub:          hub,
		store:        st,
		log:          logger,
		now:          time.Now,
		stateTimeout: 5 * time.Second,
		locks:        make(map[int64]*sync.Mutex),
	}
}

func (n *Notifier) Notify(ctx context.Context, serviceID int64, deltas ...Event) {
	lock := n.serviceLock(serviceID)
	lock.Lock()
	defer lock.Unlock()

	if len(deltas) > 0 {
		waiting, err := n.countWaiting(ctx, serviceID)
		for _, delta := range deltas {
			if err == nil {
				delta = delta.WithWaiting(waiting)
			}
			n.publish(serviceID, delta)
		}
		if err != nil {
			n.log.Warn("waiting count failed, snapshot skipped", "service_id", serviceID, "error", err)
			return
		}
	}

	snapshot, err := n.snapshot(ctx, serviceID)
	if err != nil {
		n.log.Debug("snapshot failed", "service_id", serviceID, "error", err)
		return
	}
	n.publish(serviceID, State(snapshot))
}

// Attach registers a new subscriber of serviceID. HELLO is its first frame;
// a STATE for it alone follows asynchronously. Unknown services fail with
// store.ErrServiceNotFound.
func (n *Notifier) Attach(ctx context.Context, serviceID int64) (*Subscriber, error) {
	err := n.store.InTx(ctx, func(tx store.Tx) error {
		_, err := tx.GetService(ctx, serviceID)
		return err
	})
	if err != nil {
		return nil, err
	}

	sub := n.hub.NewSubscriber(serviceID)
	if hello, err := json.Marshal(Hello(n.now())); err == nil {
		sub.Send <- hello
	}
	n.hub.Register(sub)

	stateCtx := context.WithoutCancel(ctx)
	go n.sendState(stateCtx, sub)
	return sub, nil
}

func (n *Notifier) Detach(sub *Subscriber) {
	n.hub.Unregister(sub)
}

func (n *Notifier) sendState(ctx context.Context, sub *Subscriber) {
	ctx, cancel := context.WithTimeout(ctx, n.stateTimeout)
	defer cancel()

	lock := n.serviceLock(sub.ServiceID)
	lock.Lock()
	defer lock.Unlock()

	snapshot, err := n.snapshot(ctx, sub.ServiceID)
	if err != nil {
		n.log.Debug("initial snapshot failed", "service_id", sub.ServiceID, "error", err)
		return
	}
	payload, err := json.Marshal(State(snapshot))
	if err != nil {
		return
	}
	n.hub.SendTo(sub, payload)
}

func (n *Notifier) publish(serviceID int64, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		n.log.Error("encode live event", "type", ev.Type, "error", err)
		return
	}
	n.hub.Publish(serviceID, payload)
}

func (n *Notifier) countWaiting(ctx context.Context, serviceID int64) (int, error) {
	var waiting int
	err := n.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		waiting, err = tx.CountWaiting(ctx, serviceID)
		return err
	})
	return waiting, err
}

func (n *Notifier) snapshot(ctx context.Context, serviceID int64) (models.Snapshot, error) {
	var snapshot models.Snapshot
	err := n.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		snapshot, err = store.LoadSnapshot(ctx, tx, serviceID)
		return err
	})
	return snapshot, err
}

func (n *Notifier) serviceLock(serviceID int64) *sync.Mutex {
	n.mu.Lock()
	defer n.mu.Unlock()
	lock, ok := n.locks[serviceID]
	if !ok {
		lock = &sync.Mutex{}
		n.locks[serviceID] = lock
	}
	return lock
}

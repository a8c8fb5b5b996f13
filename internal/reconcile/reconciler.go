// Package reconcile repairs coordination state after abrupt socket loss.
// Gateways publish a disconnect event for every socket close; the
// reconciler is the single place that turns that into presence cleanup,
// room departures and stream teardown.
package reconcile

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/boyrevue/api.boyvue.com-sub001/internal/bus"
	"github.com/boyrevue/api.boyvue.com-sub001/internal/domain"
	"github.com/boyrevue/api.boyvue.com-sub001/internal/registry"
	"github.com/boyrevue/api.boyvue.com-sub001/internal/room"
	"github.com/boyrevue/api.boyvue.com-sub001/internal/stream"
	pkglog "github.com/boyrevue/api.boyvue.com-sub001/pkg/log"
)

// Reconciler consumes disconnect events and settles whatever state the
// lost socket left behind. Clearing the presence entry is the claim step:
// it is atomic in the registry, so when the same event reaches several
// processes only one of them runs the cleanup. A periodic sweep backs the
// event path up for processes that died without publishing anything.
type Reconciler struct {
	store         registry.Store
	bus           bus.Bus
	rooms         *room.Manager
	streams       *stream.Machine
	sweepInterval time.Duration

	mu   sync.Mutex
	sub  bus.Subscription
	done chan struct{}
}

// New creates a reconciler. Call Start to begin consuming. A
// non-positive sweep interval falls back to one minute.
func New(store registry.Store, b bus.Bus, rooms *room.Manager, streams *stream.Machine, sweepInterval time.Duration) *Reconciler {
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	return &Reconciler{store: store, bus: b, rooms: rooms, streams: streams, sweepInterval: sweepInterval}
}

// Start subscribes to the disconnect channel and launches the periodic
// sweep. It returns once the subscription is active.
func (r *Reconciler) Start(ctx context.Context) error {
	sub, err := r.bus.Subscribe(ctx, bus.ChannelDisconnects, r.handle)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.sub = sub
	r.done = make(chan struct{})
	go r.sweepLoop(r.done)
	r.mu.Unlock()
	pkglog.L().Info().Dur("sweep_interval", r.sweepInterval).
		Msg("disconnect reconciler started")
	return nil
}

// Stop tears down the subscription and the sweep. Events already being
// handled run to completion.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	sub := r.sub
	r.sub = nil
	if r.done != nil {
		close(r.done)
		r.done = nil
	}
	r.mu.Unlock()
	if sub != nil {
		sub.Unsubscribe()
	}
	pkglog.L().Info().Msg("disconnect reconciler stopped")
}

func (r *Reconciler) sweepLoop(done chan struct{}) {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := r.Sweep(context.Background()); err != nil {
				pkglog.L().Warn().Err(err).Msg("presence sweep failed")
			}
		}
	}
}

// Sweep settles identities whose presence expired without a disconnect
// event ever arriving, typically because the hosting process crashed.
// Any process may run it; per-identity cleanup goes through the same
// Leave and Stop paths as event-driven reconciliation, so a concurrent
// sweep on another process resolves at the registry like any other race.
func (r *Reconciler) Sweep(ctx context.Context) error {
	ids, err := r.store.TrackedIdentities(ctx)
	if err != nil {
		return err
	}

	swept := 0
	for _, identityID := range ids {
		online, err := r.store.IsOnline(ctx, identityID)
		if err != nil || online {
			continue
		}
		if err := r.sweepIdentity(ctx, identityID); err != nil {
			pkglog.L().Warn().Str(pkglog.FieldIdentityID, identityID).Err(err).
				Msg("failed to sweep identity")
			continue
		}
		swept++
	}

	// A performer can be live without being a room member, so ghost
	// sessions need their own pass.
	live, err := r.store.LiveStreams(ctx)
	if err != nil {
		return err
	}
	for _, performerID := range live {
		online, err := r.store.IsOnline(ctx, performerID)
		if err != nil || online {
			continue
		}
		if _, err := r.streams.Stop(ctx, performerID, stream.ReasonPresenceLost); err != nil {
			pkglog.L().Warn().Str(pkglog.FieldPerformerID, performerID).Err(err).
				Msg("failed to end ghost stream session")
		}
	}

	if swept > 0 {
		pkglog.L().Info().Int("identities", swept).Msg("presence sweep settled ghost state")
	}
	return nil
}

func (r *Reconciler) sweepIdentity(ctx context.Context, identityID string) error {
	rooms, err := r.store.RoomsForIdentity(ctx, identityID)
	if err != nil {
		return err
	}
	for _, roomID := range rooms {
		if _, err := r.rooms.Leave(ctx, roomID, domain.Identity{ID: identityID}); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) handle(ctx context.Context, e *bus.Event) {
	if e.Name != bus.EventDisconnected {
		return
	}
	var p bus.DisconnectedPayload
	if err := e.Decode(&p); err != nil {
		pkglog.L().Error().Err(err).Msg("malformed disconnect event")
		return
	}
	if err := r.Settle(ctx, p.Identity, p.ConnID); err != nil {
		pkglog.L().Error().Str(pkglog.FieldIdentityID, p.Identity.ID).
			Str(pkglog.FieldConnID, p.ConnID).Err(err).
			Msg("disconnect reconciliation failed")
	}
}

// Settle reconciles one socket loss. Duplicate deliveries and races with
// other processes resolve at the ClearPresence step: whoever removes the
// entry owns the rest of the cleanup.
func (r *Reconciler) Settle(ctx context.Context, id domain.Identity, connID string) error {
	entry, err := r.store.ClearPresence(ctx, id.ID, connID)
	if err != nil {
		return err
	}
	if entry == nil {
		pkglog.L().Debug().Str(pkglog.FieldIdentityID, id.ID).
			Str(pkglog.FieldConnID, connID).
			Msg("disconnect already reconciled")
		return nil
	}

	online, err := r.store.IsOnline(ctx, id.ID)
	if err != nil {
		return err
	}
	if online {
		// Another tab is still connected; membership stands.
		pkglog.L().Debug().Str(pkglog.FieldIdentityID, id.ID).
			Msg("identity still online elsewhere, keeping memberships")
		return nil
	}

	rooms, err := r.store.RoomsForIdentity(ctx, id.ID)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, roomID := range rooms {
		roomID := roomID
		g.Go(func() error {
			_, err := r.rooms.Leave(gctx, roomID, id)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// A performer vanishing takes the stream down immediately; viewers
	// see stream_ended rather than a frozen feed.
	if id.IsPerformer() {
		if _, err := r.streams.Stop(ctx, id.ID, stream.ReasonDisconnect); err != nil {
			return err
		}
	}

	pkglog.L().Info().Str(pkglog.FieldIdentityID, id.ID).
		Str(pkglog.FieldConnID, connID).Int("rooms_left", len(rooms)).
		Msg("disconnect reconciled")
	return nil
}

package daemon

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vpolkhovsky/chatx/internal/bus"
	"github.com/vpolkhovsky/chatx/internal/profile"
	"github.com/vpolkhovsky/chatx/internal/reconcile"
	"github.com/vpolkhovsky/chatx/internal/status"
)

// ProfilePreviews is the bus payload carrying one profile's ordered chat
// preview list.
type ProfilePreviews struct {
	ProfileID int64
	Previews  []reconcile.ChatPreview
}

// Runner drives per-profile reconciliation: a liveness sweep, an initial
// chat sync, then push subscriptions that keep each profile's preview list
// current. Updated lists are published on the bus for consumers.
type Runner struct {
	profiles *profile.Service
	chats    *reconcile.OnlineChats
	machine  *status.Machine
	bus      *bus.Bus
	logger   *zap.Logger
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewRunner(profiles *profile.Service, chats *reconcile.OnlineChats, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		profiles: profiles,
		chats:    chats,
		machine:  machine,
		bus:      b,
		logger:   logger.Named("runner"),
	}
}

// Start launches the reconciliation loop in the background.
func (r *Runner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(ctx)
	}()
}

// Stop cancels the loop and waits for all per-profile workers to exit.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Runner) run(ctx context.Context) {
	_ = r.machine.Transition(status.Connecting)

	active, err := r.profiles.ActiveProfiles(ctx)
	if err != nil {
		r.logger.Error("session sweep failed", zap.Error(err))
		_ = r.machine.Transition(status.Error)
		return
	}
	if len(active) == 0 {
		r.logger.Info("no live sessions, waiting for login")
		_ = r.machine.Transition(status.AuthRequired)
		return
	}

	_ = r.machine.Transition(status.Syncing)

	healthy := 0
	for _, p := range active {
		previews, err := r.chats.ChatPreviews(ctx, p.ID)
		if err != nil {
			r.logger.Error("initial chat sync failed", zap.Int64("profile", p.ID), zap.Error(err))
			continue
		}
		r.publishPreviews(p.ID, previews)
		healthy++

		profileID := p.ID
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.watch(ctx, profileID, previews)
		}()
	}

	if healthy == 0 {
		_ = r.machine.Transition(status.Degraded)
		return
	}
	_ = r.machine.Transition(status.Ready)
}

// watch folds push events into the profile's preview list. A new message
// moves its chat to the front, replacing the stale entry; a joined chat is
// prepended.
func (r *Runner) watch(ctx context.Context, profileID int64, previews []reconcile.ChatPreview) {
	joined, err := r.chats.SubscribeJoinedChats(ctx, profileID)
	if err != nil {
		r.logger.Error("subscribe joined chats", zap.Int64("profile", profileID), zap.Error(err))
		return
	}
	messages, err := r.chats.SubscribeNewMessages(ctx, profileID)
	if err != nil {
		r.logger.Error("subscribe new messages", zap.Int64("profile", profileID), zap.Error(err))
		return
	}

	for {
		select {
		case p, ok := <-joined:
			if !ok {
				return
			}
			previews = reconcile.ApplyJoined(previews, p)
			r.bus.Publish(bus.Event{
				Kind:      bus.KindChatJoined,
				Timestamp: time.Now(),
				Payload:   p,
			})
			r.publishPreviews(profileID, previews)
		case p, ok := <-messages:
			if !ok {
				return
			}
			previews = reconcile.ApplyNewMessage(previews, p)
			if p.LastMessage != nil {
				r.bus.Publish(bus.Event{
					Kind:      bus.KindMessageUpserted,
					Timestamp: time.Now(),
					Payload:   *p.LastMessage,
				})
			}
			r.publishPreviews(profileID, previews)
		case <-ctx.Done():
			return
		}
	}
}

func (r *Runner) publishPreviews(profileID int64, previews []reconcile.ChatPreview) {
	r.bus.Publish(bus.Event{
		Kind:      bus.KindChatPreviewUpdated,
		Timestamp: time.Now(),
		Payload:   ProfilePreviews{ProfileID: profileID, Previews: previews},
	})
}

package session

import (
	"context"
	"log"

	"github.com/robfig/cron/v3"
)

// Sweeper periodically force-times-out idle conversations. Per-turn
// checks catch expiry when a user comes back; the sweeper catches the
// ones that never do.
type Sweeper struct {
	cron    *cron.Cron
	mgr     *Manager
	store   Store
	ctx     context.Context
	cancel  context.CancelFunc
	spec    string
	entryID cron.EntryID
}

func NewSweeper(mgr *Manager, store Store, spec string) *Sweeper {
	ctx, cancel := context.WithCancel(context.Background())
	return &Sweeper{
		cron:   cron.New(),
		mgr:    mgr,
		store:  store,
		ctx:    ctx,
		cancel: cancel,
		spec:   spec,
	}
}

func (s *Sweeper) Start() error {
	id, err := s.cron.AddFunc(s.spec, func() {
		if err := s.Sweep(s.ctx); err != nil {
			log.Printf("sweeper: sweep failed: %v", err)
		}
	})
	if err != nil {
		return err
	}
	s.entryID = id
	s.cron.Start()
	log.Printf("sweeper: started with schedule %q", s.spec)
	return nil
}

// Sweep expires every active session whose timer has fired.
func (s *Sweeper) Sweep(ctx context.Context) error {
	active, err := s.store.Active(ctx)
	if err != nil {
		return err
	}
	for _, sess := range active {
		event, fired := s.mgr.TimeoutEvent(sess)
		if !fired {
			continue
		}
		if _, err := s.mgr.Expire(ctx, sess, event); err != nil {
			log.Printf("sweeper: failed to expire %s: %v", sess.ConversationID, err)
			continue
		}
		log.Printf("sweeper: expired %s via %s", sess.ConversationID, event)
	}
	return nil
}

func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.cancel()
	log.Printf("sweeper: stopped")
}

package receiver

import (
	"sync"
	"time"

	"github.com/napryag/salon_bot/pkg/domain/booking"
	"github.com/napryag/salon_bot/pkg/domain/cards"
	"github.com/napryag/salon_bot/pkg/domain/issuance"
	"github.com/napryag/salon_bot/pkg/domain/session"
	"github.com/napryag/salon_bot/pkg/repository/model"
)

// ---------- Screens ----------

type Screen int

const (
	ScreenMain Screen = iota
	ScreenBooking
	ScreenIssue
	ScreenMine   // customer's own appointments
	ScreenVisits // staff member's appointments for a day
)

// Session is one Telegram user's state: credentials, both flows and the
// panel message the bot keeps editing.
type Session struct {
	UserID  int64
	Auth    *session.Session
	Booking *booking.Flow
	Issue   *issuance.Flow

	client    Client
	mu        sync.Mutex
	screen    Screen
	stores    []model.Store
	loading   bool
	storesRev uint64
	visits    visitList
	notice    string
	chatID    int64
	panelID   int
	restored  bool
	lastSeen  time.Time
	lastAppt  *model.Appointment
	name      string
}

func (s *Session) Screen() Screen {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.screen
}

func (s *Session) setScreen(sc Screen) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.screen = sc
	s.notice = ""
}

// Notify sets a line shown above the panel until the user acts again.
func (s *Session) Notify(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notice = text
}

func (s *Session) noticeText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notice
}

func (s *Session) clearNotice() {
	s.Notify("")
}

// beginStores starts a store list load; only the latest load may apply.
func (s *Session) beginStores() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storesRev++
	s.loading = true
	return s.storesRev
}

// applyStores stores the result of load rev and reports whether it was current.
func (s *Session) applyStores(rev uint64, stores []model.Store) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rev != s.storesRev {
		return false
	}
	s.stores = stores
	s.loading = false
	return true
}

func (s *Session) storesSnapshot() ([]model.Store, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Store(nil), s.stores...), s.loading
}

func (s *Session) findStore(id int64) (model.Store, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.stores {
		if st.ID == id {
			return st, true
		}
	}
	return model.Store{}, false
}

func (s *Session) panel() (int64, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chatID, s.panelID
}

func (s *Session) setPanel(chatID int64, msgID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chatID = chatID
	s.panelID = msgID
}

func (s *Session) setAppointment(a *model.Appointment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAppt = a
}

func (s *Session) appointment() *model.Appointment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAppt
}

// reset drops everything the user picked; credentials stay.
func (s *Session) reset() {
	s.Booking.Exit()
	s.Issue.Reset()
	s.mu.Lock()
	s.screen = ScreenMain
	s.stores = nil
	s.loading = false
	s.storesRev++
	s.lastAppt = nil
	s.visits = visitList{rev: s.visits.rev + 1}
	s.mu.Unlock()
}

// ---------- Appointment lists ----------

// visitList is the appointment list on ScreenMine or ScreenVisits, plus the
// appointment being redeemed and the customer's cards for it.
type visitList struct {
	rev     uint64
	loading bool
	date    string // staff day, empty for the customer's list
	items   []model.AppointmentDetail

	redeem       *model.AppointmentDetail
	cards        []cards.Card
	cardsLoading bool
}

func (s *Session) beginVisits(date string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visits.rev++
	s.visits.loading = true
	s.visits.date = date
	s.visits.redeem = nil
	s.visits.cards = nil
	s.visits.cardsLoading = false
	return s.visits.rev
}

func (s *Session) applyVisits(rev uint64, items []model.AppointmentDetail) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rev != s.visits.rev {
		return false
	}
	s.visits.items = items
	s.visits.loading = false
	return true
}

func (s *Session) beginRedeem(apt model.AppointmentDetail) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visits.rev++
	s.visits.redeem = &apt
	s.visits.cards = nil
	s.visits.cardsLoading = true
	return s.visits.rev
}

func (s *Session) applyRedeemCards(rev uint64, c []cards.Card) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rev != s.visits.rev || s.visits.redeem == nil {
		return false
	}
	s.visits.cards = c
	s.visits.cardsLoading = false
	return true
}

func (s *Session) endRedeem() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visits.rev++
	s.visits.redeem = nil
	s.visits.cards = nil
	s.visits.cardsLoading = false
}

// visitsSnapshot returns a copy of the appointment list state.
func (s *Session) visitsSnapshot() visitList {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.visits
	v.items = append([]model.AppointmentDetail(nil), s.visits.items...)
	v.cards = append([]cards.Card(nil), s.visits.cards...)
	if s.visits.redeem != nil {
		r := *s.visits.redeem
		v.redeem = &r
	}
	return v
}

// ---------- Session store (in-memory, потокобезопасно) ----------

type Store struct {
	mu         sync.RWMutex
	m          map[int64]*Session
	newSession func(userID int64) *Session
	now        func() time.Time
}

func NewStore(newSession func(userID int64) *Session) *Store {
	return &Store{
		m:          make(map[int64]*Session),
		newSession: newSession,
		now:        time.Now,
	}
}

// Get returns the user's session, creating it on first use, and marks it active.
func (s *Store) Get(userID int64) *Session {
	now := s.now()

	s.mu.RLock()
	sess, ok := s.m[userID]
	s.mu.RUnlock()
	if !ok {
		s.mu.Lock()
		if sess, ok = s.m[userID]; !ok {
			sess = s.newSession(userID)
			s.m[userID] = sess
		}
		s.mu.Unlock()
	}

	sess.mu.Lock()
	sess.lastSeen = now
	sess.mu.Unlock()
	return sess
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

// Sweep forgets sessions idle for longer than idle and returns how many went.
// Pending backend responses for them become stale.
func (s *Store) Sweep(idle time.Duration) int {
	cutoff := s.now().Add(-idle)

	s.mu.Lock()
	var gone []*Session
	for id, sess := range s.m {
		sess.mu.Lock()
		old := sess.lastSeen.Before(cutoff)
		sess.mu.Unlock()
		if old {
			gone = append(gone, sess)
			delete(s.m, id)
		}
	}
	s.mu.Unlock()

	for _, sess := range gone {
		sess.Booking.Exit()
		sess.Issue.Reset()
		sess.Auth.Teardown()
	}
	return len(gone)
}

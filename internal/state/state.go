package state

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/gbdlin/event-overlays/internal/event"
)

// Default speaker timer target; will be read from event config at some point.
const defaultTimerTarget = 15 * 60 * 1000

// Phase is the decoded schedule position: which item, and whether we are
// mid-segment or in the gap before it.
type Phase struct {
	Position int  `json:"position"`
	Mid      bool `json:"mid"`
}

func phaseFromTicker(ticker int) Phase {
	return Phase{Position: ticker / 2, Mid: ticker%2 == 1}
}

func (p Phase) ticker() int {
	t := p.Position * 2
	if p.Mid {
		t++
	}
	return t
}

// ParsePhase parses the compact "<position>-mid" / "<position>-start" form
// used by deep links.
func ParsePhase(s string) (Phase, error) {
	pos, suffix, found := strings.Cut(s, "-")
	if !found {
		return Phase{}, fmt.Errorf("invalid phase %q", s)
	}
	position, err := strconv.Atoi(pos)
	if err != nil {
		return Phase{}, fmt.Errorf("invalid phase %q: %w", s, err)
	}
	switch suffix {
	case "mid":
		return Phase{Position: position, Mid: true}, nil
	case "start":
		return Phase{Position: position, Mid: false}, nil
	default:
		return Phase{}, fmt.Errorf("invalid phase %q", s)
	}
}

// State is the shared mutable runtime state of one event instance: the
// manual ticker, broadcast message and speaker timer. A single State is
// shared by every connection bound to the same event path.
type State struct {
	clock clockwork.Clock

	mu           sync.Mutex
	event        *event.Event
	manualTicker int
	message      string
	timer        Timer
}

func New(ev *event.Event, clock clockwork.Clock) *State {
	return &State{
		clock: clock,
		event: ev,
		timer: Timer{Target: defaultTimerTarget},
	}
}

// ticker resolves the effective ticker. In schedule mode it is recomputed
// from wall clock on every read and the manual value is ignored.
// Callers must hold mu.
func (s *State) ticker() int {
	if s.event.Template.TickerSource == event.TickerSchedule {
		return scheduleTicker(s.event, s.clock.Now())
	}
	return s.manualTicker
}

// scheduleTicker derives the ticker from item start times: the current
// position is the last item that has started, and the phase flips to mid
// once the item has been running for the configured leeway.
func scheduleTicker(ev *event.Event, now time.Time) int {
	if len(ev.Schedule) == 0 {
		return 0
	}
	current := 0
	for i, item := range ev.Schedule {
		if item.Start() != nil && !item.Start().After(now) {
			current = i
		}
	}
	item := ev.Schedule[current]
	mid := item.Start() != nil && !now.Before(item.Start().Add(ev.Template.ScheduleLeeway))
	ticker := current * 2
	if mid {
		ticker++
	}
	return ticker
}

// Increment advances the manual ticker by one slot.
func (s *State) Increment() (Phase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.event.Template.TickerSource != event.TickerManual {
		return Phase{}, ErrNotManual
	}
	if s.manualTicker+1 >= len(s.event.Schedule)*2 {
		return Phase{}, ErrIncrementOverflow
	}
	s.manualTicker++
	return phaseFromTicker(s.manualTicker), nil
}

// Decrement moves the manual ticker back by one slot.
func (s *State) Decrement() (Phase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.event.Template.TickerSource != event.TickerManual {
		return Phase{}, ErrNotManual
	}
	if s.manualTicker-1 < 0 {
		return Phase{}, ErrDecrementOverflow
	}
	s.manualTicker--
	return phaseFromTicker(s.manualTicker), nil
}

// MoveTo sets the manual ticker to an absolute phase without bounds
// checks; used for deep links into a known-valid position.
func (s *State) MoveTo(p Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manualTicker = p.ticker()
}

// SetMessage replaces the broadcast message.
func (s *State) SetMessage(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.message = message
}

// UpdateTimer applies fn to the timer under the state lock.
func (s *State) UpdateTimer(fn func(*Timer) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&s.timer)
}

// Now returns the instance clock reading in epoch milliseconds.
func (s *State) Now() int64 {
	return s.clock.Now().UnixMilli()
}

// ReplaceEvent swaps in a freshly loaded event configuration. The manual
// ticker survives the swap but is clamped if the schedule shrank.
func (s *State) ReplaceEvent(ev *event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.event = ev
	s.fixTicker()
}

// FixTicker clamps an out-of-range manual ticker down to the last valid
// slot. Called after every schedule replacement.
func (s *State) FixTicker() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fixTicker()
}

func (s *State) fixTicker() {
	if max := len(s.event.Schedule)*2 - 1; s.manualTicker > max {
		s.manualTicker = max
	}
	if s.manualTicker < 0 {
		s.manualTicker = 0
	}
}

// View captures a consistent snapshot for projection. The ticker is
// resolved at snapshot time, so schedule-derived instances observe the
// clock exactly once per projection pass.
type View struct {
	Event   *event.Event
	Ticker  int
	Message string
	Timer   Timer
}

func (s *State) View() *View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &View{
		Event:   s.event,
		Ticker:  s.ticker(),
		Message: s.message,
		Timer:   s.timer,
	}
}

// Current returns the decoded phase at the ticker.
func (v *View) Current() Phase {
	return phaseFromTicker(v.Ticker)
}

// Previous returns the phase one slot back, or false at the lower bound.
func (v *View) Previous() (Phase, bool) {
	if v.Ticker-1 < 0 {
		return Phase{}, false
	}
	return phaseFromTicker(v.Ticker - 1), true
}

// Next returns the phase one slot forward, or false past the last item.
func (v *View) Next() (Phase, bool) {
	p := phaseFromTicker(v.Ticker + 1)
	if p.Position >= len(v.Event.Schedule) {
		return Phase{}, false
	}
	return p, true
}

// ScreenTicker is the remaining-schedule cutoff: one past the current
// position when mid-segment, else the current position itself.
func (v *View) ScreenTicker() int {
	p := v.Current()
	if p.Mid {
		return p.Position + 1
	}
	return p.Position
}

// Remaining returns the schedule tail from the screen ticker onward.
func (v *View) Remaining() event.Schedule {
	cut := v.ScreenTicker()
	if cut >= len(v.Event.Schedule) {
		return nil
	}
	return v.Event.Schedule[cut:]
}

// CurrentItem returns the item at the current position. The second result
// is false for an empty schedule.
func (v *View) CurrentItem() (event.Item, bool) {
	pos := v.Current().Position
	if pos < 0 || pos >= len(v.Event.Schedule) {
		return nil, false
	}
	return v.Event.Schedule[pos], true
}

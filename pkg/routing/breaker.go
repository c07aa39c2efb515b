package routing

import (
	"sort"
	"sync"
	"time"
)

// BreakerState is a circuit breaker state.
type BreakerState string

const (
	StateClosed   BreakerState = "CLOSED"
	StateOpen     BreakerState = "OPEN"
	StateHalfOpen BreakerState = "HALF_OPEN"
)

// gaugeValue maps states onto the breaker_state metric.
func (s BreakerState) gaugeValue() float64 {
	switch s {
	case StateOpen:
		return 1
	case StateHalfOpen:
		return 2
	}
	return 0
}

// CircuitBreakerState is a snapshot of one tool's breaker.
type CircuitBreakerState struct {
	ToolID          string        `json:"toolId"`
	State           BreakerState  `json:"state"`
	FailureCount    int           `json:"failureCount"`
	LastFailureTime time.Time     `json:"lastFailureTime,omitempty"`
	OpenedAt        time.Time     `json:"openedAt,omitempty"`
	RecoveryTime    time.Duration `json:"recoveryTime"`
}

// RecoveryTimeMs returns the recovery window in milliseconds.
func (s CircuitBreakerState) RecoveryTimeMs() int64 {
	return s.RecoveryTime.Milliseconds()
}

// StateChangeFunc observes breaker transitions.
type StateChangeFunc func(toolID string, from, to BreakerState)

// breaker is one tool's state machine. CLOSED counts consecutive
// failures and opens at the threshold. OPEN rejects until the recovery
// window elapses, then becomes HALF_OPEN, where exactly one trial call
// is admitted: success closes the breaker, failure reopens it and
// restarts the window.
type breaker struct {
	toolID    string
	threshold int
	recovery  time.Duration
	onChange  StateChangeFunc
	now       func() time.Time

	mu           sync.Mutex
	state        BreakerState
	failureCount int
	lastFailure  time.Time
	openedAt     time.Time
	trialActive  bool
	pending      []transition
}

type transition struct {
	from, to BreakerState
}

// unlock releases b.mu and then reports the transitions made while it
// was held, so observers may call back into the breaker.
func (b *breaker) unlock() {
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()
	if b.onChange == nil {
		return
	}
	for _, t := range pending {
		b.onChange(b.toolID, t.from, t.to)
	}
}

// advance applies the time-based OPEN -> HALF_OPEN transition.
// Must be called with b.mu held.
func (b *breaker) advance() {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.recovery {
		b.setState(StateHalfOpen)
		b.trialActive = false
	}
}

// setState must be called with b.mu held; observers run on unlock.
func (b *breaker) setState(to BreakerState) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.pending = append(b.pending, transition{from: from, to: to})
}

// available reports whether the tool may be scored at all.
func (b *breaker) available() (BreakerState, bool) {
	b.mu.Lock()
	defer b.unlock()
	b.advance()
	switch b.state {
	case StateOpen:
		return b.state, false
	case StateHalfOpen:
		return b.state, !b.trialActive
	}
	return b.state, true
}

// allow admits a call, reserving the trial slot in HALF_OPEN.
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.unlock()
	b.advance()
	switch b.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		if b.trialActive {
			return false
		}
		b.trialActive = true
		return true
	}
	return false
}

func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.unlock()
	b.failureCount = 0
	b.trialActive = false
	b.setState(StateClosed)
}

func (b *breaker) recordFailure() {
	b.mu.Lock()
	defer b.unlock()
	now := b.now()
	b.failureCount++
	b.lastFailure = now

	switch b.state {
	case StateHalfOpen:
		b.trialActive = false
		b.openedAt = now
		b.setState(StateOpen)
	case StateClosed:
		if b.failureCount >= b.threshold {
			b.openedAt = now
			b.setState(StateOpen)
		}
	}
}

// release returns an unused trial slot after an outcome that says nothing
// about the tool's health (bad parameters, caller cancellation).
func (b *breaker) release() {
	b.mu.Lock()
	defer b.unlock()
	b.trialActive = false
}

// retryAfter is the remaining recovery window, zero unless OPEN.
func (b *breaker) retryAfter() time.Duration {
	b.mu.Lock()
	defer b.unlock()
	if b.state != StateOpen {
		return 0
	}
	if d := b.recovery - b.now().Sub(b.openedAt); d > 0 {
		return d
	}
	return 0
}

func (b *breaker) snapshot() CircuitBreakerState {
	b.mu.Lock()
	defer b.unlock()
	b.advance()
	return CircuitBreakerState{
		ToolID:          b.toolID,
		State:           b.state,
		FailureCount:    b.failureCount,
		LastFailureTime: b.lastFailure,
		OpenedAt:        b.openedAt,
		RecoveryTime:    b.recovery,
	}
}

// BreakerSet holds one breaker per tool. Breakers are created on first
// use; each has its own lock so transitions for different tools never
// contend.
type BreakerSet struct {
	cfg      BreakerConfig
	onChange StateChangeFunc
	now      func() time.Time

	mu       sync.RWMutex
	breakers map[string]*breaker
}

// NewBreakerSet creates an empty set.
func NewBreakerSet(cfg BreakerConfig, onChange StateChangeFunc) *BreakerSet {
	return &BreakerSet{
		cfg:      cfg,
		onChange: onChange,
		now:      time.Now,
		breakers: make(map[string]*breaker),
	}
}

func (s *BreakerSet) get(toolID string) *breaker {
	s.mu.RLock()
	b, ok := s.breakers[toolID]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok = s.breakers[toolID]; ok {
		return b
	}
	b = &breaker{
		toolID:    toolID,
		threshold: s.cfg.FailureThreshold,
		recovery:  s.cfg.RecoveryTime,
		onChange:  s.onChange,
		now:       s.now,
		state:     StateClosed,
	}
	s.breakers[toolID] = b
	return b
}

// State returns one tool's breaker snapshot. Tools that were never
// routed to report CLOSED without allocating a breaker.
func (s *BreakerSet) State(toolID string) CircuitBreakerState {
	s.mu.RLock()
	b, ok := s.breakers[toolID]
	s.mu.RUnlock()
	if !ok {
		return CircuitBreakerState{ToolID: toolID, State: StateClosed, RecoveryTime: s.cfg.RecoveryTime}
	}
	return b.snapshot()
}

// Snapshot returns every breaker, sorted by tool id.
func (s *BreakerSet) Snapshot() []CircuitBreakerState {
	s.mu.RLock()
	list := make([]*breaker, 0, len(s.breakers))
	for _, b := range s.breakers {
		list = append(list, b)
	}
	s.mu.RUnlock()

	out := make([]CircuitBreakerState, 0, len(list))
	for _, b := range list {
		out = append(out, b.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ToolID < out[j].ToolID })
	return out
}

// Reset forces a tool's breaker back to CLOSED.
func (s *BreakerSet) Reset(toolID string) {
	s.get(toolID).recordSuccess()
}

// Forget drops a tool's breaker, e.g. after unregistration.
func (s *BreakerSet) Forget(toolID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.breakers, toolID)
}

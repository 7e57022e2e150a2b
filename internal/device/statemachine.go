package device

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/transit-pay/transit_pay/internal/txqueue"
	"github.com/transit-pay/transit_pay/internal/wallet"
)

// Screen is the validator's display state.
type Screen string

const (
	ScreenReady      Screen = "READY"
	ScreenProcessing Screen = "PROCESSING"
	ScreenSuccess    Screen = "SUCCESS"
	ScreenFailed     Screen = "FAILED"
	ScreenAdminPIN   Screen = "ADMIN_PIN"
	ScreenAdminMenu  Screen = "ADMIN_MENU"
	ScreenPairing    Screen = "PAIRING"
)

// Rider-facing rejection reasons. Coarse on purpose; protocol detail never
// reaches the display.
const (
	ReasonTripInactive = "trip inactive"
	ReasonAuthFailed   = "authentication failed"
	ReasonBlocked      = "card blocked"
	ReasonUninit       = "card not initialized"
	ReasonInsufficient = "insufficient balance"
	ReasonTooSoon      = "wait before tapping again"
	ReasonReadError    = "read error"
	ReasonRecordError  = "record error"
)

// DefaultResetDelay is how long an outcome screen is shown before the
// validator returns to READY.
const DefaultResetDelay = 2500 * time.Millisecond

const enqueueAttempts = 3

// Config is the validator's local device configuration. The server copy is
// authoritative for fare and route; this is an advisory cache.
type Config struct {
	ValidatorID   string
	DeviceKey     string
	RouteName     string
	AdminPIN      string
	Fare          wallet.FareConfig
	TripActive    bool
	WelcomeCredit int64
}

// Outcome is what the display shows after a tap.
type Outcome struct {
	Screen Screen
	Reason string
	Amount int64
}

// Feedback plays rider-facing signals (tone, lights) on tap outcomes.
type Feedback interface {
	Play(ok bool)
}

// StateMachine drives the validator's screen flow. A single tap is processed
// at a time: tap events arriving while not in READY are ignored, which is the
// device's per-card serialization.
type StateMachine struct {
	mu     sync.Mutex
	screen Screen
	cfg    Config

	engine   *wallet.Engine
	medium   Medium
	queue    txqueue.Queue
	feedback Feedback
	logger   *slog.Logger

	lastReason string
	lastAmount int64

	resetDelay time.Duration
	afterFunc  func(time.Duration, func()) *time.Timer
}

// NewStateMachine assembles the device control flow.
func NewStateMachine(cfg Config, engine *wallet.Engine, medium Medium, queue txqueue.Queue, logger *slog.Logger) *StateMachine {
	return &StateMachine{
		screen:     ScreenReady,
		cfg:        cfg,
		engine:     engine,
		medium:     medium,
		queue:      queue,
		logger:     logger,
		resetDelay: DefaultResetDelay,
		afterFunc:  time.AfterFunc,
	}
}

// WithFeedback attaches a rider feedback sink.
func (sm *StateMachine) WithFeedback(f Feedback) *StateMachine {
	sm.feedback = f
	return sm
}

// WithResetDelay overrides the outcome display time. Intended for tests.
func (sm *StateMachine) WithResetDelay(d time.Duration) *StateMachine {
	sm.resetDelay = d
	return sm
}

// Screen returns the current display state.
func (sm *StateMachine) Screen() Screen {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.screen
}

// LastOutcome returns the most recent tap outcome fields.
func (sm *StateMachine) LastOutcome() Outcome {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return Outcome{Screen: sm.screen, Reason: sm.lastReason, Amount: sm.lastAmount}
}

// Config returns a copy of the device configuration.
func (sm *StateMachine) Config() Config {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.cfg
}

// ApplyRemoteConfig folds a server config pull into the advisory cache.
func (sm *StateMachine) ApplyRemoteConfig(fare wallet.FareConfig, routeName string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if fare.Amount > 0 {
		sm.cfg.Fare = fare
	}
	if routeName != "" {
		sm.cfg.RouteName = routeName
	}
}

// HandleTap processes a presented card end to end: read, verify, debit,
// write-back, record, display. It returns the outcome shown to the rider.
func (sm *StateMachine) HandleTap(ctx context.Context) Outcome {
	sm.mu.Lock()
	if sm.screen != ScreenReady {
		// Busy showing an outcome or in admin flow; the tap is dropped.
		out := Outcome{Screen: sm.screen, Reason: sm.lastReason, Amount: sm.lastAmount}
		sm.mu.Unlock()
		return out
	}
	if !sm.cfg.TripActive {
		out := sm.failLocked(ReasonTripInactive)
		sm.mu.Unlock()
		return out
	}
	// Close the gate before releasing the lock so a second tap arriving
	// mid-flight is dropped rather than debiting the same card state twice.
	sm.screen = ScreenProcessing
	cfg := sm.cfg
	sm.mu.Unlock()

	s, err := sm.medium.Read(ctx)
	if err != nil {
		return sm.fail(ReasonReadError)
	}

	updated, tx, err := sm.engine.Debit(s, wallet.DebitInput{
		Fare:     cfg.Fare,
		Method:   wallet.MethodNFC,
		Role:     "passenger",
		DeviceID: cfg.ValidatorID,
		RouteID:  cfg.RouteName,
	})
	if err != nil {
		return sm.fail(tapReason(err))
	}

	// Card write and transaction enqueue are one logical operation. If the
	// write-back fails the debit never happened, so nothing is enqueued.
	if err := sm.medium.Write(ctx, updated); err != nil {
		sm.logger.Warn("card write-back failed", "card", s.UID, "error", err)
		return sm.fail(ReasonReadError)
	}

	// The card is already debited past this point. A lost record is
	// unrecovered revenue, so enqueue is retried before reporting.
	var enqErr error
	for attempt := 0; attempt < enqueueAttempts; attempt++ {
		if enqErr = sm.queue.Enqueue(ctx, tx); enqErr == nil || errors.Is(enqErr, txqueue.ErrDuplicateID) {
			enqErr = nil
			break
		}
	}
	if enqErr != nil {
		sm.logger.Error("transaction record lost after card write", "tx", tx.ID, "card", tx.CardUID, "error", enqErr)
		return sm.fail(ReasonRecordError)
	}

	return sm.succeed(tx.Amount)
}

func tapReason(err error) string {
	switch {
	case errors.Is(err, wallet.ErrIntegrity):
		return ReasonAuthFailed
	case errors.Is(err, wallet.ErrBlocked):
		return ReasonBlocked
	case errors.Is(err, wallet.ErrUninitialized):
		return ReasonUninit
	case errors.Is(err, wallet.ErrInsufficientFunds):
		return ReasonInsufficient
	case errors.Is(err, wallet.ErrTooSoon):
		return ReasonTooSoon
	default:
		return ReasonReadError
	}
}

func (sm *StateMachine) succeed(amount int64) Outcome {
	sm.mu.Lock()
	sm.screen = ScreenSuccess
	sm.lastReason = ""
	sm.lastAmount = amount
	out := Outcome{Screen: sm.screen, Amount: amount}
	sm.mu.Unlock()

	if sm.feedback != nil {
		sm.feedback.Play(true)
	}
	sm.scheduleReset()
	return out
}

func (sm *StateMachine) fail(reason string) Outcome {
	sm.mu.Lock()
	out := sm.failLocked(reason)
	sm.mu.Unlock()
	return out
}

func (sm *StateMachine) failLocked(reason string) Outcome {
	sm.screen = ScreenFailed
	sm.lastReason = reason
	sm.lastAmount = 0
	if sm.feedback != nil {
		sm.feedback.Play(false)
	}
	sm.scheduleReset()
	return Outcome{Screen: ScreenFailed, Reason: reason}
}

func (sm *StateMachine) scheduleReset() {
	sm.afterFunc(sm.resetDelay, func() {
		sm.mu.Lock()
		defer sm.mu.Unlock()
		if sm.screen == ScreenSuccess || sm.screen == ScreenFailed {
			sm.screen = ScreenReady
			sm.lastReason = ""
			sm.lastAmount = 0
		}
	})
}

// EnterAdmin switches to the PIN prompt from any screen.
func (sm *StateMachine) EnterAdmin() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.screen = ScreenAdminPIN
}

// SubmitPIN checks the operator PIN. A wrong PIN keeps the prompt up for
// retry; a correct one opens the admin menu.
func (sm *StateMachine) SubmitPIN(pin string) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.screen != ScreenAdminPIN {
		return false
	}
	if pin != sm.cfg.AdminPIN {
		return false
	}
	sm.screen = ScreenAdminMenu
	return true
}

// CancelAdmin leaves the admin flow back to READY.
func (sm *StateMachine) CancelAdmin() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.screen == ScreenAdminPIN || sm.screen == ScreenAdminMenu || sm.screen == ScreenPairing {
		sm.screen = ScreenReady
	}
}

// ToggleTrip flips the trip between ACTIVE and STOPPED. While stopped, taps
// fail with a fixed reason before reaching the wallet engine.
func (sm *StateMachine) ToggleTrip() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.cfg.TripActive = !sm.cfg.TripActive
	return sm.cfg.TripActive
}

// StartPairing opens the pairing screen from the admin menu.
func (sm *StateMachine) StartPairing() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.screen == ScreenAdminMenu {
		sm.screen = ScreenPairing
	}
}

// CompletePairing stores new device credentials and returns to READY.
func (sm *StateMachine) CompletePairing(validatorID, deviceKey string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if validatorID != "" {
		sm.cfg.ValidatorID = validatorID
	}
	if deviceKey != "" {
		sm.cfg.DeviceKey = deviceKey
	}
	sm.screen = ScreenReady
}

// ErrNotInAdminMenu indicates a privileged action attempted outside the
// PIN-gated menu.
var ErrNotInAdminMenu = errors.New("admin menu required")

// IssueCard initializes the presented card with the welcome credit and
// writes it back. Available only from the admin menu; a card that is already
// active is left untouched.
func (sm *StateMachine) IssueCard(ctx context.Context) (int64, error) {
	sm.mu.Lock()
	if sm.screen != ScreenAdminMenu {
		sm.mu.Unlock()
		return 0, ErrNotInAdminMenu
	}
	credit := sm.cfg.WelcomeCredit
	sm.mu.Unlock()

	state, err := sm.medium.Read(ctx)
	if err != nil {
		return 0, err
	}
	issued, err := sm.engine.Initialize(state, credit)
	if err != nil {
		return 0, err
	}
	if err := sm.medium.Write(ctx, issued); err != nil {
		return 0, err
	}
	sm.logger.Info("card issued", "card", issued.UID, "credit", credit)
	return credit, nil
}

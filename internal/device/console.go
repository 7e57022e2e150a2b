package device

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/transit-pay/transit_pay/internal/card"
	"github.com/transit-pay/transit_pay/internal/txqueue"
)

// Console drives the state machine from an operator terminal. It stands in
// for the touch screen and NFC reader of a production device: commands
// present cards on the simulated medium and feed the same tap path hardware
// events would take.
type Console struct {
	sm     *StateMachine
	medium *MemoryMedium
	codec  *card.Codec
	queue  txqueue.Queue
	issuer string
	out    io.Writer
	logger *slog.Logger
}

// NewConsole builds the command loop around an assembled device.
func NewConsole(sm *StateMachine, medium *MemoryMedium, codec *card.Codec, queue txqueue.Queue, issuer string, out io.Writer, logger *slog.Logger) *Console {
	return &Console{sm: sm, medium: medium, codec: codec, queue: queue, issuer: issuer, out: out, logger: logger}
}

// Run reads commands line by line until the input closes or ctx is done.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	c.say("validator console ready, type 'help' for commands")
	scanner := bufio.NewScanner(in)
	lines := make(chan string)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return scanner.Err()
			}
			c.exec(ctx, line)
		}
	}
}

func (c *Console) exec(ctx context.Context, line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "tap":
		if len(args) != 1 {
			c.say("usage: tap <card-uid>")
			return
		}
		c.medium.Present(args[0])
		out := c.sm.HandleTap(ctx)
		switch out.Screen {
		case ScreenSuccess:
			c.say("OK charged %d", out.Amount)
		case ScreenFailed:
			c.say("REJECTED %s", out.Reason)
		default:
			c.say("busy (%s)", out.Screen)
		}
	case "new":
		if len(args) != 1 {
			c.say("usage: new <card-uid>")
			return
		}
		s := c.codec.Stamp(card.NewUninitialized(args[0], c.issuer))
		c.medium.Store(s)
		c.medium.Present(args[0])
		c.say("blank card %s on reader", args[0])
	case "issue":
		if len(args) == 1 {
			c.medium.Present(args[0])
		}
		credit, err := c.sm.IssueCard(ctx)
		if err != nil {
			c.say("issue failed: %v", err)
			return
		}
		c.say("card issued with %d credit", credit)
	case "admin":
		c.sm.EnterAdmin()
		c.say("enter pin")
	case "pin":
		if len(args) == 1 && c.sm.SubmitPIN(args[0]) {
			c.say("admin menu open")
		} else {
			c.say("wrong pin")
		}
	case "trip":
		if c.sm.ToggleTrip() {
			c.say("trip ACTIVE")
		} else {
			c.say("trip STOPPED")
		}
	case "cancel":
		c.sm.CancelAdmin()
		c.say("back to ready")
	case "status":
		pending, err := c.queue.PendingCount(ctx)
		if err != nil {
			c.logger.Warn("pending count failed", "error", err)
		}
		cfg := c.sm.Config()
		c.say("screen=%s route=%s fare=%d pending=%d", c.sm.Screen(), cfg.RouteName, cfg.Fare.Amount, pending)
	case "help":
		c.say("commands: tap <uid> | new <uid> | admin | pin <code> | issue [uid] | trip | cancel | status")
	default:
		c.say("unknown command %q, type 'help'", cmd)
	}
}

func (c *Console) say(format string, args ...any) {
	fmt.Fprintf(c.out, format+"\n", args...)
}

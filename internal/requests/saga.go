package requests

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type sagaState string

const (
	sagaPending      sagaState = "pending"
	sagaReserved     sagaState = "credits_reserved"
	sagaPersisted    sagaState = "request_persisted"
	sagaRefunded     sagaState = "refunded"
	sagaRefundFailed sagaState = "refund_failed"
)

// creditSaga is the deduct, write, refund-on-failure sequence behind
// request creation. The two steps may fail on different constraints, so
// they are not one database transaction.
type creditSaga struct {
	credits Credits
	userID  string
	amount  int
	state   sagaState
	log     *zap.Logger
}

func (c *creditSaga) transition(to sagaState, fields ...zap.Field) {
	from := c.state
	if from == "" {
		from = sagaPending
	}
	c.state = to
	c.log.Debug("credit saga transition", append(fields, zap.String("from", string(from)), zap.String("to", string(to)))...)
}

func (c *creditSaga) reserve(ctx context.Context, reason string) error {
	d, err := c.credits.DeductFor(ctx, c.userID, c.amount, reason)
	if err != nil {
		return err
	}
	c.transition(sagaReserved, zap.Int("previous_balance", d.PreviousBalance), zap.Int("new_balance", d.NewBalance))
	return nil
}

func (c *creditSaga) persisted() {
	c.transition(sagaPersisted)
}

// refundTimeout bounds the compensating write, which must not inherit the
// caller's cancellation.
const refundTimeout = 10 * time.Second

// refund returns the reserved credits. It runs even when ctx is already
// cancelled or past its deadline, since that is a common cause of the
// failed insert.
func (c *creditSaga) refund(ctx context.Context, reason string) error {
	if c.state != sagaReserved {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refundTimeout)
	defer cancel()
	balance, err := c.credits.Add(ctx, c.userID, c.amount, reason)
	if err != nil {
		c.transition(sagaRefundFailed)
		c.log.Error("credit refund failed, balance is short", zap.Int("amount", c.amount), zap.Error(err))
		return err
	}
	c.transition(sagaRefunded, zap.Int("new_balance", balance))
	c.log.Warn("request insert failed, credits refunded", zap.Int("amount", c.amount))
	return nil
}

package market

import (
	"fmt"

	"nhbmarket/native/fees"
)

func (e *Engine) requireAdmin(caller [20]byte) (Params, error) {
	params, err := e.params()
	if err != nil {
		return Params{}, err
	}
	if caller != params.Admin {
		return Params{}, ErrUnauthorized
	}
	return params, nil
}

// SetFeeRate updates the marketplace fee applied to future settlements.
func (e *Engine) SetFeeRate(caller [20]byte, bps uint32) error {
	return e.execute("set_fee_rate", true, func() error {
		params, err := e.requireAdmin(caller)
		if err != nil {
			return err
		}
		if err := fees.ValidateRate(bps); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidFeeRate, err)
		}
		previous := params.FeeRateBps
		params.FeeRateBps = bps
		if err := e.state.MarketParamsPut(&params); err != nil {
			return err
		}
		e.afterCommit(func() { e.metrics.SetFeeRate(bps) })
		e.emit(NewFeeRateUpdatedEvent(previous, bps))
		return nil
	})
}

// SetFeeRecipient redirects future fee credits. The zero address routes fees
// to the administrator.
func (e *Engine) SetFeeRecipient(caller, recipient [20]byte) error {
	return e.execute("set_fee_recipient", true, func() error {
		params, err := e.requireAdmin(caller)
		if err != nil {
			return err
		}
		previous := params.FeeRecipient
		params.FeeRecipient = recipient
		if err := e.state.MarketParamsPut(&params); err != nil {
			return err
		}
		e.emit(NewFeeRecipientUpdatedEvent(previous, recipient))
		return nil
	})
}

// TransferAdmin hands administrator rights to next.
func (e *Engine) TransferAdmin(caller, next [20]byte) error {
	return e.execute("transfer_admin", true, func() error {
		params, err := e.requireAdmin(caller)
		if err != nil {
			return err
		}
		if isZeroAddress(next) {
			return fmt.Errorf("%w: admin address required", ErrInvalidInput)
		}
		previous := params.Admin
		params.Admin = next
		if err := e.state.MarketParamsPut(&params); err != nil {
			return err
		}
		e.emit(NewAdminTransferredEvent(previous, next))
		return nil
	})
}

// Pause blocks every mutating operation except Unpause.
func (e *Engine) Pause(caller [20]byte) error {
	return e.execute("pause", true, func() error {
		if _, err := e.requireAdmin(caller); err != nil {
			return err
		}
		return e.setPaused(caller, true)
	})
}

// Unpause lifts an administrator pause. It is the only mutating operation
// accepted while paused. An operator pause configured through the pause view
// cannot be lifted here.
func (e *Engine) Unpause(caller [20]byte) error {
	return e.execute("unpause", false, func() error {
		if _, err := e.requireAdmin(caller); err != nil {
			return err
		}
		return e.setPaused(caller, false)
	})
}

func (e *Engine) setPaused(caller [20]byte, paused bool) error {
	current, err := e.state.MarketPausedGet()
	if err != nil {
		return err
	}
	if current == paused {
		if paused {
			return fmt.Errorf("%w: already paused", ErrInvalidInput)
		}
		return fmt.Errorf("%w: not paused", ErrInvalidInput)
	}
	if err := e.state.MarketPausedPut(paused); err != nil {
		return err
	}
	e.afterCommit(func() { e.metrics.SetPaused(paused) })
	e.emit(NewPauseEvent(paused, caller))
	return nil
}

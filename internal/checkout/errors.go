package checkout

import "errors"

var (
	ErrEmptyCart         = errors.New("cart is empty, nothing to checkout")
	ErrAlreadyProcessing = errors.New("checkout is already processing")
	ErrNotProcessing     = errors.New("checkout is not processing")
	ErrIllegalTransition = errors.New("illegal transition of checkout state")
	ErrSessionRetired    = errors.New("checkout session is retired")
)

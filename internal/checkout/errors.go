package checkout

import (
	"errors"
	"fmt"

	"github.com/fjod/storefront/internal/domain"
)

var (
	ErrIllegalTransition  = errors.New("illegal transition of checkout status")
	ErrCheckoutInProgress = fmt.Errorf("checkout already in progress for this user: %w", domain.ErrConcurrencyConflict)
)

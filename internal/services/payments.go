package services

import (
	"context"
	"strings"

	"example.com/backstage/services/keygate/internal/models"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// PaymentOwnerPrefix marks keys bought through the payment hook
const PaymentOwnerPrefix = "payment:"

// Payments turns confirmed payments into keys.
// Payment verification happens before OnPaymentConfirmed is called.
type Payments struct {
	keys      *KeyRegistry
	blacklist *BlacklistRegistry
}

// NewPayments creates the payment hook. blacklist may be nil.
func NewPayments(keys *KeyRegistry, blacklist *BlacklistRegistry) *Payments {
	return &Payments{keys: keys, blacklist: blacklist}
}

// OnPaymentConfirmed issues a key for payer lasting durationHours, or forever when zero.
// A payer on the player blacklist gets ErrBlocked.
func (p *Payments) OnPaymentConfirmed(ctx context.Context, payer string, durationHours int) (*models.AccessKey, error) {
	payer = strings.TrimSpace(payer)
	if payer == "" {
		return nil, errors.Wrap(ErrInvalidArgument, "payer is required")
	}
	if durationHours < 0 {
		return nil, errors.Wrap(ErrInvalidArgument, "duration must not be negative")
	}
	if p.blacklist != nil {
		if err := p.blacklist.Check(ctx, models.SubjectPlayer, payer); err != nil {
			return nil, err
		}
	}

	key, err := p.keys.IssueGenerated(ctx, PaymentOwnerPrefix+payer, 0, models.Hours(durationHours), durationHours == 0, SourcePayment)
	if err != nil {
		return nil, errors.Wrap(err, "failed to issue paid key")
	}

	log.Info().
		Str("payer", payer).
		Int("hours", durationHours).
		Str("key", key.Token).
		Msg("Payment confirmed")
	return key, nil
}

package stripewebhook

import (
	"context"
	"errors"

	"github.com/angelmondragon/lackmarkt-backend/internal/ledger"
	"github.com/angelmondragon/lackmarkt-backend/pkg/db/models"
	stripegw "github.com/angelmondragon/lackmarkt-backend/pkg/stripe"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"
)

// handleChargeRefunded finalizes full refunds made outside the API. Refunds we
// issued ourselves arrive here too and end as no-ops.
func (s *Service) handleChargeRefunded(ctx context.Context, charge *stripe.Charge) error {
	ctx = s.withField(ctx, "charge_id", charge.ID)
	if !charge.Refunded {
		s.warn(ctx, "partial refund acknowledged without settlement change")
		return nil
	}
	refundID := ""
	if charge.Refunds != nil && len(charge.Refunds.Data) > 0 && charge.Refunds.Data[0] != nil {
		refundID = charge.Refunds.Data[0].ID
	}
	return s.refunds.ApplyExternalRefund(ctx, charge.ID, refundID)
}

// handleAccountUpdated mirrors a connected account's capabilities. Accounts are
// matched by Stripe id, or by the user_id metadata set during onboarding.
func (s *Service) handleAccountUpdated(ctx context.Context, acct *stripe.Account) error {
	ctx = s.withField(ctx, "stripe_account_id", acct.ID)
	userID := uuid.Nil
	existing, err := s.repo.FindConnectedAccountByStripeID(ctx, acct.ID)
	switch {
	case err == nil:
		userID = existing.UserID
	case errors.Is(err, gorm.ErrRecordNotFound):
		if id, parseErr := uuid.Parse(acct.Metadata["user_id"]); parseErr == nil {
			userID = id
		}
	default:
		return ledger.LoadError(err, "connected account")
	}
	if userID == uuid.Nil {
		s.info(ctx, "account update for unknown connected account acknowledged")
		return nil
	}

	mirror := stripegw.ToAccount(acct)
	row := &models.ConnectedAccount{
		UserID:           userID,
		StripeAccountID:  mirror.ID,
		ChargesEnabled:   mirror.ChargesEnabled,
		PayoutsEnabled:   mirror.PayoutsEnabled,
		DetailsSubmitted: mirror.DetailsSubmitted,
		TransfersActive:  mirror.TransfersActive,
		RefreshedAt:      s.now().UTC(),
	}
	if mirror.BusinessName != "" {
		row.BusinessName = &mirror.BusinessName
	}
	if err := s.repo.UpsertConnectedAccount(ctx, row); err != nil {
		return ledger.WriteError(err, "upsert connected account")
	}
	return nil
}

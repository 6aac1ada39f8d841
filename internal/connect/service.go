// Package connect reports whether a seller can receive payouts.
package connect

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/lackmarkt-backend/internal/ledger"
	"github.com/angelmondragon/lackmarkt-backend/pkg/auth"
	"github.com/angelmondragon/lackmarkt-backend/pkg/db/models"
	"github.com/angelmondragon/lackmarkt-backend/pkg/logger"
	"github.com/angelmondragon/lackmarkt-backend/pkg/stripe"
	"gorm.io/gorm"
)

// refreshAfter bounds how stale a mirrored account may be before a read goes to Stripe.
const refreshAfter = 5 * time.Minute

type accountFetcher interface {
	RetrieveAccount(ctx context.Context, accountID string) (*stripe.Account, error)
}

type Eligibility struct {
	Onboarded        bool      `json:"onboarded"`
	StripeAccountID  string    `json:"stripe_account_id,omitempty"`
	BusinessName     string    `json:"business_name,omitempty"`
	ChargesEnabled   bool      `json:"charges_enabled"`
	PayoutsEnabled   bool      `json:"payouts_enabled"`
	DetailsSubmitted bool      `json:"details_submitted"`
	CanReceivePayout bool      `json:"can_receive_payouts"`
	RefreshedAt      time.Time `json:"refreshed_at,omitempty"`
	Stale            bool      `json:"stale"`
}

type Service interface {
	PayoutEligibility(ctx context.Context, actor auth.Identity) (*Eligibility, error)
}

type service struct {
	repo    ledger.Repository
	gateway accountFetcher
	logg    *logger.Logger
	now     func() time.Time
}

func NewService(repo ledger.Repository, gateway accountFetcher, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, errors.New("ledger repository required")
	}
	if gateway == nil {
		return nil, errors.New("account fetcher required")
	}
	return &service{repo: repo, gateway: gateway, logg: logg, now: time.Now}, nil
}

// PayoutEligibility returns the caller's connected account, refreshed from
// Stripe when the mirror is old. A failed refresh serves the mirror marked stale.
func (s *service) PayoutEligibility(ctx context.Context, actor auth.Identity) (*Eligibility, error) {
	account, err := s.repo.FindConnectedAccount(ctx, actor.UserID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &Eligibility{}, nil
	}
	if err != nil {
		return nil, ledger.LoadError(err, "connected account")
	}

	now := s.now().UTC()
	if now.Sub(account.RefreshedAt) < refreshAfter {
		return toEligibility(account, false), nil
	}
	remote, err := s.gateway.RetrieveAccount(ctx, account.StripeAccountID)
	if err != nil {
		if s.logg != nil {
			s.logg.Warn(s.logg.WithField(ctx, "stripe_account_id", account.StripeAccountID), "connected account refresh failed: "+err.Error())
		}
		return toEligibility(account, true), nil
	}

	account.ChargesEnabled = remote.ChargesEnabled
	account.PayoutsEnabled = remote.PayoutsEnabled
	account.DetailsSubmitted = remote.DetailsSubmitted
	account.TransfersActive = remote.TransfersActive
	if remote.BusinessName != "" {
		account.BusinessName = &remote.BusinessName
	}
	account.RefreshedAt = now
	if err := s.repo.UpsertConnectedAccount(ctx, account); err != nil {
		return nil, ledger.WriteError(err, "store connected account")
	}
	return toEligibility(account, false), nil
}

func toEligibility(account *models.ConnectedAccount, stale bool) *Eligibility {
	out := &Eligibility{
		Onboarded:        account.DetailsSubmitted,
		StripeAccountID:  account.StripeAccountID,
		ChargesEnabled:   account.ChargesEnabled,
		PayoutsEnabled:   account.PayoutsEnabled,
		DetailsSubmitted: account.DetailsSubmitted,
		CanReceivePayout: account.CanReceiveTransfers(),
		RefreshedAt:      account.RefreshedAt,
		Stale:            stale,
	}
	if account.BusinessName != nil {
		out.BusinessName = *account.BusinessName
	}
	return out
}

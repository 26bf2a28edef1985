package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/astroconnect/call-billing-go/internal/model"
)

type RateRepository interface {
	FindByAstrologerID(ctx context.Context, astrologerID string) (*model.AstrologerRate, error)
	Upsert(ctx context.Context, astrologerID string, ratePerMinute decimal.Decimal) (*model.AstrologerRate, error)
}

type rateRepo struct {
	db *sqlx.DB
}

func NewRateRepository(db *sqlx.DB) RateRepository {
	return &rateRepo{db: db}
}

func (r *rateRepo) FindByAstrologerID(ctx context.Context, astrologerID string) (*model.AstrologerRate, error) {
	var rate model.AstrologerRate
	err := r.db.GetContext(ctx, &rate, `
		SELECT * FROM astrologer_rates WHERE astrologer_id = $1
	`, astrologerID)
	return HandleNotFound(&rate, err)
}

func (r *rateRepo) Upsert(ctx context.Context, astrologerID string, ratePerMinute decimal.Decimal) (*model.AstrologerRate, error) {
	var rate model.AstrologerRate
	err := r.db.GetContext(ctx, &rate, `
		INSERT INTO astrologer_rates (astrologer_id, rate_per_minute)
		VALUES ($1, $2)
		ON CONFLICT (astrologer_id) DO UPDATE SET
			rate_per_minute = EXCLUDED.rate_per_minute,
			updated_at = NOW()
		RETURNING *
	`, astrologerID, ratePerMinute)
	if err != nil {
		return nil, err
	}
	return &rate, nil
}

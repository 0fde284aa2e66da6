package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mind-engage/certprep/internal/access"
)

type PaymentStatus string

const (
	StatusPending PaymentStatus = "pending"
	StatusSuccess PaymentStatus = "success"
	StatusFailed  PaymentStatus = "failed"
)

type Payment struct {
	Reference       string          `json:"reference"`
	UserID          string          `json:"user_id"`
	Plan            PlanID          `json:"plan"`
	CertificationID string          `json:"certification_id,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	Status          PaymentStatus   `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	VerifiedAt      *time.Time      `json:"verified_at,omitempty"`
}

// SQLStore persists payments and subscriptions. It is also the Access
// Gate's subscription source.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{db: db} }

var _ access.SubscriptionSource = (*SQLStore)(nil)

// GetSubscription returns the stored subscription, or Free when none exists.
func (s *SQLStore) GetSubscription(ctx context.Context, userID string) (access.Subscription, error) {
	var (
		tier, cert string
		exp        sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `SELECT tier,certification_id,expires_at FROM subscriptions WHERE user_id=$1`, userID).
		Scan(&tier, &cert, &exp)
	if errors.Is(err, sql.ErrNoRows) {
		return access.Subscription{UserID: userID, Tier: access.TierFree}, nil
	}
	if err != nil {
		return access.Subscription{}, fmt.Errorf("get subscription: %w", err)
	}
	sub := access.Subscription{UserID: userID, Tier: access.ParseTier(tier), CertificationID: cert}
	if exp.Valid {
		t := time.Unix(exp.Int64, 0).UTC()
		sub.ExpiresAt = &t
	}
	return sub, nil
}

// PutSubscription overwrites the user's subscription (admin grants, tests).
func (s *SQLStore) PutSubscription(ctx context.Context, sub access.Subscription) error {
	return putSubscription(ctx, s.db, sub, time.Now())
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func putSubscription(ctx context.Context, q execer, sub access.Subscription, now time.Time) error {
	var exp any
	if sub.ExpiresAt != nil {
		exp = sub.ExpiresAt.Unix()
	}
	_, err := q.ExecContext(ctx, `INSERT INTO subscriptions (user_id,tier,certification_id,expires_at,updated_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (user_id) DO UPDATE SET tier=EXCLUDED.tier, certification_id=EXCLUDED.certification_id,
			expires_at=EXCLUDED.expires_at, updated_at=EXCLUDED.updated_at`,
		sub.UserID, string(sub.Tier), sub.CertificationID, exp, now.Unix())
	if err != nil {
		return fmt.Errorf("put subscription: %w", err)
	}
	return nil
}

func (s *SQLStore) CreatePayment(ctx context.Context, p Payment) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO payments (reference,user_id,plan,certification_id,amount,status,created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		p.Reference, p.UserID, string(p.Plan), p.CertificationID, p.Amount.StringFixed(2), string(p.Status), p.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

type rowQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getPayment(ctx context.Context, q rowQueryer, reference string) (Payment, error) {
	var (
		p             Payment
		plan, st, amt string
		created       int64
		verified      sql.NullInt64
	)
	err := q.QueryRowContext(ctx, `SELECT reference,user_id,plan,certification_id,amount,status,created_at,verified_at
		FROM payments WHERE reference=$1`, reference).
		Scan(&p.Reference, &p.UserID, &plan, &p.CertificationID, &amt, &st, &created, &verified)
	if errors.Is(err, sql.ErrNoRows) {
		return Payment{}, ErrPaymentNotFound
	}
	if err != nil {
		return Payment{}, fmt.Errorf("get payment: %w", err)
	}
	p.Plan, p.Status = PlanID(plan), PaymentStatus(st)
	if p.Amount, err = decimal.NewFromString(amt); err != nil {
		return Payment{}, fmt.Errorf("payment %s amount: %w", reference, err)
	}
	p.CreatedAt = time.Unix(created, 0).UTC()
	if verified.Valid {
		t := time.Unix(verified.Int64, 0).UTC()
		p.VerifiedAt = &t
	}
	return p, nil
}

func (s *SQLStore) GetPayment(ctx context.Context, reference string) (Payment, error) {
	return getPayment(ctx, s.db, reference)
}

// Settle moves a pending payment to its final status and, on success,
// activates the subscription in the same transaction. Settling a payment that
// is no longer pending is a no-op and reports applied=false.
func (s *SQLStore) Settle(ctx context.Context, reference string, status PaymentStatus, plan Plan, now time.Time, period time.Duration) (Payment, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Payment{}, false, fmt.Errorf("settle: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE payments SET status=$1, verified_at=$2 WHERE reference=$3 AND status=$4`,
		string(status), now.Unix(), reference, string(StatusPending))
	if err != nil {
		return Payment{}, false, fmt.Errorf("settle: update payment: %w", err)
	}
	n, _ := res.RowsAffected()
	p, err := getPayment(ctx, tx, reference)
	if err != nil {
		return Payment{}, false, err
	}
	if n == 0 {
		return p, false, nil
	}

	if status == StatusSuccess {
		var tier, cert string
		var exp sql.NullInt64
		err := tx.QueryRowContext(ctx, `SELECT tier,certification_id,expires_at FROM subscriptions WHERE user_id=$1`, p.UserID).
			Scan(&tier, &cert, &exp)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return Payment{}, false, fmt.Errorf("settle: load subscription: %w", err)
		}
		cur := access.Subscription{UserID: p.UserID, Tier: access.ParseTier(tier), CertificationID: cert}
		if exp.Valid {
			t := time.Unix(exp.Int64, 0).UTC()
			cur.ExpiresAt = &t
		}
		if err := putSubscription(ctx, tx, renew(cur, plan, p, now, period), now); err != nil {
			return Payment{}, false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return Payment{}, false, fmt.Errorf("settle: commit: %w", err)
	}
	return p, true, nil
}

// renew extends a still-active subscription of the same shape; otherwise the
// period starts now.
func renew(cur access.Subscription, plan Plan, p Payment, now time.Time, period time.Duration) access.Subscription {
	next := access.Subscription{UserID: p.UserID, Tier: plan.Tier}
	if plan.PerCertification {
		next.CertificationID = p.CertificationID
	}
	start := now
	if cur.Effective(now) == next.Tier && cur.CertificationID == next.CertificationID && cur.ExpiresAt != nil {
		start = *cur.ExpiresAt
	}
	exp := start.Add(period).UTC().Truncate(time.Second)
	next.ExpiresAt = &exp
	return next
}

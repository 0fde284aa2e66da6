package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mind-engage/certprep/internal/logger"
)

var (
	ErrUnknownPlan      = errors.New("unknown plan")
	ErrPaymentNotFound  = errors.New("payment not found")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrGateway          = errors.New("payment gateway error")
	ErrInvalidRequest   = errors.New("invalid billing request")
)

const EventPaymentSettled = "PaymentSettled"

// Recorder appends domain events; syncx.EventRepo satisfies it.
type Recorder interface {
	Record(ctx context.Context, typ, key string, data any) error
}

type Options struct {
	WebhookSecret string
	CallbackURL   string
	Period        time.Duration
}

type Service struct {
	store   *SQLStore
	gateway Gateway
	plans   Catalog
	events  Recorder
	log     *logger.Logger
	opts    Options
	now     func() time.Time
}

func NewService(store *SQLStore, gw Gateway, plans Catalog, events Recorder, log *logger.Logger, opts Options) *Service {
	if log == nil {
		log = logger.Nop()
	}
	if opts.Period <= 0 {
		opts.Period = 30 * 24 * time.Hour
	}
	return &Service{
		store: store, gateway: gw, plans: plans, events: events,
		log:  log.With("service", "Billing"),
		opts: opts,
		now:  time.Now,
	}
}

func (s *Service) SetClock(now func() time.Time) { s.now = now }

func (s *Service) Plans() []Plan { return s.plans.List() }

func (s *Service) Store() *SQLStore { return s.store }

// Checkout is what the client needs to redirect the user to the gateway.
type Checkout struct {
	Reference        string `json:"reference"`
	AuthorizationURL string `json:"authorization_url"`
	Plan             Plan   `json:"plan"`
}

// Initialize records a pending payment and opens a gateway transaction.
func (s *Service) Initialize(ctx context.Context, userID, email string, planID PlanID, certificationID string) (Checkout, error) {
	plan, err := s.plans.Get(planID)
	if err != nil {
		return Checkout{}, err
	}
	certificationID = strings.TrimSpace(certificationID)
	if plan.PerCertification && certificationID == "" {
		return Checkout{}, fmt.Errorf("%w: plan %s needs a certification", ErrInvalidRequest, planID)
	}
	if !plan.PerCertification {
		certificationID = ""
	}
	if strings.TrimSpace(email) == "" {
		return Checkout{}, fmt.Errorf("%w: email required", ErrInvalidRequest)
	}

	p := Payment{
		Reference:       "cp_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		UserID:          userID,
		Plan:            plan.ID,
		CertificationID: certificationID,
		Amount:          plan.Price,
		Status:          StatusPending,
		CreatedAt:       s.now().UTC(),
	}
	if err := s.store.CreatePayment(ctx, p); err != nil {
		return Checkout{}, err
	}
	res, err := s.gateway.Initialize(ctx, InitRequest{
		Email:       email,
		AmountKobo:  plan.Kobo(),
		Reference:   p.Reference,
		CallbackURL: s.opts.CallbackURL,
		Metadata:    map[string]string{"user_id": userID, "plan": string(plan.ID), "certification_id": certificationID},
	})
	if err != nil {
		s.log.Warn("gateway initialize failed", "reference", p.Reference, "error", err)
		return Checkout{}, err
	}
	s.log.Info("payment initialized", "reference", p.Reference, "user_id", userID, "plan", plan.ID, "amount", plan.Price.StringFixed(2))
	return Checkout{Reference: p.Reference, AuthorizationURL: res.AuthorizationURL, Plan: plan}, nil
}

// Verify asks the gateway for the transaction outcome and settles the
// payment. Verifying a settled payment returns it unchanged.
func (s *Service) Verify(ctx context.Context, reference string) (Payment, error) {
	p, err := s.store.GetPayment(ctx, reference)
	if err != nil {
		return Payment{}, err
	}
	if p.Status != StatusPending {
		return p, nil
	}
	tx, err := s.gateway.Verify(ctx, reference)
	if err != nil {
		return Payment{}, err
	}
	return s.settle(ctx, p, tx)
}

// HandleWebhook verifies and applies a gateway event. Unknown events and
// unknown references are ignored.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	ev, err := ParseWebhook(s.opts.WebhookSecret, body, signature)
	if err != nil {
		return err
	}
	if ev.Event != EventChargeSuccess {
		s.log.Debug("webhook ignored", "event", ev.Event)
		return nil
	}
	p, err := s.store.GetPayment(ctx, ev.Data.Reference)
	if errors.Is(err, ErrPaymentNotFound) {
		s.log.Warn("webhook for unknown reference", "reference", ev.Data.Reference)
		return nil
	}
	if err != nil {
		return err
	}
	_, err = s.settle(ctx, p, ev.Data)
	return err
}

func (s *Service) settle(ctx context.Context, p Payment, tx Transaction) (Payment, error) {
	plan, err := s.plans.Get(p.Plan)
	if err != nil {
		return Payment{}, err
	}
	status := StatusFailed
	switch {
	case tx.Status != "success":
		if tx.Status != "failed" && tx.Status != "abandoned" && tx.Status != "reversed" {
			// still in flight at the gateway
			return p, nil
		}
	case tx.AmountKobo != p.Amount.Mul(koboPerNaira).Round(0).IntPart():
		s.log.Warn("payment amount mismatch", "reference", p.Reference, "expected", p.Amount.StringFixed(2), "got_kobo", tx.AmountKobo)
	default:
		status = StatusSuccess
	}
	settled, applied, err := s.store.Settle(ctx, p.Reference, status, plan, s.now().UTC(), s.opts.Period)
	if err != nil {
		return Payment{}, err
	}
	if applied {
		s.log.Info("payment settled", "reference", p.Reference, "user_id", p.UserID, "status", status)
		if s.events != nil {
			if err := s.events.Record(ctx, EventPaymentSettled, p.Reference, settled); err != nil {
				s.log.Warn("event append failed", "type", EventPaymentSettled, "error", err)
			}
		}
	}
	return settled, nil
}

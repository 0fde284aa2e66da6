package quiz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mind-engage/certprep/internal/access"
	"github.com/mind-engage/certprep/internal/grading"
	"github.com/mind-engage/certprep/internal/logger"
)

const (
	EventSessionStarted   = "SessionStarted"
	EventSessionFinalized = "SessionFinalized"
)

// Recorder appends domain events; syncx.EventRepo satisfies it.
type Recorder interface {
	Record(ctx context.Context, typ, key string, data any) error
}

type Options struct {
	// EnforceTimer finalizes an expired session on its next engine call.
	EnforceTimer bool
	LockTTL      time.Duration
	// FinalizeWait bounds how long a finalize waits on another caller's
	// in-flight finalize before giving up with ErrFinalizeInProgress.
	FinalizeWait time.Duration
	SweepBatch   int
}

// Service is the session engine. One engine serves every variant; the
// variant picks the dataset and the question count.
type Service struct {
	store   Store
	gate    *access.Gate
	sampler *Sampler
	grader  grading.Grader
	locker  Locker
	events  Recorder
	log     *logger.Logger
	opts    Options
	now     func() time.Time
}

func NewService(store Store, gate *access.Gate, sampler *Sampler, grader grading.Grader, locker Locker, events Recorder, log *logger.Logger, opts Options) *Service {
	if sampler == nil {
		sampler = NewSampler(nil)
	}
	if grader == nil {
		grader = grading.NewDefaultGrader()
	}
	if locker == nil {
		locker = NewLocalLocker()
	}
	if log == nil {
		log = logger.Nop()
	}
	if opts.SweepBatch <= 0 {
		opts.SweepBatch = 100
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Second
	}
	if opts.FinalizeWait <= 0 {
		opts.FinalizeWait = 5 * time.Second
	}
	return &Service{
		store:   store,
		gate:    gate,
		sampler: sampler,
		grader:  grader,
		locker:  locker,
		events:  events,
		log:     log.With("service", "QuizEngine"),
		opts:    opts,
		now:     time.Now,
	}
}

// SetClock overrides the engine clock.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

func requiredCapability(v Variant) access.Capability {
	switch v {
	case VariantStandard:
		return access.StartStandard
	case VariantCustom:
		return access.StartCustom
	default:
		return access.StartTrial
	}
}

// Start authorizes the variant, samples the question set and persists the
// new session together with its sampled set.
func (s *Service) Start(ctx context.Context, userID, certificationID string, variant Variant, params StartParams) (Session, error) {
	if userID == "" {
		return Session{}, ErrNotAuthenticated
	}
	if !variant.Valid() {
		return Session{}, fmt.Errorf("%w: unknown variant %q", ErrInvalidInput, variant)
	}
	cert, err := s.store.GetCertification(ctx, certificationID)
	if err != nil {
		return Session{}, err
	}
	if s.gate != nil {
		grant := s.gate.Resolve(ctx, userID, certificationID)
		if !grant.Has(requiredCapability(variant)) {
			return Session{}, fmt.Errorf("%w: %s requires %s (decision %s)", ErrNotAuthorized, variant, requiredCapability(variant), grant.Decision)
		}
	}

	pool, err := s.store.ListQuestions(ctx, certificationID, variant.Dataset())
	if err != nil {
		return Session{}, err
	}

	sess := Session{
		ID:              uuid.NewString(),
		UserID:          userID,
		CertificationID: certificationID,
		Variant:         variant,
		CreatedAt:       s.now().UTC().Truncate(time.Second),
	}

	var count int
	switch variant {
	case VariantStandard:
		count = cert.QuestionCount
	case VariantTrial:
		count = cert.TrialQuestionCount
	case VariantCustom:
		if params.RequestedCount < 1 {
			return Session{}, fmt.Errorf("%w: requested_count must be at least 1", ErrInvalidInput)
		}
		count = params.RequestedCount
		rc, inc := params.RequestedCount, params.IncludeFlagged
		sess.RequestedCount, sess.IncludeFlagged = &rc, &inc
		if !params.IncludeFlagged {
			flags, err := s.store.ListFlags(ctx, userID, certificationID)
			if err != nil {
				return Session{}, err
			}
			ids := make([]string, len(flags))
			for i, f := range flags {
				ids[i] = f.QuestionID
			}
			pool = excludeFlagged(pool, ids)
		}
	}
	if len(pool) == 0 {
		return Session{}, ErrInsufficientQuestions
	}
	if count < 1 {
		count = len(pool)
	}

	set, err := s.sampler.Sample(pool, count)
	if err != nil {
		return Session{}, err
	}
	ids := make([]string, len(set))
	for i, q := range set {
		ids[i] = q.ID
	}
	sess.TotalQuestions = len(ids)

	if err := s.store.CreateSession(ctx, sess, ids); err != nil {
		return Session{}, err
	}
	s.log.Info("session started", "session", sess.ID, "user_id", userID, "certification", certificationID,
		"variant", variant, "questions", sess.TotalQuestions, "pool", len(pool))
	s.record(ctx, EventSessionStarted, sess.ID, sess)
	return sess, nil
}

// Session loads a session, applying timer enforcement when configured.
func (s *Service) Session(ctx context.Context, sessionID string) (Session, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	return s.enforceTimer(ctx, sess)
}

// Current returns the question under the cursor with its answer key hidden.
func (s *Service) Current(ctx context.Context, sessionID string) (Position, error) {
	sess, err := s.Session(ctx, sessionID)
	if err != nil {
		return Position{}, err
	}
	if sess.Completed {
		return Position{}, ErrAlreadyFinalized
	}
	ids, err := s.store.SessionQuestionIDs(ctx, sessionID)
	if err != nil {
		return Position{}, err
	}
	pos := Position{Session: sess, Index: sess.Cursor, Total: len(ids)}
	pos.RemainingSeconds, pos.Expired, err = s.remaining(ctx, sess)
	if err != nil {
		return Position{}, err
	}
	if sess.Cursor >= len(ids) {
		// past the last question: the caller must finalize
		return pos, nil
	}
	q, err := s.store.GetQuestion(ctx, ids[sess.Cursor])
	if err != nil {
		return Position{}, err
	}
	pos.Question = q.Public()
	if a, ok, err := s.store.GetAnswer(ctx, sessionID, q.ID); err != nil {
		return Position{}, err
	} else if ok {
		pos.Selected = a.Selected
	}
	if pos.Flagged, err = s.store.IsFlagged(ctx, sess.UserID, q.ID); err != nil {
		return Position{}, err
	}
	return pos, nil
}

// RecordAnswer computes correctness at write time and upserts the answer;
// re-recording overwrites. A nil selection records "don't know".
func (s *Service) RecordAnswer(ctx context.Context, sessionID, questionID string, selected *string) (Answer, error) {
	sess, err := s.Session(ctx, sessionID)
	if err != nil {
		return Answer{}, err
	}
	if sess.Completed {
		return Answer{}, ErrAlreadyFinalized
	}
	ids, err := s.store.SessionQuestionIDs(ctx, sessionID)
	if err != nil {
		return Answer{}, err
	}
	if !contains(ids, questionID) {
		return Answer{}, fmt.Errorf("%w: %s is not part of session %s", ErrQuestionNotFound, questionID, sessionID)
	}
	q, err := s.store.GetQuestion(ctx, questionID)
	if err != nil {
		return Answer{}, err
	}

	sel := normalizeSelection(selected, s.grader.Mode())
	a := Answer{
		SessionID:  sessionID,
		QuestionID: questionID,
		Selected:   sel,
		IsCorrect:  s.grader.Correct(q.CorrectAnswers, sel),
	}
	if err := s.store.UpsertAnswer(ctx, a); err != nil {
		return Answer{}, err
	}
	return a, nil
}

func normalizeSelection(selected *string, mode grading.Mode) *string {
	if selected == nil {
		return nil
	}
	var v string
	if mode == grading.ModeMulti {
		v = grading.JoinSelection(grading.SplitSelection(*selected))
	} else {
		v = NormalizeLetter(*selected)
	}
	if v == "" {
		return nil
	}
	return &v
}

// ToggleFlag flips the user's flag on a question and returns the new state.
// Flags outlive sessions, so finalization does not block toggling. A
// non-empty sessionID must name one of the user's sessions that contains the
// question. A transient store failure is retried once.
func (s *Service) ToggleFlag(ctx context.Context, userID, questionID, sessionID string) (bool, error) {
	if userID == "" {
		return false, ErrNotAuthenticated
	}
	if _, err := s.store.GetQuestion(ctx, questionID); err != nil {
		return false, err
	}
	if sessionID != "" {
		sess, err := s.store.GetSession(ctx, sessionID)
		if err != nil {
			return false, err
		}
		if sess.UserID != userID {
			return false, ErrSessionNotFound
		}
		ids, err := s.store.SessionQuestionIDs(ctx, sessionID)
		if err != nil {
			return false, err
		}
		if !contains(ids, questionID) {
			return false, fmt.Errorf("%w: %s is not part of session %s", ErrQuestionNotFound, questionID, sessionID)
		}
	}
	f := Flag{UserID: userID, QuestionID: questionID, SessionID: sessionID, CreatedAt: s.now().UTC()}
	flagged, err := s.store.ToggleFlag(ctx, f)
	if errors.Is(err, ErrStoreUnavailable) {
		s.log.Warn("flag toggle failed; retrying once", "user_id", userID, "question", questionID, "error", err)
		flagged, err = s.store.ToggleFlag(ctx, f)
	}
	if err != nil {
		return false, err
	}
	return flagged, nil
}

// Advance moves the cursor forward. hasNext is false once the cursor is past
// the last question; the caller must then Finalize.
func (s *Service) Advance(ctx context.Context, sessionID string) (bool, error) {
	return s.move(ctx, sessionID, +1)
}

// Previous moves the cursor back, stopping at the first question.
func (s *Service) Previous(ctx context.Context, sessionID string) (bool, error) {
	return s.move(ctx, sessionID, -1)
}

func (s *Service) move(ctx context.Context, sessionID string, delta int) (bool, error) {
	sess, err := s.Session(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if sess.Completed {
		return false, ErrAlreadyFinalized
	}
	next := sess.Cursor + delta
	if next < 0 {
		next = 0
	}
	if next > sess.TotalQuestions {
		next = sess.TotalQuestions
	}
	if next != sess.Cursor {
		if err := s.store.SetCursor(ctx, sessionID, next); err != nil {
			return false, err
		}
	}
	return next < sess.TotalQuestions, nil
}

// Finalize ends the session and persists its score exactly once. A second
// call returns the stored session with ErrAlreadyFinalized. A caller that
// finds another finalize in flight waits for it: if the holder commits it gets
// ErrAlreadyFinalized, if the holder fails it finalizes the session itself.
func (s *Service) Finalize(ctx context.Context, sessionID string) (Session, error) {
	deadline := time.Now().Add(s.opts.FinalizeWait)
	for {
		unlock, ok, err := s.locker.TryLock(ctx, "finalize:"+sessionID, s.opts.LockTTL)
		if err != nil {
			return Session{}, err
		}
		if ok {
			return s.finalizeLocked(ctx, sessionID, unlock)
		}
		sess, err := s.store.GetSession(ctx, sessionID)
		if err != nil {
			return Session{}, err
		}
		if sess.Completed {
			return sess, ErrAlreadyFinalized
		}
		if !time.Now().Before(deadline) {
			return sess, ErrFinalizeInProgress
		}
		select {
		case <-ctx.Done():
			return Session{}, ctx.Err()
		case <-time.After(finalizePoll):
		}
	}
}

const finalizePoll = 20 * time.Millisecond

func (s *Service) finalizeLocked(ctx context.Context, sessionID string, unlock func()) (Session, error) {
	defer unlock()
	sess, err := s.store.FinalizeSession(ctx, sessionID, s.now().UTC(), s.score)
	if err != nil {
		return sess, err
	}
	s.log.Info("session finalized", "session", sess.ID, "user_id", sess.UserID, "score", *sess.Score)
	s.record(ctx, EventSessionFinalized, sess.ID, sess)
	return sess, nil
}

func (s *Service) score(answers []Answer, total int) int {
	results := make([]bool, len(answers))
	for i, a := range answers {
		results[i] = a.IsCorrect
	}
	return grading.Score(grading.CountCorrect(results), total)
}

// Results renders a finalized session from its stored answers.
func (s *Service) Results(ctx context.Context, sessionID string) (SessionResult, error) {
	sess, err := s.Session(ctx, sessionID)
	if err != nil {
		return SessionResult{}, err
	}
	if !sess.Completed {
		return SessionResult{}, fmt.Errorf("%w: session %s is still in progress", ErrInvalidInput, sessionID)
	}
	ids, err := s.store.SessionQuestionIDs(ctx, sessionID)
	if err != nil {
		return SessionResult{}, err
	}
	questions, err := s.store.GetQuestions(ctx, ids)
	if err != nil {
		return SessionResult{}, err
	}
	answers, err := s.store.ListAnswers(ctx, sessionID)
	if err != nil {
		return SessionResult{}, err
	}
	res := SessionResult{Session: sess, Items: make([]ResultItem, 0, len(ids))}
	byQ := make(map[string]Answer, len(answers))
	for _, a := range answers {
		byQ[a.QuestionID] = a
		// per answer row, matching the stored score
		if a.IsCorrect {
			res.Correct++
		}
	}
	for i, id := range ids {
		q := questions[id]
		a := byQ[id]
		res.Items = append(res.Items, ResultItem{
			Position:       i,
			Question:       q,
			Selected:       a.Selected,
			IsCorrect:      a.IsCorrect,
			CorrectAnswers: q.CorrectAnswers,
		})
	}
	return res, nil
}

// ListSessions returns a user's session history.
func (s *Service) ListSessions(ctx context.Context, opts SessionListOpts) ([]Session, error) {
	return s.store.ListSessions(ctx, opts)
}

// SweepAbandoned finalizes in-progress sessions created before cutoff and
// returns how many it closed.
func (s *Service) SweepAbandoned(ctx context.Context, cutoff time.Time) (int, error) {
	ids, err := s.store.StaleSessions(ctx, cutoff, s.opts.SweepBatch)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		if _, err := s.Finalize(ctx, id); err != nil {
			if errors.Is(err, ErrAlreadyFinalized) {
				continue
			}
			s.log.Warn("sweep finalize failed", "session", id, "error", err)
			continue
		}
		n++
	}
	return n, nil
}

// remaining reports the countdown; nil when the certification is untimed.
func (s *Service) remaining(ctx context.Context, sess Session) (*int, bool, error) {
	cert, err := s.store.GetCertification(ctx, sess.CertificationID)
	if err != nil {
		return nil, false, err
	}
	if cert.Duration() <= 0 {
		return nil, false, nil
	}
	deadline := sess.CreatedAt.Add(cert.Duration())
	now := s.now()
	// whole seconds for display; expiry is decided on the exact instant
	left := int(deadline.Sub(now).Seconds())
	if left < 0 {
		left = 0
	}
	return &left, !now.Before(deadline), nil
}

func (s *Service) enforceTimer(ctx context.Context, sess Session) (Session, error) {
	if !s.opts.EnforceTimer || sess.Completed {
		return sess, nil
	}
	_, expired, err := s.remaining(ctx, sess)
	if err != nil || !expired {
		return sess, err
	}
	s.log.Info("session timer expired; finalizing", "session", sess.ID)
	done, err := s.Finalize(ctx, sess.ID)
	switch {
	case errors.Is(err, ErrFinalizeInProgress):
		return sess, nil
	case err != nil && !errors.Is(err, ErrAlreadyFinalized):
		return Session{}, err
	}
	return done, nil
}

func (s *Service) record(ctx context.Context, typ, key string, data any) {
	if s.events == nil {
		return
	}
	if err := s.events.Record(ctx, typ, key, data); err != nil {
		s.log.Warn("event append failed", "type", typ, "key", key, "error", err)
	}
}

func contains(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

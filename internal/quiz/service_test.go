package quiz_test

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/certprep/internal/access"
	"github.com/mind-engage/certprep/internal/db"
	"github.com/mind-engage/certprep/internal/grading"
	"github.com/mind-engage/certprep/internal/quiz"
)

type subs map[string]access.Subscription

func (s subs) GetSubscription(_ context.Context, userID string) (access.Subscription, error) {
	if sub, ok := s[userID]; ok {
		return sub, nil
	}
	return access.Subscription{UserID: userID, Tier: access.TierFree}, nil
}

type fixture struct {
	store *quiz.SQLStore
	svc   *quiz.Service
	now   time.Time
}

func ptr(s string) *string { return &s }

// newFixture seeds certification "X" with n standard and 2 trial questions;
// every standard question's correct answer is "B". Certification "Y" exists
// for cross-certification checks.
func newFixture(t *testing.T, n int, opts quiz.Options, grader grading.Grader) *fixture {
	t.Helper()
	ctx := context.Background()
	dbh, err := db.Open(ctx, db.DriverSQLite, "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = dbh.Close() })

	st := quiz.NewSQLStore(dbh)
	require.NoError(t, st.PutCertification(ctx, quiz.Certification{ID: "X", Name: "Cert X", DurationMinutes: 30, QuestionCount: n, TrialQuestionCount: 2}))
	require.NoError(t, st.PutCertification(ctx, quiz.Certification{ID: "Y", Name: "Cert Y", QuestionCount: 1, TrialQuestionCount: 1}))
	for i := 0; i < n; i++ {
		require.NoError(t, st.PutQuestion(ctx, quiz.Question{
			ID: fmt.Sprintf("x%d", i), CertificationID: "X", Dataset: quiz.DatasetStandard, Active: true,
			Text: fmt.Sprintf("question %d", i), Options: []string{"A. one", "B. two", "C. three"},
			CorrectAnswers: []string{"B", "C"}, Explanation: "B it is", SubTopic: "networking",
		}))
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, st.PutQuestion(ctx, quiz.Question{
			ID: fmt.Sprintf("t%d", i), CertificationID: "X", Dataset: quiz.DatasetTrial, Active: true,
			Text: "trial", Options: []string{"A. yes", "B. no"}, CorrectAnswers: []string{"A"},
		}))
	}
	require.NoError(t, st.PutQuestion(ctx, quiz.Question{
		ID: "y0", CertificationID: "Y", Dataset: quiz.DatasetStandard, Active: true,
		Text: "y", Options: []string{"A. yes", "B. no"}, CorrectAnswers: []string{"A"},
	}))

	gate := access.NewGate(subs{
		"full":   {Tier: access.TierAllAccess},
		"std-x":  {Tier: access.TierStandard, CertificationID: "X"},
		"std-y":  {Tier: access.TierStandard, CertificationID: "Y"},
		"expire": {Tier: access.TierAllAccess, ExpiresAt: timePtr(time.Now().Add(-time.Hour))},
	}, nil)
	svc := quiz.NewService(st, gate, quiz.NewSampler(rand.NewSource(1)), grader, nil, nil, nil, opts)
	f := &fixture{store: st, svc: svc, now: time.Now().UTC().Truncate(time.Second)}
	svc.SetClock(func() time.Time { return f.now })
	return f
}

func timePtr(t time.Time) *time.Time { return &t }

// answerAll walks the session with Current/RecordAnswer/Advance.
func answerAll(t *testing.T, f *fixture, sessionID string, pick func(q quiz.Question) *string) {
	t.Helper()
	ctx := context.Background()
	for {
		pos, err := f.svc.Current(ctx, sessionID)
		require.NoError(t, err)
		if pos.Index >= pos.Total {
			return
		}
		_, err = f.svc.RecordAnswer(ctx, sessionID, pos.Question.ID, pick(pos.Question))
		require.NoError(t, err)
		_, err = f.svc.Advance(ctx, sessionID)
		require.NoError(t, err)
	}
}

func TestScenarioA_AllCorrect(t *testing.T) {
	f := newFixture(t, 5, quiz.Options{}, nil)
	ctx := context.Background()

	sess, err := f.svc.Start(ctx, "full", "X", quiz.VariantStandard, quiz.StartParams{})
	require.NoError(t, err)
	assert.Equal(t, 5, sess.TotalQuestions)
	assert.False(t, sess.Completed)
	assert.Nil(t, sess.Score)
	assert.Nil(t, sess.EndedAt)

	answerAll(t, f, sess.ID, func(quiz.Question) *string { return ptr("B") })
	done, err := f.svc.Finalize(ctx, sess.ID)
	require.NoError(t, err)
	require.True(t, done.Completed)
	require.NotNil(t, done.EndedAt)
	require.NotNil(t, done.Score)
	assert.Equal(t, 100, *done.Score)
}

func TestScenarioB_AllDontKnow(t *testing.T) {
	f := newFixture(t, 5, quiz.Options{}, nil)
	ctx := context.Background()

	sess, err := f.svc.Start(ctx, "full", "X", quiz.VariantStandard, quiz.StartParams{})
	require.NoError(t, err)
	answerAll(t, f, sess.ID, func(quiz.Question) *string { return nil })

	done, err := f.svc.Finalize(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, *done.Score)

	answers, err := f.store.ListAnswers(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, answers, 5)
	for _, a := range answers {
		assert.Nil(t, a.Selected)
		assert.False(t, a.IsCorrect)
	}
}

func TestUnansweredQuestionsCountAgainstScore(t *testing.T) {
	f := newFixture(t, 4, quiz.Options{}, nil)
	ctx := context.Background()

	sess, err := f.svc.Start(ctx, "full", "X", quiz.VariantStandard, quiz.StartParams{})
	require.NoError(t, err)
	pos, err := f.svc.Current(ctx, sess.ID)
	require.NoError(t, err)
	_, err = f.svc.RecordAnswer(ctx, sess.ID, pos.Question.ID, ptr("b"))
	require.NoError(t, err)

	done, err := f.svc.Finalize(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 25, *done.Score)
}

func TestRecordAnswerIsIdempotent(t *testing.T) {
	f := newFixture(t, 3, quiz.Options{}, nil)
	ctx := context.Background()

	sess, err := f.svc.Start(ctx, "full", "X", quiz.VariantStandard, quiz.StartParams{})
	require.NoError(t, err)
	pos, err := f.svc.Current(ctx, sess.ID)
	require.NoError(t, err)

	a, err := f.svc.RecordAnswer(ctx, sess.ID, pos.Question.ID, ptr("A"))
	require.NoError(t, err)
	assert.False(t, a.IsCorrect)
	a, err = f.svc.RecordAnswer(ctx, sess.ID, pos.Question.ID, ptr("B"))
	require.NoError(t, err)
	assert.True(t, a.IsCorrect)

	answers, err := f.store.ListAnswers(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.Equal(t, "B", *answers[0].Selected)
	assert.True(t, answers[0].IsCorrect)
}

func TestSingleModeUsesFirstCorrectLetterOnly(t *testing.T) {
	f := newFixture(t, 1, quiz.Options{}, nil)
	ctx := context.Background()
	sess, err := f.svc.Start(ctx, "full", "X", quiz.VariantStandard, quiz.StartParams{})
	require.NoError(t, err)

	a, err := f.svc.RecordAnswer(ctx, sess.ID, "x0", ptr("C"))
	require.NoError(t, err)
	assert.False(t, a.IsCorrect)
}

func TestMultiModeRequiresFullSet(t *testing.T) {
	f := newFixture(t, 1, quiz.Options{}, grading.NewDefaultGrader(grading.WithMode(grading.ModeMulti)))
	ctx := context.Background()
	sess, err := f.svc.Start(ctx, "full", "X", quiz.VariantStandard, quiz.StartParams{})
	require.NoError(t, err)

	a, err := f.svc.RecordAnswer(ctx, sess.ID, "x0", ptr("B"))
	require.NoError(t, err)
	assert.False(t, a.IsCorrect)
	a, err = f.svc.RecordAnswer(ctx, sess.ID, "x0", ptr("c, b"))
	require.NoError(t, err)
	assert.True(t, a.IsCorrect)
	assert.Equal(t, "B,C", *a.Selected)
}

func TestRecordAnswerRejectsForeignQuestion(t *testing.T) {
	f := newFixture(t, 2, quiz.Options{}, nil)
	ctx := context.Background()
	sess, err := f.svc.Start(ctx, "full", "X", quiz.VariantStandard, quiz.StartParams{})
	require.NoError(t, err)

	_, err = f.svc.RecordAnswer(ctx, sess.ID, "y0", ptr("A"))
	assert.ErrorIs(t, err, quiz.ErrQuestionNotFound)
}

func TestFinalizeTwice(t *testing.T) {
	f := newFixture(t, 2, quiz.Options{}, nil)
	ctx := context.Background()
	sess, err := f.svc.Start(ctx, "full", "X", quiz.VariantStandard, quiz.StartParams{})
	require.NoError(t, err)

	first, err := f.svc.Finalize(ctx, sess.ID)
	require.NoError(t, err)

	second, err := f.svc.Finalize(ctx, sess.ID)
	require.ErrorIs(t, err, quiz.ErrAlreadyFinalized)
	require.NotNil(t, second.Score)
	assert.Equal(t, *first.Score, *second.Score)

	_, err = f.svc.RecordAnswer(ctx, sess.ID, "x0", ptr("B"))
	assert.ErrorIs(t, err, quiz.ErrAlreadyFinalized)
	_, err = f.svc.Advance(ctx, sess.ID)
	assert.ErrorIs(t, err, quiz.ErrAlreadyFinalized)
}

func TestConcurrentFinalizeScoresOnce(t *testing.T) {
	f := newFixture(t, 3, quiz.Options{}, nil)
	ctx := context.Background()
	sess, err := f.svc.Start(ctx, "full", "X", quiz.VariantStandard, quiz.StartParams{})
	require.NoError(t, err)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Finalize(ctx, sess.ID)
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, quiz.ErrAlreadyFinalized)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
}

func TestScenarioD_StandardTierOtherCertificationIsTrialOnly(t *testing.T) {
	f := newFixture(t, 3, quiz.Options{}, nil)
	ctx := context.Background()

	_, err := f.svc.Start(ctx, "std-y", "X", quiz.VariantStandard, quiz.StartParams{})
	require.ErrorIs(t, err, quiz.ErrNotAuthorized)

	sess, err := f.svc.Start(ctx, "std-y", "X", quiz.VariantTrial, quiz.StartParams{})
	require.NoError(t, err)
	assert.Equal(t, 2, sess.TotalQuestions)

	_, err = f.svc.Start(ctx, "std-x", "X", quiz.VariantStandard, quiz.StartParams{})
	require.NoError(t, err)
	_, err = f.svc.Start(ctx, "std-x", "X", quiz.VariantCustom, quiz.StartParams{RequestedCount: 2})
	require.ErrorIs(t, err, quiz.ErrNotAuthorized)

	_, err = f.svc.Start(ctx, "expire", "X", quiz.VariantStandard, quiz.StartParams{})
	require.ErrorIs(t, err, quiz.ErrNotAuthorized)
}

func TestTrialDrawsFromTrialDataset(t *testing.T) {
	f := newFixture(t, 3, quiz.Options{}, nil)
	ctx := context.Background()
	sess, err := f.svc.Start(ctx, "nobody", "X", quiz.VariantTrial, quiz.StartParams{})
	require.NoError(t, err)

	ids, err := f.store.SessionQuestionIDs(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	for _, id := range ids {
		assert.Contains(t, []string{"t0", "t1"}, id)
	}
}

func TestStartErrors(t *testing.T) {
	f := newFixture(t, 3, quiz.Options{}, nil)
	ctx := context.Background()

	_, err := f.svc.Start(ctx, "", "X", quiz.VariantTrial, quiz.StartParams{})
	assert.ErrorIs(t, err, quiz.ErrNotAuthenticated)
	_, err = f.svc.Start(ctx, "full", "nope", quiz.VariantTrial, quiz.StartParams{})
	assert.ErrorIs(t, err, quiz.ErrCertificationNotFound)
	_, err = f.svc.Start(ctx, "full", "X", quiz.Variant("speed"), quiz.StartParams{})
	assert.ErrorIs(t, err, quiz.ErrInvalidInput)
	_, err = f.svc.Start(ctx, "full", "X", quiz.VariantCustom, quiz.StartParams{})
	assert.ErrorIs(t, err, quiz.ErrInvalidInput)
}

func TestCustomUndersizedPoolPads(t *testing.T) {
	f := newFixture(t, 3, quiz.Options{}, nil)
	ctx := context.Background()

	sess, err := f.svc.Start(ctx, "full", "X", quiz.VariantCustom, quiz.StartParams{RequestedCount: 10, IncludeFlagged: true})
	require.NoError(t, err)
	assert.Equal(t, 10, sess.TotalQuestions)
	require.NotNil(t, sess.RequestedCount)
	assert.Equal(t, 10, *sess.RequestedCount)

	ids, err := f.store.SessionQuestionIDs(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, ids, 10)
	assert.ElementsMatch(t, []string{"x0", "x1", "x2"}, ids[:3])
}

func TestCustomExcludesFlagged(t *testing.T) {
	f := newFixture(t, 3, quiz.Options{}, nil)
	ctx := context.Background()

	for _, id := range []string{"x0", "x1"} {
		on, err := f.svc.ToggleFlag(ctx, "full", id, "")
		require.NoError(t, err)
		require.True(t, on)
	}
	sess, err := f.svc.Start(ctx, "full", "X", quiz.VariantCustom, quiz.StartParams{RequestedCount: 4})
	require.NoError(t, err)
	ids, err := f.store.SessionQuestionIDs(ctx, sess.ID)
	require.NoError(t, err)
	for _, id := range ids {
		assert.Equal(t, "x2", id)
	}

	_, err = f.svc.ToggleFlag(ctx, "full", "x2", sess.ID)
	require.NoError(t, err)
	_, err = f.svc.Start(ctx, "full", "X", quiz.VariantCustom, quiz.StartParams{RequestedCount: 4})
	assert.ErrorIs(t, err, quiz.ErrInsufficientQuestions)

	_, err = f.svc.Start(ctx, "full", "X", quiz.VariantCustom, quiz.StartParams{RequestedCount: 4, IncludeFlagged: true})
	assert.NoError(t, err)
}

func TestScenarioE_ToggleFlagTwice(t *testing.T) {
	f := newFixture(t, 2, quiz.Options{}, nil)
	ctx := context.Background()
	sess, err := f.svc.Start(ctx, "full", "X", quiz.VariantStandard, quiz.StartParams{})
	require.NoError(t, err)

	on, err := f.svc.ToggleFlag(ctx, "full", "x0", sess.ID)
	require.NoError(t, err)
	assert.True(t, on)
	off, err := f.svc.ToggleFlag(ctx, "full", "x0", sess.ID)
	require.NoError(t, err)
	assert.False(t, off)

	flagged, err := f.store.IsFlagged(ctx, "full", "x0")
	require.NoError(t, err)
	assert.False(t, flagged)

	_, err = f.svc.Finalize(ctx, sess.ID)
	require.NoError(t, err)
	on, err = f.svc.ToggleFlag(ctx, "full", "x0", sess.ID)
	require.NoError(t, err)
	assert.True(t, on, "flags are independent of session completion")

	flags, err := f.store.ListFlags(ctx, "full", "X")
	require.NoError(t, err)
	require.Len(t, flags, 1)
	assert.Equal(t, sess.ID, flags[0].SessionID)
}

func TestAdvanceAndPrevious(t *testing.T) {
	f := newFixture(t, 2, quiz.Options{}, nil)
	ctx := context.Background()
	sess, err := f.svc.Start(ctx, "full", "X", quiz.VariantStandard, quiz.StartParams{})
	require.NoError(t, err)

	more, err := f.svc.Previous(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, more)

	first, err := f.svc.Current(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, first.Index)
	assert.Nil(t, first.Question.CorrectAnswers, "answer key hidden while in progress")
	require.NotNil(t, first.RemainingSeconds)
	assert.Equal(t, 30*60, *first.RemainingSeconds)

	_, err = f.svc.RecordAnswer(ctx, sess.ID, first.Question.ID, ptr("A"))
	require.NoError(t, err)

	more, err = f.svc.Advance(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, more)
	more, err = f.svc.Advance(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, more)
	more, err = f.svc.Advance(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, more, "cursor stops past the last question")

	_, err = f.svc.Previous(ctx, sess.ID)
	require.NoError(t, err)
	_, err = f.svc.Previous(ctx, sess.ID)
	require.NoError(t, err)
	back, err := f.svc.Current(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Question.ID, back.Question.ID)
	require.NotNil(t, back.Selected)
	assert.Equal(t, "A", *back.Selected)
}

func TestTimerAdvisoryByDefault(t *testing.T) {
	f := newFixture(t, 2, quiz.Options{}, nil)
	ctx := context.Background()
	sess, err := f.svc.Start(ctx, "full", "X", quiz.VariantStandard, quiz.StartParams{})
	require.NoError(t, err)

	f.now = f.now.Add(time.Hour)
	pos, err := f.svc.Current(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, pos.Expired)
	assert.Equal(t, 0, *pos.RemainingSeconds)
	assert.False(t, pos.Session.Completed)
}

func TestTimerEnforced(t *testing.T) {
	f := newFixture(t, 2, quiz.Options{EnforceTimer: true}, nil)
	ctx := context.Background()
	sess, err := f.svc.Start(ctx, "full", "X", quiz.VariantStandard, quiz.StartParams{})
	require.NoError(t, err)

	f.now = f.now.Add(31 * time.Minute)
	_, err = f.svc.RecordAnswer(ctx, sess.ID, "x0", ptr("B"))
	require.ErrorIs(t, err, quiz.ErrAlreadyFinalized)

	got, err := f.store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, got.Completed)
	assert.Equal(t, 0, *got.Score)
}

func TestSweepAbandoned(t *testing.T) {
	f := newFixture(t, 2, quiz.Options{}, nil)
	ctx := context.Background()
	old, err := f.svc.Start(ctx, "full", "X", quiz.VariantStandard, quiz.StartParams{})
	require.NoError(t, err)

	f.now = f.now.Add(48 * time.Hour)
	fresh, err := f.svc.Start(ctx, "full", "X", quiz.VariantStandard, quiz.StartParams{})
	require.NoError(t, err)

	n, err := f.svc.SweepAbandoned(ctx, f.now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.store.GetSession(ctx, old.ID)
	require.NoError(t, err)
	assert.True(t, got.Completed)
	got, err = f.store.GetSession(ctx, fresh.ID)
	require.NoError(t, err)
	assert.False(t, got.Completed)
}

func TestResults(t *testing.T) {
	f := newFixture(t, 3, quiz.Options{}, nil)
	ctx := context.Background()
	sess, err := f.svc.Start(ctx, "full", "X", quiz.VariantStandard, quiz.StartParams{})
	require.NoError(t, err)

	_, err = f.svc.Results(ctx, sess.ID)
	require.ErrorIs(t, err, quiz.ErrInvalidInput)

	i := 0
	answerAll(t, f, sess.ID, func(quiz.Question) *string {
		i++
		if i == 1 {
			return ptr("B")
		}
		return ptr("A")
	})
	done, err := f.svc.Finalize(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 33, *done.Score)

	res, err := f.svc.Results(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Correct)
	require.Len(t, res.Items, 3)
	assert.True(t, res.Items[0].IsCorrect)
	assert.Equal(t, []string{"B", "C"}, res.Items[0].CorrectAnswers)
	assert.Equal(t, "B it is", res.Items[0].Question.Explanation)

	list, err := f.svc.ListSessions(ctx, quiz.SessionListOpts{UserID: "full", Status: "completed"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, sess.ID, list[0].ID)
}

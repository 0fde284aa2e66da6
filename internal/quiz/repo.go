package quiz

import (
	"context"
	"time"
)

// ScoreFunc computes the final percentage from the recorded answers and the
// size of the sampled set. It runs inside the finalize transaction.
type ScoreFunc func(answers []Answer, total int) int

// Store is the data-store collaborator of the engine: the question bank
// accessor plus session, answer and flag persistence.
type Store interface {
	PutCertification(ctx context.Context, c Certification) error
	GetCertification(ctx context.Context, id string) (Certification, error)
	ListCertifications(ctx context.Context) ([]Certification, error)

	PutQuestion(ctx context.Context, q Question) error
	GetQuestion(ctx context.Context, id string) (Question, error)      // with answer key
	ListQuestions(ctx context.Context, certID string, ds Dataset) ([]Question, error)
	GetQuestions(ctx context.Context, ids []string) (map[string]Question, error)

	CreateSession(ctx context.Context, s Session, questionIDs []string) error
	GetSession(ctx context.Context, id string) (Session, error)
	ListSessions(ctx context.Context, opts SessionListOpts) ([]Session, error)
	SessionQuestionIDs(ctx context.Context, sessionID string) ([]string, error)
	SetCursor(ctx context.Context, sessionID string, cursor int) error
	FinalizeSession(ctx context.Context, sessionID string, endedAt time.Time, score ScoreFunc) (Session, error)
	StaleSessions(ctx context.Context, createdBefore time.Time, limit int) ([]string, error)

	UpsertAnswer(ctx context.Context, a Answer) error // ErrAlreadyFinalized once completed
	GetAnswer(ctx context.Context, sessionID, questionID string) (Answer, bool, error)
	ListAnswers(ctx context.Context, sessionID string) ([]Answer, error)

	ToggleFlag(ctx context.Context, f Flag) (bool, error)
	IsFlagged(ctx context.Context, userID, questionID string) (bool, error)
	ListFlags(ctx context.Context, userID, certID string) ([]Flag, error)
}

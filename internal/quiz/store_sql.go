package quiz

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) PutCertification(ctx context.Context, c Certification) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO certifications (id,name,duration_minutes,question_count,trial_question_count,created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, duration_minutes=EXCLUDED.duration_minutes,
			question_count=EXCLUDED.question_count, trial_question_count=EXCLUDED.trial_question_count`,
		c.ID, c.Name, c.DurationMinutes, c.QuestionCount, c.TrialQuestionCount, time.Now().Unix())
	return storeErr("put certification", err)
}

func (s *SQLStore) GetCertification(ctx context.Context, id string) (Certification, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,name,duration_minutes,question_count,trial_question_count
		FROM certifications WHERE id=$1`, id)
	var c Certification
	if err := row.Scan(&c.ID, &c.Name, &c.DurationMinutes, &c.QuestionCount, &c.TrialQuestionCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Certification{}, ErrCertificationNotFound
		}
		return Certification{}, storeErr("get certification", err)
	}
	return c, nil
}

func (s *SQLStore) ListCertifications(ctx context.Context) ([]Certification, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id,name,duration_minutes,question_count,trial_question_count
		FROM certifications ORDER BY name`)
	if err != nil {
		return nil, storeErr("list certifications", err)
	}
	defer rows.Close()
	out := []Certification{}
	for rows.Next() {
		var c Certification
		if err := rows.Scan(&c.ID, &c.Name, &c.DurationMinutes, &c.QuestionCount, &c.TrialQuestionCount); err != nil {
			return nil, storeErr("list certifications", err)
		}
		out = append(out, c)
	}
	return out, storeErr("list certifications", rows.Err())
}

func (s *SQLStore) PutQuestion(ctx context.Context, q Question) error {
	oj, err := json.Marshal(q.Options)
	if err != nil {
		return err
	}
	cj, err := json.Marshal(q.CorrectAnswers)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO questions
		(id,certification_id,dataset,text,options_json,correct_json,explanation,sub_topic,active,created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET certification_id=EXCLUDED.certification_id, dataset=EXCLUDED.dataset,
			text=EXCLUDED.text, options_json=EXCLUDED.options_json, correct_json=EXCLUDED.correct_json,
			explanation=EXCLUDED.explanation, sub_topic=EXCLUDED.sub_topic, active=EXCLUDED.active`,
		q.ID, q.CertificationID, string(q.Dataset), q.Text, string(oj), string(cj), q.Explanation, q.SubTopic, q.Active, time.Now().Unix())
	return storeErr("put question", err)
}

const questionCols = `id,certification_id,dataset,text,options_json,correct_json,explanation,sub_topic,active`

type scanner interface {
	Scan(dest ...any) error
}

func scanQuestion(sc scanner) (Question, error) {
	var q Question
	var ds, oj, cj string
	if err := sc.Scan(&q.ID, &q.CertificationID, &ds, &q.Text, &oj, &cj, &q.Explanation, &q.SubTopic, &q.Active); err != nil {
		return Question{}, err
	}
	q.Dataset = Dataset(ds)
	if err := json.Unmarshal([]byte(oj), &q.Options); err != nil {
		return Question{}, fmt.Errorf("question %s options: %w", q.ID, err)
	}
	if err := json.Unmarshal([]byte(cj), &q.CorrectAnswers); err != nil {
		return Question{}, fmt.Errorf("question %s answer key: %w", q.ID, err)
	}
	return q, nil
}

func (s *SQLStore) GetQuestion(ctx context.Context, id string) (Question, error) {
	q, err := scanQuestion(s.db.QueryRowContext(ctx, `SELECT `+questionCols+` FROM questions WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Question{}, ErrQuestionNotFound
		}
		return Question{}, storeErr("get question", err)
	}
	return q, nil
}

func (s *SQLStore) ListQuestions(ctx context.Context, certID string, ds Dataset) ([]Question, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+questionCols+` FROM questions
		WHERE certification_id=$1 AND dataset=$2 AND active=$3 ORDER BY id`, certID, string(ds), true)
	if err != nil {
		return nil, storeErr("list questions", err)
	}
	defer rows.Close()
	var out []Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, storeErr("list questions", err)
		}
		out = append(out, q)
	}
	return out, storeErr("list questions", rows.Err())
}

func (s *SQLStore) GetQuestions(ctx context.Context, ids []string) (map[string]Question, error) {
	out := make(map[string]Question, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	ph := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		ph[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+questionCols+` FROM questions WHERE id IN (`+strings.Join(ph, ",")+`)`, args...)
	if err != nil {
		return nil, storeErr("get questions", err)
	}
	defer rows.Close()
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, storeErr("get questions", err)
		}
		out[q.ID] = q
	}
	return out, storeErr("get questions", rows.Err())
}

func (s *SQLStore) CreateSession(ctx context.Context, sess Session, questionIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("create session", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var reqCount sql.NullInt64
	if sess.RequestedCount != nil {
		reqCount = sql.NullInt64{Int64: int64(*sess.RequestedCount), Valid: true}
	}
	var inclFlagged sql.NullBool
	if sess.IncludeFlagged != nil {
		inclFlagged = sql.NullBool{Bool: *sess.IncludeFlagged, Valid: true}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO sessions
		(id,user_id,certification_id,variant,created_at,completed,requested_count,include_flagged,total_questions,cursor)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		sess.ID, sess.UserID, sess.CertificationID, string(sess.Variant), sess.CreatedAt.Unix(), false,
		reqCount, inclFlagged, sess.TotalQuestions, 0); err != nil {
		return storeErr("create session", err)
	}
	for i, qid := range questionIDs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO session_questions (session_id,position,question_id) VALUES ($1,$2,$3)`,
			sess.ID, i, qid); err != nil {
			return storeErr("create session", err)
		}
	}
	return storeErr("create session", tx.Commit())
}

const sessionCols = `id,user_id,certification_id,variant,created_at,ended_at,completed,score,requested_count,include_flagged,total_questions,cursor`

func scanSession(sc scanner) (Session, error) {
	var (
		sess        Session
		variant     string
		createdAt   int64
		endedAt     sql.NullInt64
		score       sql.NullInt64
		reqCount    sql.NullInt64
		inclFlagged sql.NullBool
	)
	if err := sc.Scan(&sess.ID, &sess.UserID, &sess.CertificationID, &variant, &createdAt, &endedAt,
		&sess.Completed, &score, &reqCount, &inclFlagged, &sess.TotalQuestions, &sess.Cursor); err != nil {
		return Session{}, err
	}
	sess.Variant = Variant(variant)
	sess.CreatedAt = time.Unix(createdAt, 0).UTC()
	if endedAt.Valid {
		t := time.Unix(endedAt.Int64, 0).UTC()
		sess.EndedAt = &t
	}
	if score.Valid {
		v := int(score.Int64)
		sess.Score = &v
	}
	if reqCount.Valid {
		v := int(reqCount.Int64)
		sess.RequestedCount = &v
	}
	if inclFlagged.Valid {
		v := inclFlagged.Bool
		sess.IncludeFlagged = &v
	}
	return sess, nil
}

func (s *SQLStore) GetSession(ctx context.Context, id string) (Session, error) {
	return getSession(ctx, s.db, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func getSession(ctx context.Context, q queryer, id string) (Session, error) {
	sess, err := scanSession(q.QueryRowContext(ctx, `SELECT `+sessionCols+` FROM sessions WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, storeErr("get session", err)
	}
	return sess, nil
}

func (s *SQLStore) ListSessions(ctx context.Context, opts SessionListOpts) ([]Session, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if opts.UserID != "" {
		add("user_id=$%d", opts.UserID)
	}
	if opts.CertificationID != "" {
		add("certification_id=$%d", opts.CertificationID)
	}
	switch opts.Status {
	case "completed":
		add("completed=$%d", true)
	case "in_progress":
		add("completed=$%d", false)
	}
	q := `SELECT ` + sessionCols + ` FROM sessions`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	limit := opts.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)
	q += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storeErr("list sessions", err)
	}
	defer rows.Close()
	out := []Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, storeErr("list sessions", err)
		}
		out = append(out, sess)
	}
	return out, storeErr("list sessions", rows.Err())
}

func (s *SQLStore) SessionQuestionIDs(ctx context.Context, sessionID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT question_id FROM session_questions WHERE session_id=$1 ORDER BY position`, sessionID)
	if err != nil {
		return nil, storeErr("session questions", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storeErr("session questions", err)
		}
		out = append(out, id)
	}
	return out, storeErr("session questions", rows.Err())
}

func (s *SQLStore) SetCursor(ctx context.Context, sessionID string, cursor int) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET cursor=$1 WHERE id=$2 AND completed=$3`, cursor, sessionID, false)
	if err != nil {
		return storeErr("set cursor", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.missingOrFinal(ctx, sessionID)
	}
	return nil
}

// missingOrFinal explains why a conditional session update touched no row.
func (s *SQLStore) missingOrFinal(ctx context.Context, sessionID string) error {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Completed {
		return ErrAlreadyFinalized
	}
	return nil
}

// FinalizeSession marks the session completed and stores its score in one
// transaction. The guarded update runs first so it holds the session row
// while answers are read; answer writes take the same row (see UpsertAnswer).
// A second call fails with ErrAlreadyFinalized and returns the stored session.
func (s *SQLStore) FinalizeSession(ctx context.Context, sessionID string, endedAt time.Time, score ScoreFunc) (Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Session{}, storeErr("finalize", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `UPDATE sessions SET completed=$1, ended_at=$2 WHERE id=$3 AND completed=$4`,
		true, endedAt.Unix(), sessionID, false)
	if err != nil {
		return Session{}, storeErr("finalize", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		sess, err := getSession(ctx, tx, sessionID)
		if err != nil {
			return Session{}, err
		}
		return sess, ErrAlreadyFinalized
	}
	sess, err := getSession(ctx, tx, sessionID)
	if err != nil {
		return Session{}, err
	}
	answers, err := listAnswers(ctx, tx, sessionID)
	if err != nil {
		return Session{}, err
	}
	pct := score(answers, sess.TotalQuestions)
	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET score=$1 WHERE id=$2`, pct, sessionID); err != nil {
		return Session{}, storeErr("finalize", err)
	}
	if err := tx.Commit(); err != nil {
		return Session{}, storeErr("finalize", err)
	}
	sess.Score = &pct
	return sess, nil
}

func (s *SQLStore) StaleSessions(ctx context.Context, createdBefore time.Time, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM sessions WHERE completed=$1 AND created_at < $2 ORDER BY created_at LIMIT $3`,
		false, createdBefore.Unix(), limit)
	if err != nil {
		return nil, storeErr("stale sessions", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storeErr("stale sessions", err)
		}
		out = append(out, id)
	}
	return out, storeErr("stale sessions", rows.Err())
}

// UpsertAnswer writes the answer only while the session is in progress. The
// guard update takes the session row first, so a concurrent finalize either
// sees this answer or makes the write fail with ErrAlreadyFinalized.
func (s *SQLStore) UpsertAnswer(ctx context.Context, a Answer) error {
	var sel sql.NullString
	if a.Selected != nil {
		sel = sql.NullString{String: *a.Selected, Valid: true}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("upsert answer", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `UPDATE sessions SET cursor=cursor WHERE id=$1 AND completed=$2`, a.SessionID, false)
	if err != nil {
		return storeErr("upsert answer", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := getSession(ctx, tx, a.SessionID); err != nil {
			return err
		}
		return ErrAlreadyFinalized
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO answers (session_id,question_id,selected,is_correct,answered_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (session_id,question_id) DO UPDATE SET selected=EXCLUDED.selected, is_correct=EXCLUDED.is_correct,
			answered_at=EXCLUDED.answered_at`,
		a.SessionID, a.QuestionID, sel, a.IsCorrect, time.Now().Unix()); err != nil {
		return storeErr("upsert answer", err)
	}
	return storeErr("upsert answer", tx.Commit())
}

func scanAnswer(sc scanner) (Answer, error) {
	var a Answer
	var sel sql.NullString
	if err := sc.Scan(&a.SessionID, &a.QuestionID, &sel, &a.IsCorrect); err != nil {
		return Answer{}, err
	}
	if sel.Valid {
		v := sel.String
		a.Selected = &v
	}
	return a, nil
}

func (s *SQLStore) GetAnswer(ctx context.Context, sessionID, questionID string) (Answer, bool, error) {
	a, err := scanAnswer(s.db.QueryRowContext(ctx, `SELECT session_id,question_id,selected,is_correct FROM answers
		WHERE session_id=$1 AND question_id=$2`, sessionID, questionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Answer{}, false, nil
		}
		return Answer{}, false, storeErr("get answer", err)
	}
	return a, true, nil
}

func (s *SQLStore) ListAnswers(ctx context.Context, sessionID string) ([]Answer, error) {
	return listAnswers(ctx, s.db, sessionID)
}

func listAnswers(ctx context.Context, q queryer, sessionID string) ([]Answer, error) {
	rows, err := q.QueryContext(ctx, `SELECT session_id,question_id,selected,is_correct FROM answers
		WHERE session_id=$1 ORDER BY question_id`, sessionID)
	if err != nil {
		return nil, storeErr("list answers", err)
	}
	defer rows.Close()
	var out []Answer
	for rows.Next() {
		a, err := scanAnswer(rows)
		if err != nil {
			return nil, storeErr("list answers", err)
		}
		out = append(out, a)
	}
	return out, storeErr("list answers", rows.Err())
}

// ToggleFlag inserts the flag if absent and deletes it otherwise, returning
// the resulting state.
func (s *SQLStore) ToggleFlag(ctx context.Context, f Flag) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, storeErr("toggle flag", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `DELETE FROM flags WHERE user_id=$1 AND question_id=$2`, f.UserID, f.QuestionID)
	if err != nil {
		return false, storeErr("toggle flag", err)
	}
	flagged := false
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := tx.ExecContext(ctx, `INSERT INTO flags (user_id,question_id,session_id,created_at) VALUES ($1,$2,$3,$4)`,
			f.UserID, f.QuestionID, f.SessionID, f.CreatedAt.Unix()); err != nil {
			return false, storeErr("toggle flag", err)
		}
		flagged = true
	}
	return flagged, storeErr("toggle flag", tx.Commit())
}

func (s *SQLStore) IsFlagged(ctx context.Context, userID, questionID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM flags WHERE user_id=$1 AND question_id=$2`, userID, questionID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storeErr("is flagged", err)
	}
	return true, nil
}

// ListFlags returns the user's flags, optionally limited to one certification.
func (s *SQLStore) ListFlags(ctx context.Context, userID, certID string) ([]Flag, error) {
	q := `SELECT f.user_id,f.question_id,f.session_id,f.created_at FROM flags f
		JOIN questions q ON q.id = f.question_id WHERE f.user_id=$1`
	args := []any{userID}
	if certID != "" {
		q += ` AND q.certification_id=$2`
		args = append(args, certID)
	}
	q += ` ORDER BY f.created_at DESC, f.question_id`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storeErr("list flags", err)
	}
	defer rows.Close()
	out := []Flag{}
	for rows.Next() {
		var f Flag
		var created int64
		if err := rows.Scan(&f.UserID, &f.QuestionID, &f.SessionID, &created); err != nil {
			return nil, storeErr("list flags", err)
		}
		f.CreatedAt = time.Unix(created, 0).UTC()
		out = append(out, f)
	}
	return out, storeErr("list flags", rows.Err())
}

// Package stats aggregates a learner's finished work into descriptive
// progress figures. Nothing here feeds back into scoring or access.
package stats

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"
)

type CertificationProgress struct {
	CertificationID   string     `json:"certification_id"`
	CertificationName string     `json:"certification_name"`
	SessionsCompleted int        `json:"sessions_completed"`
	AverageScore      float64    `json:"average_score"`
	BestScore         int        `json:"best_score"`
	LastTakenAt       *time.Time `json:"last_taken_at,omitempty"`
	FlaggedQuestions  int        `json:"flagged_questions"`
}

type SubTopicProgress struct {
	SubTopic string  `json:"sub_topic"`
	Answered int     `json:"answered"`
	Correct  int     `json:"correct"`
	Accuracy float64 `json:"accuracy"` // percent, one decimal
}

type Service struct{ db *sql.DB }

func New(db *sql.DB) *Service { return &Service{db: db} }

// Overview returns one row per certification the user has finished a
// session for, most recently taken first.
func (s *Service) Overview(ctx context.Context, userID string) ([]CertificationProgress, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.certification_id, c.name, COUNT(*), AVG(s.score * 1.0), MAX(s.score), MAX(s.ended_at)
		FROM sessions s JOIN certifications c ON c.id = s.certification_id
		WHERE s.user_id = $1 AND s.completed = $2
		GROUP BY s.certification_id, c.name
		ORDER BY MAX(s.ended_at) DESC`, userID, true)
	if err != nil {
		return nil, fmt.Errorf("stats overview: %w", err)
	}
	defer rows.Close()

	out := []CertificationProgress{}
	for rows.Next() {
		var (
			p    CertificationProgress
			avg  sql.NullFloat64
			best sql.NullInt64
			last sql.NullInt64
		)
		if err := rows.Scan(&p.CertificationID, &p.CertificationName, &p.SessionsCompleted, &avg, &best, &last); err != nil {
			return nil, fmt.Errorf("stats overview: %w", err)
		}
		p.AverageScore = round1(avg.Float64)
		p.BestScore = int(best.Int64)
		if last.Valid {
			t := time.Unix(last.Int64, 0).UTC()
			p.LastTakenAt = &t
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stats overview: %w", err)
	}
	for i := range out {
		if err := s.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM flags f JOIN questions q ON q.id = f.question_id
			WHERE f.user_id = $1 AND q.certification_id = $2`, userID, out[i].CertificationID).
			Scan(&out[i].FlaggedQuestions); err != nil {
			return nil, fmt.Errorf("stats flags: %w", err)
		}
	}
	return out, nil
}

// SubTopics reports per sub-topic accuracy over the user's completed
// sessions of one certification. Questions without a sub-topic are grouped
// under "general".
func (s *Service) SubTopics(ctx context.Context, userID, certificationID string) ([]SubTopicProgress, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT CASE WHEN q.sub_topic = '' THEN 'general' ELSE q.sub_topic END AS topic,
		       COUNT(*),
		       SUM(CASE WHEN a.is_correct THEN 1 ELSE 0 END)
		FROM answers a
		JOIN sessions s ON s.id = a.session_id
		JOIN questions q ON q.id = a.question_id
		WHERE s.user_id = $1 AND s.certification_id = $2 AND s.completed = $3
		GROUP BY topic
		ORDER BY topic`, userID, certificationID, true)
	if err != nil {
		return nil, fmt.Errorf("stats sub-topics: %w", err)
	}
	defer rows.Close()

	out := []SubTopicProgress{}
	for rows.Next() {
		var p SubTopicProgress
		if err := rows.Scan(&p.SubTopic, &p.Answered, &p.Correct); err != nil {
			return nil, fmt.Errorf("stats sub-topics: %w", err)
		}
		if p.Answered > 0 {
			p.Accuracy = round1(100 * float64(p.Correct) / float64(p.Answered))
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func round1(f float64) float64 { return math.Round(f*10) / 10 }

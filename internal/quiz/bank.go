package quiz

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Bank is the seed-file shape of certifications and their questions.
//
//	certifications:
//	  - id: aws-saa
//	    name: AWS Solutions Architect Associate
//	    duration_minutes: 130
//	    question_count: 65
//	    trial_question_count: 10
//	    questions:
//	      - text: Which service ...?
//	        options: ["A. S3", "B. EBS", "C. EFS", "D. FSx"]
//	        correct_answers: ["A"]
//	        dataset: trial
type Bank struct {
	Certifications []BankCertification `yaml:"certifications" json:"certifications"`
}

type BankCertification struct {
	Certification `yaml:",inline"`
	Questions     []Question `yaml:"questions" json:"questions"`
}

// LoadBank parses and validates a YAML (or JSON, a YAML subset) bank.
func LoadBank(r io.Reader) (Bank, error) {
	var b Bank
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&b); err != nil {
		return Bank{}, fmt.Errorf("decode bank: %w", err)
	}
	for ci := range b.Certifications {
		c := &b.Certifications[ci]
		c.ID = strings.TrimSpace(c.ID)
		if c.ID == "" || strings.TrimSpace(c.Name) == "" {
			return Bank{}, fmt.Errorf("certification #%d: id and name required", ci+1)
		}
		for qi := range c.Questions {
			q := &c.Questions[qi]
			q.CertificationID = c.ID
			q.Active = true
			if q.Dataset == "" {
				q.Dataset = DatasetStandard
			}
			if q.ID == "" {
				// stable ids keep re-seeding idempotent
				q.ID = uuid.NewSHA1(uuid.NameSpaceURL, []byte(c.ID+"\x00"+q.Text)).String()
			}
			for i := range q.CorrectAnswers {
				q.CorrectAnswers[i] = NormalizeLetter(q.CorrectAnswers[i])
			}
			if err := q.Validate(); err != nil {
				return Bank{}, fmt.Errorf("certification %s: %w", c.ID, err)
			}
		}
	}
	return b, nil
}

// ImportBank upserts every certification and question of the bank.
func ImportBank(ctx context.Context, st Store, b Bank) (certs, questions int, err error) {
	for _, c := range b.Certifications {
		if err := st.PutCertification(ctx, c.Certification); err != nil {
			return certs, questions, err
		}
		certs++
		for _, q := range c.Questions {
			if err := st.PutQuestion(ctx, q); err != nil {
				return certs, questions, err
			}
			questions++
		}
	}
	return certs, questions, nil
}

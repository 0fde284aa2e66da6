package http

import (
	"net/http"

	"github.com/mind-engage/certprep/internal/quiz"
	syncx "github.com/mind-engage/certprep/internal/sync"
)

const maxBankBody = 32 << 20

// POST /admin/bank  (YAML or JSON question bank in the body)
func ImportBankHandler(store quiz.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := quiz.LoadBank(http.MaxBytesReader(w, r.Body, maxBankBody))
		if err != nil {
			writeErr(w, http.StatusBadRequest, err.Error())
			return
		}
		certs, questions, err := quiz.ImportBank(r.Context(), store, b)
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"certifications": certs, "questions": questions})
	}
}

// GET /admin/events?after=0&limit=100
func EventsHandler(events *syncx.EventRepo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		after := int64(parseIntDefault(r.URL.Query().Get("after"), 0))
		list, err := events.Since(r.Context(), after, parseIntDefault(r.URL.Query().Get("limit"), 100))
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

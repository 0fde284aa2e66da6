package http

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/certprep/internal/access"
	auth "github.com/mind-engage/certprep/internal/auth/middleware"
	"github.com/mind-engage/certprep/internal/quiz"
	"github.com/mind-engage/certprep/internal/storage"
)

const resourceLinkTTL = 15 * time.Minute

type resource struct {
	storage.Object
	Name string `json:"name"`
	URL  string `json:"url"`
}

// GET /certifications/{certID}/resources
// Resources are a Standard-Full perk; everyone else gets the upgrade body.
func ListResourcesHandler(store quiz.Store, gate *access.Gate, bs storage.BlobStore, upgradeURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		certID := chi.URLParam(r, "certID")
		if _, err := store.GetCertification(r.Context(), certID); err != nil {
			writeDomainErr(w, err)
			return
		}
		if !gate.Resolve(r.Context(), auth.SubjectFromContext(r.Context()), certID).Has(access.ViewResources) {
			writeUpgrade(w, upgradeURL, certID)
			return
		}
		objs, err := bs.List(certID)
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		out := make([]resource, 0, len(objs))
		for _, o := range objs {
			u, err := bs.SignedURL(o.Key, resourceLinkTTL)
			if err != nil {
				writeDomainErr(w, err)
				return
			}
			out = append(out, resource{Object: o, Name: strings.TrimPrefix(o.Key, certID+"/"), URL: u})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// POST /admin/certifications/{certID}/resources  (multipart: file=..., name=optional)
func UploadResourceHandler(store quiz.Store, bs storage.BlobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		certID := chi.URLParam(r, "certID")
		if _, err := store.GetCertification(r.Context(), certID); err != nil {
			writeDomainErr(w, err)
			return
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			writeErr(w, http.StatusBadRequest, "file required")
			return
		}
		defer f.Close()

		name := strings.TrimSpace(r.FormValue("name"))
		if name == "" {
			name = path.Base(hdr.Filename)
		}
		key, err := bs.Put(certID+"/"+name, f)
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"key": key})
	}
}

// GET /blobs/*?exp=...&sig=...  serves a link minted by SignedURL.
func SignedBlobHandler(bs storage.BlobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
		if err := bs.VerifySigned(key, r.URL.Query().Get("exp"), r.URL.Query().Get("sig")); err != nil {
			status := http.StatusForbidden
			if errors.Is(err, storage.ErrInvalidKey) {
				status = http.StatusBadRequest
			}
			writeErr(w, status, err.Error())
			return
		}
		rc, err := bs.Get(key)
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		defer rc.Close()
		ct := mime.TypeByExtension(path.Ext(key))
		if ct == "" {
			ct = "application/octet-stream"
		}
		w.Header().Set("Content-Type", ct)
		_, _ = io.Copy(w, rc)
	}
}

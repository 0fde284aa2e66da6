package storage

import (
	"errors"
	"io"
	"time"
)

var (
	ErrNotFound   = errors.New("blob not found")
	ErrInvalidKey = errors.New("invalid blob key")
	ErrBadSig     = errors.New("invalid or expired signature")
)

// BlobStore holds gated certification resources (guides, notes, videos).
// Keys are slash-separated, e.g. "aws-saa/iam-cheatsheet.pdf".
type BlobStore interface {
	Put(key string, r io.Reader) (string, error) // returns canonical key
	Get(key string) (io.ReadCloser, error)
	List(prefix string) ([]Object, error)
	SignedURL(key string, ttl time.Duration) (string, error)
	VerifySigned(key, exp, sig string) error
}

type Object struct {
	Key     string    `json:"key"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

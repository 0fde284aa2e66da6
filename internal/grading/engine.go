package grading

import (
	"sort"
	"strings"
)

// Mode selects how a selection is compared with a question's answer key.
type Mode string

const (
	// ModeSingle compares the selected letter with the first correct letter only.
	ModeSingle Mode = "single"
	// ModeMulti requires the selected letter set to equal the correct set.
	ModeMulti Mode = "multi"
)

// ParseMode maps a config value to a Mode; unknown values fall back to ModeSingle.
func ParseMode(s string) Mode {
	if Mode(strings.ToLower(strings.TrimSpace(s))) == ModeMulti {
		return ModeMulti
	}
	return ModeSingle
}

// Strategy decides whether one selection is correct.
type Strategy interface {
	Correct(answerKey []string, selected *string) bool
}

// Grader routes by mode to the configured Strategy.
type Grader interface {
	Correct(answerKey []string, selected *string) bool
	Mode() Mode
}

type defaultGrader struct {
	mode       Mode
	strategies map[Mode]Strategy
}

func (g *defaultGrader) Mode() Mode { return g.mode }

func (g *defaultGrader) Correct(answerKey []string, selected *string) bool {
	// unanswered ("don't know") is never correct
	if selected == nil || strings.TrimSpace(*selected) == "" || len(answerKey) == 0 {
		return false
	}
	return g.strategies[g.mode].Correct(answerKey, selected)
}

type Option func(*config)

type config struct {
	Mode Mode
}

func WithMode(m Mode) Option { return func(c *config) { c.Mode = m } }

// NewDefaultGrader installs built-in strategies; single-letter matching is the default.
func NewDefaultGrader(opts ...Option) Grader {
	cfg := &config{Mode: ModeSingle}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.Mode != ModeMulti {
		cfg.Mode = ModeSingle
	}
	return &defaultGrader{
		mode: cfg.Mode,
		strategies: map[Mode]Strategy{
			ModeSingle: singleStrategy{},
			ModeMulti:  multiStrategy{},
		},
	}
}

// --- Strategies ---

type singleStrategy struct{}

func (singleStrategy) Correct(answerKey []string, selected *string) bool {
	return normalize(*selected) == normalize(answerKey[0])
}

type multiStrategy struct{}

func (multiStrategy) Correct(answerKey []string, selected *string) bool {
	return setEqual(toSet(answerKey), toSet(SplitSelection(*selected)))
}

// SplitSelection turns "A,C" (or "A C", "a;c") into normalized letters.
func SplitSelection(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '|'
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if n := normalize(p); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// JoinSelection is the inverse of SplitSelection, with letters sorted.
func JoinSelection(letters []string) string {
	out := make([]string, 0, len(letters))
	for _, l := range letters {
		if n := normalize(l); n != "" {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return strings.Join(out, ",")
}

// helpers

func normalize(s string) string {
	return strings.ToUpper(strings.TrimSuffix(strings.TrimSpace(s), "."))
}

func toSet(arr []string) map[string]struct{} {
	m := make(map[string]struct{}, len(arr))
	for _, s := range arr {
		m[normalize(s)] = struct{}{}
	}
	return m
}

func setEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

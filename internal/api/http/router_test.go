package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mind-engage/certprep/internal/access"
	auth "github.com/mind-engage/certprep/internal/auth/middleware"
	"github.com/mind-engage/certprep/internal/billing"
	"github.com/mind-engage/certprep/internal/db"
	"github.com/mind-engage/certprep/internal/logger"
	"github.com/mind-engage/certprep/internal/quiz"
	"github.com/mind-engage/certprep/internal/rbac"
	"github.com/mind-engage/certprep/internal/stats"
	"github.com/mind-engage/certprep/internal/storage"
	syncx "github.com/mind-engage/certprep/internal/sync"
)

const webhookSecret = "whsec"

type fakeGateway struct{}

func (fakeGateway) Initialize(_ context.Context, req billing.InitRequest) (billing.InitResponse, error) {
	return billing.InitResponse{AuthorizationURL: "https://pay.example/" + req.Reference, Reference: req.Reference}, nil
}

func (fakeGateway) Verify(_ context.Context, ref string) (billing.Transaction, error) {
	return billing.Transaction{Reference: ref, Status: "success", AmountKobo: 500000}, nil
}

type env struct {
	srv   *httptest.Server
	deps  Deps
	users *auth.Users
}

const bankYAML = `
certifications:
  - id: aws-saa
    name: AWS SAA
    duration_minutes: 60
    question_count: 3
    trial_question_count: 2
    questions:
      - {id: s1, text: "S1?", options: ["A. x", "B. y"], correct_answers: [A], sub_topic: iam}
      - {id: s2, text: "S2?", options: ["A. x", "B. y"], correct_answers: [B], sub_topic: vpc}
      - {id: s3, text: "S3?", options: ["A. x", "B. y"], correct_answers: [A]}
      - {id: t1, text: "T1?", options: ["A. x", "B. y"], correct_answers: [A], dataset: trial}
      - {id: t2, text: "T2?", options: ["A. x", "B. y"], correct_answers: [A], dataset: trial}
`

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	dbh, err := db.Open(ctx, db.DriverSQLite, "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = dbh.Close() })

	log := logger.Nop()
	store := quiz.NewSQLStore(dbh)
	bstore := billing.NewSQLStore(dbh)
	gate := access.NewGate(bstore, log)
	events := syncx.NewEventRepo(dbh, "test")
	plans, err := billing.NewCatalog("5000", "15000")
	require.NoError(t, err)
	users := auth.NewUsers(dbh)
	users.SetCost(bcrypt.MinCost)

	e := &env{users: users}
	e.srv = httptest.NewUnstartedServer(nil)
	blobs, err := storage.NewFSStore(t.TempDir(), "http://"+e.srv.Listener.Addr().String(), "blob-secret")
	require.NoError(t, err)

	e.deps = Deps{
		DB:      dbh,
		Auth:    auth.NewAuthService("test-secret", time.Hour),
		Users:   users,
		Store:   store,
		Quiz:    quiz.NewService(store, gate, nil, nil, nil, events, log, quiz.Options{}),
		Gate:    gate,
		Billing: billing.NewService(bstore, fakeGateway{}, plans, events, log, billing.Options{WebhookSecret: webhookSecret}),
		Stats:   stats.New(dbh),
		Blobs:   blobs,
		Events:  events,
		Log:     log,

		CORSOrigins: []string{"http://localhost:3000"},
		UpgradeURL:  "https://app.example/upgrade",
	}
	e.srv.Config.Handler = NewRouter(e.deps)
	e.srv.Start()
	t.Cleanup(e.srv.Close)

	b, err := quiz.LoadBank(strings.NewReader(bankYAML))
	require.NoError(t, err)
	_, _, err = quiz.ImportBank(ctx, store, b)
	require.NoError(t, err)
	return e
}

func (e *env) token(t *testing.T, email, role string) (string, string) {
	t.Helper()
	u, err := e.users.Register(context.Background(), email, "password123", role)
	require.NoError(t, err)
	tok, err := e.deps.Auth.IssueJWT(u.ID, u.Email, u.Role)
	require.NoError(t, err)
	return tok, u.ID
}

func (e *env) do(t *testing.T, method, path, tok string, body any, out any) int {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(res.Body).Decode(out))
	}
	return res.StatusCode
}

func TestPublicEndpoints(t *testing.T) {
	e := newEnv(t)
	assert.Equal(t, http.StatusOK, e.do(t, "GET", "/healthz", "", nil, nil))
	assert.Equal(t, http.StatusOK, e.do(t, "GET", "/readyz", "", nil, nil))

	var certs []quiz.Certification
	require.Equal(t, http.StatusOK, e.do(t, "GET", "/certifications", "", nil, &certs))
	require.Len(t, certs, 1)
	assert.Equal(t, "aws-saa", certs[0].ID)
	assert.Equal(t, http.StatusNotFound, e.do(t, "GET", "/certifications/nope", "", nil, nil))

	var plans []billing.Plan
	require.Equal(t, http.StatusOK, e.do(t, "GET", "/billing/plans", "", nil, &plans))
	assert.Len(t, plans, 2)

	assert.Equal(t, http.StatusUnauthorized, e.do(t, "POST", "/sessions", "", map[string]string{"certification_id": "aws-saa"}, nil))
}

func TestRegisterLoginFlow(t *testing.T) {
	e := newEnv(t)
	var reg struct {
		AccessToken string    `json:"access_token"`
		User        auth.User `json:"user"`
	}
	require.Equal(t, http.StatusCreated, e.do(t, "POST", "/auth/register", "", map[string]string{"email": "n@example.com", "password": "longpassword"}, &reg))
	var me auth.User
	require.Equal(t, http.StatusOK, e.do(t, "GET", "/me", reg.AccessToken, nil, &me))
	assert.Equal(t, "n@example.com", me.Email)
	assert.Equal(t, rbac.RoleUser, me.Role)

	assert.Equal(t, http.StatusNoContent, e.do(t, "POST", "/users/change-password", reg.AccessToken,
		map[string]string{"old_password": "longpassword", "new_password": "evenlongerpassword"}, nil))
	assert.Equal(t, http.StatusOK, e.do(t, "POST", "/auth/login", "", map[string]string{"email": "n@example.com", "password": "evenlongerpassword"}, nil))
}

func TestTrialSessionFlow(t *testing.T) {
	e := newEnv(t)
	tok, uid := e.token(t, "free@example.com", "")

	var grant access.Grant
	require.Equal(t, http.StatusOK, e.do(t, "GET", "/certifications/aws-saa/access", tok, nil, &grant))
	assert.Equal(t, access.TrialOnly, grant.Decision)
	assert.Equal(t, []access.Capability{access.StartTrial}, grant.Capabilities)

	var sess quiz.Session
	require.Equal(t, http.StatusCreated, e.do(t, "POST", "/sessions", tok,
		map[string]string{"certification_id": "aws-saa", "variant": "trial"}, &sess))
	assert.Equal(t, 2, sess.TotalQuestions)
	assert.Equal(t, uid, sess.UserID)

	base := "/sessions/" + sess.ID
	for i := 0; i < 2; i++ {
		var pos quiz.Position
		require.Equal(t, http.StatusOK, e.do(t, "GET", base+"/current", tok, nil, &pos))
		assert.Empty(t, pos.Question.CorrectAnswers)
		assert.Equal(t, http.StatusOK, e.do(t, "POST", base+"/answers", tok,
			map[string]any{"question_id": pos.Question.ID, "selected": "A"}, nil))
		var mv map[string]bool
		require.Equal(t, http.StatusOK, e.do(t, "POST", base+"/advance", tok, nil, &mv))
		assert.Equal(t, i == 0, mv["has_next"])
	}

	var done quiz.Session
	require.Equal(t, http.StatusOK, e.do(t, "POST", base+"/finalize", tok, nil, &done))
	require.NotNil(t, done.Score)
	assert.Equal(t, 100, *done.Score)

	var again struct {
		Error   string       `json:"error"`
		Session quiz.Session `json:"session"`
	}
	require.Equal(t, http.StatusConflict, e.do(t, "POST", base+"/finalize", tok, nil, &again))
	assert.Equal(t, 100, *again.Session.Score)
	assert.Equal(t, http.StatusConflict, e.do(t, "POST", base+"/answers", tok,
		map[string]any{"question_id": "t1", "selected": "A"}, nil))

	var res quiz.SessionResult
	require.Equal(t, http.StatusOK, e.do(t, "GET", base+"/results", tok, nil, &res))
	assert.Equal(t, 2, res.Correct)

	var list []quiz.Session
	require.Equal(t, http.StatusOK, e.do(t, "GET", "/sessions?status=completed", tok, nil, &list))
	require.Len(t, list, 1)
	assert.Equal(t, http.StatusBadRequest, e.do(t, "GET", "/sessions?status=paused", tok, nil, nil))

	other, _ := e.token(t, "other@example.com", "")
	assert.Equal(t, http.StatusNotFound, e.do(t, "GET", base, other, nil, nil))
	assert.Equal(t, http.StatusNotFound, e.do(t, "POST", base+"/finalize", other, nil, nil))

	events, err := e.deps.Events.Since(context.Background(), 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, quiz.EventSessionStarted, events[0].Type)
	assert.Equal(t, quiz.EventSessionFinalized, events[1].Type)
}

func TestStandardRequiresUpgrade(t *testing.T) {
	e := newEnv(t)
	tok, uid := e.token(t, "learner@example.com", "")
	admin, _ := e.token(t, "boss@example.com", rbac.RoleAdmin)

	var up map[string]string
	require.Equal(t, http.StatusPaymentRequired, e.do(t, "POST", "/sessions", tok,
		map[string]string{"certification_id": "aws-saa", "variant": "standard"}, &up))
	assert.Equal(t, "upgrade_required", up["error"])
	assert.Equal(t, "https://app.example/upgrade?certification_id=aws-saa", up["upgrade_url"])
	assert.Equal(t, http.StatusPaymentRequired, e.do(t, "GET", "/certifications/aws-saa/resources", tok, nil, nil))

	// learners cannot grant themselves a tier
	assert.Equal(t, http.StatusForbidden, e.do(t, "PUT", "/admin/subscriptions/"+uid, tok,
		map[string]string{"tier": "Standard", "certification_id": "aws-saa"}, nil))
	require.Equal(t, http.StatusOK, e.do(t, "PUT", "/admin/subscriptions/"+uid, admin,
		map[string]string{"tier": "Standard", "certification_id": "aws-saa"}, nil))

	var sess quiz.Session
	require.Equal(t, http.StatusCreated, e.do(t, "POST", "/sessions", tok,
		map[string]string{"certification_id": "aws-saa", "variant": "standard"}, &sess))
	assert.Equal(t, 3, sess.TotalQuestions)

	require.Equal(t, http.StatusPaymentRequired, e.do(t, "POST", "/sessions", tok,
		map[string]any{"certification_id": "aws-saa", "variant": "custom", "requested_count": 2}, nil))
}

func TestResourcesSignedDownload(t *testing.T) {
	e := newEnv(t)
	tok, uid := e.token(t, "paid@example.com", "")
	_, err := e.deps.Blobs.Put("aws-saa/guide.txt", strings.NewReader("read me"))
	require.NoError(t, err)
	exp := time.Now().Add(time.Hour)
	require.NoError(t, e.deps.Billing.Store().PutSubscription(context.Background(),
		access.Subscription{UserID: uid, Tier: access.TierAllAccess, ExpiresAt: &exp}))

	var list []struct {
		Key  string `json:"key"`
		Name string `json:"name"`
		URL  string `json:"url"`
	}
	require.Equal(t, http.StatusOK, e.do(t, "GET", "/certifications/aws-saa/resources", tok, nil, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "guide.txt", list[0].Name)

	res, err := http.Get(list[0].URL)
	require.NoError(t, err)
	body, _ := io.ReadAll(res.Body)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "read me", string(body))

	u, _ := url.Parse(list[0].URL)
	q := u.Query()
	q.Set("sig", strings.Repeat("ab", 32))
	u.RawQuery = q.Encode()
	res, err = http.Get(u.String())
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
}

func TestCheckoutAndWebhook(t *testing.T) {
	e := newEnv(t)
	tok, uid := e.token(t, "buyer@example.com", "")

	var co billing.Checkout
	require.Equal(t, http.StatusCreated, e.do(t, "POST", "/billing/checkout", tok,
		map[string]string{"plan": "standard", "certification_id": "aws-saa"}, &co))
	assert.Equal(t, "https://pay.example/"+co.Reference, co.AuthorizationURL)
	assert.Equal(t, http.StatusBadRequest, e.do(t, "POST", "/billing/checkout", tok, map[string]string{"plan": "gold"}, nil))

	body, _ := json.Marshal(map[string]any{
		"event": "charge.success",
		"data":  map[string]any{"reference": co.Reference, "status": "success", "amount": 500000},
	})
	req, _ := http.NewRequest("POST", e.srv.URL+"/billing/webhook", bytes.NewReader(body))
	req.Header.Set(billing.SignatureHeader, "00")
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	req, _ = http.NewRequest("POST", e.srv.URL+"/billing/webhook", bytes.NewReader(body))
	req.Header.Set(billing.SignatureHeader, billing.Sign(webhookSecret, body))
	res, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	var p billing.Payment
	require.Equal(t, http.StatusOK, e.do(t, "GET", "/billing/verify/"+co.Reference, tok, nil, &p))
	assert.Equal(t, billing.StatusSuccess, p.Status)

	var sub struct {
		Subscription  access.Subscription `json:"subscription"`
		EffectiveTier access.Tier         `json:"effective_tier"`
	}
	require.Equal(t, http.StatusOK, e.do(t, "GET", "/billing/subscription", tok, nil, &sub))
	assert.Equal(t, access.TierStandard, sub.EffectiveTier)
	assert.Equal(t, uid, sub.Subscription.UserID)

	other, _ := e.token(t, "snoop@example.com", "")
	assert.Equal(t, http.StatusNotFound, e.do(t, "GET", "/billing/verify/"+co.Reference, other, nil, nil))
}

func TestFlagsAndStats(t *testing.T) {
	e := newEnv(t)
	tok, uid := e.token(t, "flagger@example.com", "")
	other, _ := e.token(t, "nosy@example.com", "")

	var fl map[string]bool
	require.Equal(t, http.StatusOK, e.do(t, "POST", "/questions/t1/flag", tok, nil, &fl))
	assert.True(t, fl["flagged"])
	assert.Equal(t, http.StatusNotFound, e.do(t, "POST", "/questions/nope/flag", tok, nil, nil))

	var flags []quiz.Flag
	require.Equal(t, http.StatusOK, e.do(t, "GET", "/flags?certification_id=aws-saa", tok, nil, &flags))
	require.Len(t, flags, 1)

	assert.Equal(t, http.StatusOK, e.do(t, "GET", "/stats", tok, nil, nil))
	assert.Equal(t, http.StatusOK, e.do(t, "GET", "/users/"+uid+"/stats", tok, nil, nil))
	assert.Equal(t, http.StatusForbidden, e.do(t, "GET", "/users/"+uid+"/stats", other, nil, nil))
	assert.Equal(t, http.StatusOK, e.do(t, "GET", "/stats/aws-saa/sub-topics", tok, nil, nil))
}

func TestAdminImportAndRoles(t *testing.T) {
	e := newEnv(t)
	admin, adminID := e.token(t, "root@example.com", rbac.RoleAdmin)
	tok, uid := e.token(t, "plain@example.com", "")

	yaml := `
certifications:
  - id: gcp-ace
    name: GCP ACE
    questions:
      - {text: "Q?", options: ["A. a", "B. b"], correct_answers: [B]}
`
	assert.Equal(t, http.StatusForbidden, e.do(t, "POST", "/admin/bank", tok, yaml, nil))
	var counts map[string]int
	require.Equal(t, http.StatusOK, e.do(t, "POST", "/admin/bank", admin, yaml, &counts))
	assert.Equal(t, map[string]int{"certifications": 1, "questions": 1}, counts)
	assert.Equal(t, http.StatusBadRequest, e.do(t, "POST", "/admin/bank", admin, "certifications: [{id: x}]", nil))

	assert.Equal(t, http.StatusBadRequest, e.do(t, "PUT", "/admin/users/"+adminID+"/role", admin, map[string]string{"role": "user"}, nil))
	assert.Equal(t, http.StatusNoContent, e.do(t, "PUT", "/admin/users/"+uid+"/role", admin, map[string]string{"role": "admin"}, nil))
	// the stored role applies immediately, even with the old token
	assert.Equal(t, http.StatusOK, e.do(t, "GET", "/admin/events", tok, nil, nil))
}

func TestAdminReadsButCannotPlayOthersSession(t *testing.T) {
	e := newEnv(t)
	tok, _ := e.token(t, "owner@example.com", "")
	admin, _ := e.token(t, "ops@example.com", rbac.RoleAdmin)

	var sess quiz.Session
	require.Equal(t, http.StatusCreated, e.do(t, "POST", "/sessions", tok,
		map[string]string{"certification_id": "aws-saa", "variant": "trial"}, &sess))
	base := "/sessions/" + sess.ID

	assert.Equal(t, http.StatusOK, e.do(t, "GET", base, admin, nil, nil))
	assert.Equal(t, http.StatusOK, e.do(t, "GET", base+"/current", admin, nil, nil))

	assert.Equal(t, http.StatusNotFound, e.do(t, "POST", base+"/answers", admin,
		map[string]any{"question_id": "t1", "selected": "A"}, nil))
	assert.Equal(t, http.StatusNotFound, e.do(t, "POST", base+"/advance", admin, nil, nil))
	assert.Equal(t, http.StatusNotFound, e.do(t, "POST", base+"/previous", admin, nil, nil))
	assert.Equal(t, http.StatusNotFound, e.do(t, "POST", base+"/finalize", admin, nil, nil))

	var got quiz.Session
	require.Equal(t, http.StatusOK, e.do(t, "GET", base, tok, nil, &got))
	assert.False(t, got.Completed)
	assert.Equal(t, 0, got.Cursor)

	// a flag may only reference the caller's own session
	assert.Equal(t, http.StatusNotFound, e.do(t, "POST", "/questions/t1/flag", admin,
		map[string]string{"session_id": sess.ID}, nil))
}

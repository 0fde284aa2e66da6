package http

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/mind-engage/certprep/internal/access"
	auth "github.com/mind-engage/certprep/internal/auth/middleware"
	"github.com/mind-engage/certprep/internal/billing"
	"github.com/mind-engage/certprep/internal/logger"
	"github.com/mind-engage/certprep/internal/quiz"
	"github.com/mind-engage/certprep/internal/rbac"
	"github.com/mind-engage/certprep/internal/stats"
	"github.com/mind-engage/certprep/internal/storage"
	syncx "github.com/mind-engage/certprep/internal/sync"
)

type Deps struct {
	DB      *sql.DB
	Auth    *auth.AuthService
	Users   *auth.Users
	Store   quiz.Store
	Quiz    *quiz.Service
	Gate    *access.Gate
	Billing *billing.Service
	Stats   *stats.Service
	Blobs   storage.BlobStore
	Events  *syncx.EventRepo
	Log     *logger.Logger

	CORSOrigins []string
	UpgradeURL  string
	// AllowClaimFallback trusts the token role when the user row is missing.
	AllowClaimFallback bool
}

// RequestLogger logs one line per request through the structured logger.
func RequestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info("http",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

func NewRouter(d Deps) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, RequestLogger(d.Log), middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := d.DB.PingContext(r.Context()); err != nil {
			writeErr(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	r.Post("/auth/register", auth.RegisterHandler(d.Auth, d.Users))
	r.Post("/auth/login", auth.LoginHandler(d.Auth, d.Users))
	r.Get("/certifications", ListCertificationsHandler(d.Store))
	r.Get("/certifications/{certID}", GetCertificationHandler(d.Store))
	r.Get("/billing/plans", PlansHandler(d.Billing))
	r.Post("/billing/webhook", WebhookHandler(d.Billing, d.Log))
	r.Get("/blobs/*", SignedBlobHandler(d.Blobs))

	// Protected API (JWT → stored role → RBAC)
	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(d.Auth))
		pr.Use(auth.AttachRoleFromDB(d.DB, d.AllowClaimFallback))

		pr.Get("/me", MeHandler(d.Users))
		pr.With(rbac.Require("user:change_password")).
			Post("/users/change-password", ChangePasswordHandler(d.Users))

		pr.With(rbac.Require("certification:view")).
			Get("/certifications/{certID}/access", AccessHandler(d.Store, d.Gate))
		pr.With(rbac.Require("resource:view")).
			Get("/certifications/{certID}/resources", ListResourcesHandler(d.Store, d.Gate, d.Blobs, d.UpgradeURL))

		// Session flow
		pr.With(rbac.Require("session:create")).
			Post("/sessions", CreateSessionHandler(d.Quiz, d.UpgradeURL))
		pr.With(rbac.RequireAny("session:view-own", "session:view-all")).
			Get("/sessions", ListSessionsHandler(d.Quiz))
		pr.Route("/sessions/{sessionID}", func(sr chi.Router) {
			sr.With(rbac.RequireAny("session:view-own", "session:view-all")).Get("/", GetSessionHandler(d.Quiz))
			sr.With(rbac.RequireAny("session:view-own", "session:view-all")).Get("/results", ResultsHandler(d.Quiz))
			sr.With(rbac.Require("session:play")).Get("/current", CurrentQuestionHandler(d.Quiz))
			sr.With(rbac.Require("session:play")).Post("/answers", RecordAnswerHandler(d.Quiz))
			sr.With(rbac.Require("session:play")).Post("/advance", AdvanceHandler(d.Quiz))
			sr.With(rbac.Require("session:play")).Post("/previous", PreviousHandler(d.Quiz))
			sr.With(rbac.Require("session:play")).Post("/finalize", FinalizeHandler(d.Quiz))
		})

		pr.With(rbac.Require("flag:toggle")).
			Post("/questions/{questionID}/flag", ToggleFlagHandler(d.Quiz))
		pr.With(rbac.Require("flag:toggle")).
			Get("/flags", ListFlagsHandler(d.Store))

		pr.With(rbac.Require("stats:view-own")).Get("/stats", StatsOverviewHandler(d.Stats))
		pr.With(rbac.Require("stats:view-own")).Get("/stats/{certID}/sub-topics", StatsSubTopicsHandler(d.Stats))
		pr.With(rbac.RequireOwnerOr("stats:view-all", IsSelf)).
			Get("/users/{userID}/stats", StatsOverviewHandler(d.Stats))
		pr.With(rbac.RequireOwnerOr("stats:view-all", IsSelf)).
			Get("/users/{userID}/stats/{certID}/sub-topics", StatsSubTopicsHandler(d.Stats))

		pr.With(rbac.Require("billing:checkout")).Get("/billing/subscription", MySubscriptionHandler(d.Billing))
		pr.With(rbac.Require("billing:checkout")).Post("/billing/checkout", CheckoutHandler(d.Billing))
		pr.With(rbac.Require("billing:checkout")).Get("/billing/verify/{reference}", VerifyPaymentHandler(d.Billing))

		// Admin
		pr.With(rbac.Require("bank:import")).Post("/admin/bank", ImportBankHandler(d.Store))
		pr.With(rbac.Require("bank:import")).
			Post("/admin/certifications/{certID}/resources", UploadResourceHandler(d.Store, d.Blobs))
		pr.With(rbac.Require("subscription:grant")).
			Put("/admin/subscriptions/{userID}", GrantSubscriptionHandler(d.Billing))
		pr.With(rbac.Require("users:update_role")).
			Put("/admin/users/{userID}/role", AdminUpdateUserRoleHandler(d.DB))
		pr.With(rbac.Require("events:view")).Get("/admin/events", EventsHandler(d.Events))
	})
	return r
}

package server

import (
	"errors"
	"net/http"

	"filippo.io/csrf"
	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/kookbook/kookbook/internal/apierr"
	"github.com/kookbook/kookbook/internal/auth"
	httpx "github.com/kookbook/kookbook/internal/http"
	"github.com/kookbook/kookbook/internal/ratelimit"
	"github.com/kookbook/kookbook/internal/store"
	"github.com/kookbook/kookbook/internal/telemetry"
	"github.com/kookbook/kookbook/internal/upload"
)

// Multipart upload endpoints, which get a larger body limit.
const (
	recipeImagePath = "/api/v1/upload/recipe-image"
	userAvatarPath  = "/api/v1/upload/user-avatar"

	// multipartOverhead covers form boundaries and headers around the file part.
	multipartOverhead = 64 << 10
)

// Config holds the collaborators of the HTTP API.
type Config struct {
	Stores  store.Stores
	Codec   *auth.TokenCodec
	Cookies *auth.CookieManager
	Hasher  *auth.Hasher
	Limiter *ratelimit.Limiter
	Uploads *upload.Store
	Logger  zerolog.Logger

	CORSOrigins  []string
	MaxBodyBytes int64

	// Tracing wraps the handler with otelhttp.
	Tracing bool
}

// Validate checks that every collaborator is set.
func (c Config) Validate() error {
	if err := c.Stores.Validate(); err != nil {
		return err
	}
	if c.Codec == nil || c.Cookies == nil || c.Hasher == nil {
		return errors.New("token codec, cookie manager and hasher are required")
	}
	if c.Limiter == nil {
		return errors.New("rate limiter is required")
	}
	if c.Uploads == nil {
		return errors.New("upload store is required")
	}
	return nil
}

// Server serves the kookbook JSON API.
type Server struct {
	cfg      Config
	users    store.UserStore
	recipes  store.RecipeStore
	reviews  store.ReviewStore
	searches store.SearchHistoryStore
	activity store.ActivityStore
	stats    store.StatsStore
	uploads  *upload.Store
	guard    *auth.Guard
	metrics  *telemetry.Metrics
}

// NewServer creates a new server with the given configuration.
func NewServer(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Server{
		cfg:      cfg,
		users:    cfg.Stores.Users,
		recipes:  cfg.Stores.Recipes,
		reviews:  cfg.Stores.Reviews,
		searches: cfg.Stores.SearchHistory,
		activity: cfg.Stores.Activity,
		stats:    cfg.Stores.Stats,
		uploads:  cfg.Uploads,
		guard:    auth.NewGuard(cfg.Codec, cfg.Stores.Users),
		metrics:  telemetry.GetMetrics(),
	}, nil
}

// Handler returns the HTTP handler for the server with the full middleware chain.
func (s *Server) Handler() http.Handler {
	protection := csrf.New()
	for _, origin := range s.cfg.CORSOrigins {
		if err := protection.AddTrustedOrigin(origin); err != nil {
			s.cfg.Logger.Warn().Err(err).Str("origin", origin).Msg("ignoring invalid trusted origin")
		}
	}

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions,
		},
		AllowedHeaders:   []string{"Content-Type", "Authorization", httpx.CSRFHeaderName, "X-Guest-ID", httpx.CorrelationIDHeader},
		ExposedHeaders:   []string{"Retry-After", httpx.CorrelationIDHeader},
		AllowCredentials: true, // Required for cookie-based authentication
	})

	handler := httpx.Chain(s.routes(),
		func(h http.Handler) http.Handler { return gzhttp.GzipHandler(h) },
		corsMiddleware.Handler,
		httpx.SecurityHeaders(),
		httpx.RequestLogger(s.cfg.Logger),
		httpx.ClientIPMiddleware(),
		func(h http.Handler) http.Handler {
			return protection.HandlerWithFailHandler(h, http.HandlerFunc(s.crossOriginRejected))
		},
		httpx.CSRFGate(httpx.CSRFGateConfig{
			MaxBodyBytes: s.cfg.MaxBodyBytes,
			PathLimits: map[string]int64{
				recipeImagePath: s.uploads.MaxBytes() + multipartOverhead,
				userAvatarPath:  s.uploads.MaxBytes() + multipartOverhead,
			},
			OnReject: func(r *http.Request, err *apierr.Error) {
				s.metrics.RecordCSRFRejected(r.Context(), err.Code)
			},
		}),
	)

	if s.cfg.Tracing {
		handler = otelhttp.NewHandler(handler, "kookbook")
	}

	return handler
}

// crossOriginRejected answers requests refused by the Fetch metadata check
// with the same envelope as a double-submit mismatch.
func (s *Server) crossOriginRejected(w http.ResponseWriter, r *http.Request) {
	err := apierr.CsrfRejected()
	s.metrics.RecordCSRFRejected(r.Context(), err.Code)
	zerolog.Ctx(r.Context()).Warn().
		Str("origin", r.Header.Get("Origin")).
		Str("sec_fetch_site", r.Header.Get("Sec-Fetch-Site")).
		Msg("cross-origin request rejected")
	httpx.WriteError(w, r, err)
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", s.handle(s.health))
	mux.Handle("GET /api/v1/monitoring", s.limit(ratelimit.ClassRead, s.monitoring))

	mux.Handle("POST /api/v1/auth/signup", s.limit(ratelimit.ClassAuth, s.signup))
	mux.Handle("POST /api/v1/auth/login", s.limit(ratelimit.ClassAuth, s.login))
	mux.Handle("POST /api/v1/auth/refresh", s.limit(ratelimit.ClassAuth, s.refresh))
	mux.Handle("POST /api/v1/auth/guest-session", s.limit(ratelimit.ClassAuth, s.guestSession))
	mux.HandleFunc("POST /api/v1/auth/logout", s.handle(s.logout))
	mux.HandleFunc("POST /api/v1/auth/logout-all", s.handle(s.logoutAll))
	mux.HandleFunc("GET /api/v1/auth/me", s.handle(s.me))

	mux.Handle("GET /api/v1/users", s.limit(ratelimit.ClassRead, s.listUsers))
	mux.Handle("GET /api/v1/users/{id}", s.limit(ratelimit.ClassRead, s.getUser))
	mux.Handle("PATCH /api/v1/users/{id}", s.limit(ratelimit.ClassWrite, s.updateUser))
	mux.Handle("DELETE /api/v1/users/{id}", s.limit(ratelimit.ClassWrite, s.deleteUser))
	mux.Handle("GET /api/v1/search-history", s.limit(ratelimit.ClassRead, s.listSearchHistory))
	mux.Handle("POST /api/v1/search-history", s.limit(ratelimit.ClassWrite, s.recordSearch))
	mux.Handle("DELETE /api/v1/search-history", s.limit(ratelimit.ClassWrite, s.clearSearchHistory))

	mux.Handle("GET /api/v1/recipes", s.limit(ratelimit.ClassRead, s.listRecipes))
	mux.Handle("POST /api/v1/recipes", s.limit(ratelimit.ClassWrite, s.createRecipe))
	mux.Handle("GET /api/v1/recipes/random-suggestion", s.limit(ratelimit.ClassRead, s.randomSuggestion))
	mux.Handle("GET /api/v1/recipes/{id}", s.limit(ratelimit.ClassRead, s.getRecipe))
	mux.Handle("PATCH /api/v1/recipes/{id}", s.limit(ratelimit.ClassWrite, s.updateRecipe))
	mux.Handle("DELETE /api/v1/recipes/{id}", s.limit(ratelimit.ClassWrite, s.deleteRecipe))
	mux.Handle("POST /api/v1/recipes/{id}/like", s.limit(ratelimit.ClassWrite, s.toggleLike))
	mux.Handle("POST /api/v1/recipes/{id}/favorite", s.limit(ratelimit.ClassWrite, s.toggleFavorite))
	mux.HandleFunc("POST /api/v1/recipes/{id}/view", s.handle(s.recordView))
	mux.Handle("GET /api/v1/recipes/{id}/rating", s.limit(ratelimit.ClassRead, s.getRating))
	mux.Handle("GET /api/v1/recipes/{id}/reviews", s.limit(ratelimit.ClassRead, s.listReviews))
	mux.Handle("POST /api/v1/recipes/{id}/reviews", s.limit(ratelimit.ClassWrite, s.upsertReview))
	mux.Handle("DELETE /api/v1/reviews/{id}", s.limit(ratelimit.ClassWrite, s.deleteReview))

	mux.Handle("PATCH /api/v1/admin/users/{id}/status", s.limit(ratelimit.ClassWrite, s.setUserStatus))
	mux.Handle("PATCH /api/v1/admin/recipes/{id}/status", s.limit(ratelimit.ClassWrite, s.setRecipeStatus))

	mux.Handle("GET /api/v1/activity", s.limit(ratelimit.ClassRead, s.listActivity))
	mux.Handle("POST /api/v1/activity", s.limit(ratelimit.ClassWrite, s.createActivity))
	mux.Handle("GET /api/v1/stats/daily", s.limit(ratelimit.ClassRead, s.dailyStats))

	mux.Handle("POST "+recipeImagePath, s.limit(ratelimit.ClassWrite, s.uploadRecipeImage))
	mux.Handle("POST "+userAvatarPath, s.limit(ratelimit.ClassWrite, s.uploadAvatar))
	mux.Handle("DELETE /api/v1/upload/image/{path...}", s.limit(ratelimit.ClassWrite, s.deleteImage))
	mux.HandleFunc("GET /api/v1/uploads/{path...}", s.handle(s.serveUpload))

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteError(w, r, apierr.NotFound("Route not found"))
	})

	return mux
}

// handlerFunc is an HTTP handler that reports failures as errors. Errors are
// translated into the JSON error envelope by handle.
type handlerFunc func(w http.ResponseWriter, r *http.Request) error

func (s *Server) handle(fn handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			s.recordRejection(r, err)
			httpx.WriteError(w, r, err)
		}
	}
}

// limit counts the request against class before running fn. Denied requests
// get 429 with Retry-After and never reach fn.
func (s *Server) limit(class ratelimit.Class, fn handlerFunc) http.Handler {
	next := s.handle(fn)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := httpx.ClientIPFromContext(r.Context())
		if ip == "" {
			ip = httpx.ExtractClientIP(r)
		}

		decision := s.cfg.Limiter.Check(class, ip)
		if !decision.Allowed {
			s.metrics.RecordRateLimited(r.Context(), string(class))
			zerolog.Ctx(r.Context()).Warn().
				Str("class", string(class)).
				Str("client_ip", ip).
				Int("retry_after", decision.RetryAfter).
				Msg("rate limit exceeded")
			httpx.WriteError(w, r, apierr.RateLimited(decision.RetryAfter))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) recordRejection(r *http.Request, err error) {
	apiErr := apierr.From(err)
	switch apiErr.Kind {
	case apierr.KindUnauthenticated, apierr.KindForbidden:
		s.metrics.RecordAuthRejection(r.Context(), apiErr.Kind.String())
	}
}

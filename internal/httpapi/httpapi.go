package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"kasirinaja/posledger/internal/cart"
	"kasirinaja/posledger/internal/domain"
	"kasirinaja/posledger/internal/observability"
	"kasirinaja/posledger/internal/service"
	"kasirinaja/posledger/internal/store"
)

type Options struct {
	AllowedOrigin  string
	LoginRateLimit int
	Metrics        *observability.Metrics
	Logger         *slog.Logger
}

type API struct {
	service       *service.Service
	auth          *AuthManager
	validate      *validator.Validate
	metrics       *observability.Metrics
	logger        *slog.Logger
	allowedOrigin string
	loginLimit    int
	router        http.Handler
}

func New(svc *service.Service, auth *AuthManager, opts Options) *API {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.LoginRateLimit < 1 {
		opts.LoginRateLimit = 5
	}
	a := &API{
		service:       svc,
		auth:          auth,
		validate:      validator.New(),
		metrics:       opts.Metrics,
		logger:        opts.Logger,
		allowedOrigin: opts.AllowedOrigin,
		loginLimit:    opts.LoginRateLimit,
	}
	a.router = a.routes()
	return a
}

// Handler returns the router built in New. The login limiter lives inside it,
// so callers must reuse the same handler for limits to apply.
func (a *API) Handler() http.Handler {
	return a.router
}

func (a *API) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(a.metrics.Middleware)
	r.Use(a.withMiddleware)

	r.Get("/healthz", a.handleHealth)
	r.Method(http.MethodGet, "/metrics", a.metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.With(httprate.Limit(a.loginLimit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
				a.writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
			}))).Post("/auth/login", a.handleLogin)

		r.Get("/catalog", a.requireAuth(a.handleCatalog, roleCashier, roleAdmin))
		r.Get("/customers/{id}/credit", a.requireAuth(a.handleCreditAccount, roleCashier, roleAdmin))
		r.Get("/customers/{id}/favorites", a.requireAuth(a.handleFavorites, roleCashier, roleAdmin))

		r.Post("/checkout", a.requireAuth(a.handleCheckout, roleCashier, roleAdmin))
		r.Get("/checkout/idempotency/{key}", a.requireAuth(a.handleCheckoutLookup, roleCashier, roleAdmin))
		r.Get("/sales/{id}", a.requireAuth(a.handleSale, roleCashier, roleAdmin))
		r.Post("/receipts/next", a.requireAuth(a.handleNextReceipt, roleCashier, roleAdmin))

		r.Post("/layaways", a.requireAuth(a.handleLayawayOpen, roleCashier, roleAdmin))
		r.Get("/layaways/{id}", a.requireAuth(a.handleLayaway, roleCashier, roleAdmin))
		r.Post("/layaways/{id}/installments", a.requireAuth(a.handleLayawayInstallment, roleCashier, roleAdmin))
		r.Post("/layaways/{id}/cancel", a.requireAuth(a.handleLayawayCancel, roleAdmin))
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		a.writeError(w, http.StatusNotFound, errors.New("not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		a.writeMethodNotAllowed(w)
	})
	return r
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			a.writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			a.writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			a.writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		a.logger.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.Duration("elapsed", time.Since(startedAt)))
	})
}

// decodeAndValidate reads a JSON body strictly and runs struct validation.
func (a *API) decodeAndValidate(r *http.Request, dest any) error {
	if err := decodeJSON(r, dest); err != nil {
		return err
	}
	return a.validate.Struct(dest)
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

// statusFor maps service and store errors onto HTTP statuses.
func statusFor(err error) int {
	var validationErrs validator.ValidationErrors
	switch {
	case errors.As(err, &validationErrs):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrAdminRequired):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInsufficientStock), errors.Is(err, domain.ErrLayawayNotActive):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInsufficientCredit):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrAllocatorUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrPartialCommit):
		return http.StatusInternalServerError
	case errors.Is(err, domain.ErrEmptyCart),
		errors.Is(err, domain.ErrPaymentSplitMismatch),
		errors.Is(err, domain.ErrUnsupportedPayment),
		errors.Is(err, domain.ErrCustomerRequired),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrPriceNotOverridable),
		errors.Is(err, domain.ErrLayawayOverpayment),
		errors.Is(err, domain.ErrUnknownItemKind),
		errors.Is(err, store.ErrInvalidTransaction),
		errors.Is(err, cart.ErrInvalidItem),
		errors.Is(err, cart.ErrNegativePrice),
		errors.Is(err, cart.ErrPriceConflict),
		errors.Is(err, domain.ErrAmountOutOfRange):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeMethodNotAllowed(w http.ResponseWriter) {
	a.writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	a.writeError(w, statusFor(err), err)
}

func (a *API) writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies never carry internal detail
	msg := err.Error()
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		msg = validationMessage(validationErrs)
	}
	if status >= 500 {
		a.logger.Error("request failed", slog.Int("status", status), slog.Any("error", err))
		msg = "internal server error"
		if status == http.StatusServiceUnavailable {
			msg = "service temporarily unavailable, retry later"
		}
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func validationMessage(errs validator.ValidationErrors) string {
	parts := make([]string, 0, len(errs))
	for _, fieldErr := range errs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fieldErr.Namespace(), fieldErr.Tag()))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

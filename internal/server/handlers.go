package server

import (
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/nerdneilsfield/dreamforge/internal/auth"
	"github.com/nerdneilsfield/dreamforge/internal/generation"
	"github.com/nerdneilsfield/dreamforge/internal/inference"
	"github.com/nerdneilsfield/dreamforge/internal/models"
	"github.com/nerdneilsfield/dreamforge/internal/storage"
)

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type registerRequest struct {
	Username string `json:"username" validate:"required,min=3,max=32"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type languageRequest struct {
	Language string `json:"language" validate:"required"`
}

type visibilityRequest struct {
	IsPublic *bool `json:"isPublic" validate:"required"`
}

type orderRequest struct {
	PackageID int64 `json:"packageId" validate:"required,gt=0"`
}

type captureRequest struct {
	OrderID   string `json:"orderId" validate:"required"`
	PackageID int64  `json:"packageId" validate:"required,gt=0"`
}

type grantRequest struct {
	UserID int64  `json:"userId" validate:"required,gt=0"`
	Amount int    `json:"amount" validate:"required,gt=0"`
	Note   string `json:"note" validate:"max=200"`
}

// sessionResponse is returned by register and login.
type sessionResponse struct {
	User  models.User `json:"user"`
	Token string      `json:"token"`
}

// bind decodes the body into dst and runs its validate tags.
func bind(w http.ResponseWriter, r *http.Request, dst any) error {
	if err := decodeJSON(w, r, dst); err != nil {
		return err
	}
	if err := validate.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return validationError(fe.Field(), fe.Tag())
		}
		return errBadRequest
	}
	return nil
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.JSON(w, r, http.StatusOK, "OK", map[string]any{
		"status":    "ok",
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"version":   s.deps.Version,
		"buildDate": s.deps.BuildDate,
	})
}

func (s *Server) setSession(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.deps.Config.Session.CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.deps.Config.Session.SecureCookie,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(s.deps.Sessions.TTL().Seconds()),
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := bind(w, r, &req); err != nil {
		s.Error(w, r, err)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.Error(w, r, err)
		return
	}

	user, err := s.deps.Users.CreateUser(r.Context(), models.User{
		Username:     strings.TrimSpace(req.Username),
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		PasswordHash: hash,
		Credits:      s.deps.Config.Balance.InitialCredits,
		Language:     s.deps.I18n.Match(r.Header.Get("Accept-Language")),
	})
	if err != nil {
		s.Error(w, r, err)
		return
	}

	token, err := s.deps.Sessions.Issue(user)
	if err != nil {
		s.Error(w, r, err)
		return
	}
	s.setSession(w, token)
	s.deps.Logger.Info("User registered", zap.Int64("user_id", user.ID), zap.String("username", user.Username))
	s.JSON(w, r, http.StatusCreated, "Registered", sessionResponse{User: user, Token: token})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := bind(w, r, &req); err != nil {
		s.Error(w, r, err)
		return
	}

	user, err := s.deps.Users.FindByEmail(r.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if errors.Is(err, storage.ErrNotFound) {
		s.Error(w, r, errInvalidCredentials)
		return
	}
	if err != nil {
		s.Error(w, r, err)
		return
	}
	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		s.deps.Logger.Info("Failed login", zap.Int64("user_id", user.ID))
		s.Error(w, r, errInvalidCredentials)
		return
	}

	token, err := s.deps.Sessions.Issue(user)
	if err != nil {
		s.Error(w, r, err)
		return
	}
	s.setSession(w, token)
	s.JSON(w, r, http.StatusOK, "LoggedIn", sessionResponse{User: user, Token: token})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.deps.Config.Session.CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   s.deps.Config.Session.SecureCookie,
		MaxAge:   -1,
	})
	s.JSON(w, r, http.StatusOK, "LoggedOut", nil)
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request, user models.User) {
	s.JSON(w, r, http.StatusOK, "OK", map[string]any{
		"user":    user,
		"isAdmin": s.deps.Authorizer.IsAdmin(user.ID),
	})
}

func (s *Server) handleLanguage(w http.ResponseWriter, r *http.Request, user models.User) {
	var req languageRequest
	if err := bind(w, r, &req); err != nil {
		s.Error(w, r, err)
		return
	}
	lang := strings.ToLower(strings.TrimSpace(req.Language))
	if !s.deps.I18n.Supported(lang) {
		e := newAPIError(http.StatusBadRequest, "ErrUnsupportedLanguage", "Language", req.Language)
		e.data = map[string][]string{"supported": s.deps.I18n.Languages()}
		s.Error(w, r, e)
		return
	}
	if err := s.deps.Users.SetLanguage(r.Context(), user.ID, lang); err != nil {
		s.Error(w, r, err)
		return
	}
	// reply in the language just chosen
	s.write(w, http.StatusOK, Envelope{
		Code:    http.StatusOK,
		Message: s.deps.I18n.T(lang, "LanguageUpdated"),
		Data:    map[string]string{"language": lang},
	})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	ms, err := s.deps.Catalog.ListModels(r.Context())
	if err != nil {
		s.Error(w, r, err)
		return
	}
	s.JSON(w, r, http.StatusOK, "OK", ms)
}

func (s *Server) handleStyles(w http.ResponseWriter, r *http.Request) {
	ss, err := s.deps.Catalog.ListStyles(r.Context())
	if err != nil {
		s.Error(w, r, err)
		return
	}
	s.JSON(w, r, http.StatusOK, "OK", ss)
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request, user models.User) {
	var req generation.Request
	if err := decodeJSON(w, r, &req); err != nil {
		s.Error(w, r, err)
		return
	}

	res, err := s.deps.Coordinator.Generate(r.Context(), user.ID, req)
	if err != nil {
		s.Error(w, r, err)
		return
	}

	key := "ImageGenerated"
	if req.StyleID != nil && !res.StyleApplied {
		key = "StyleNotApplied"
	}
	s.JSON(w, r, http.StatusOK, key, res)
}

func (s *Server) handlePersonal(w http.ResponseWriter, r *http.Request, user models.User) {
	entries, err := s.deps.Gallery.ListByUser(r.Context(), user.ID)
	if err != nil {
		s.Error(w, r, err)
		return
	}
	s.JSON(w, r, http.StatusOK, "OK", entries)
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request, user models.User) {
	entries, err := s.deps.Gallery.Recent(r.Context(), user.ID, queryInt(r, "limit", 0))
	if err != nil {
		s.Error(w, r, err)
		return
	}
	s.JSON(w, r, http.StatusOK, "OK", entries)
}

func (s *Server) handlePublic(w http.ResponseWriter, r *http.Request) {
	filter, ok := storage.ParsePublicFilter(r.URL.Query().Get("filter"))
	if !ok {
		s.Error(w, r, validationError("filter", "oneof"))
		return
	}
	entries, err := s.deps.Gallery.ListPublic(r.Context(), filter, queryInt(r, "limit", 0), queryInt(r, "offset", 0))
	if err != nil {
		s.Error(w, r, err)
		return
	}
	s.JSON(w, r, http.StatusOK, "OK", entries)
}

func (s *Server) handleVisibility(w http.ResponseWriter, r *http.Request, user models.User) {
	entryID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.Error(w, r, errBadRequest)
		return
	}
	var req visibilityRequest
	if err := bind(w, r, &req); err != nil {
		s.Error(w, r, err)
		return
	}

	entry, err := s.deps.Gallery.SetVisibility(r.Context(), entryID, user.ID, *req.IsPublic)
	if err != nil {
		s.Error(w, r, err)
		return
	}
	s.JSON(w, r, http.StatusOK, "VisibilityUpdated", entry)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, user models.User) {
	txs, err := s.deps.Ledger.History(r.Context(), user.ID, queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		s.Error(w, r, err)
		return
	}
	s.JSON(w, r, http.StatusOK, "OK", map[string]any{
		"credits":      user.Credits,
		"transactions": txs,
	})
}

func (s *Server) handlePackages(w http.ResponseWriter, r *http.Request) {
	s.JSON(w, r, http.StatusOK, "OK", s.deps.Payments.Packages())
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request, user models.User) {
	var req orderRequest
	if err := bind(w, r, &req); err != nil {
		s.Error(w, r, err)
		return
	}
	order, err := s.deps.Payments.CreateOrder(r.Context(), user.ID, req.PackageID)
	if err != nil {
		s.Error(w, r, err)
		return
	}
	s.JSON(w, r, http.StatusCreated, "OrderCreated", order)
}

func (s *Server) handleCaptureOrder(w http.ResponseWriter, r *http.Request, user models.User) {
	var req captureRequest
	if err := bind(w, r, &req); err != nil {
		s.Error(w, r, err)
		return
	}
	res, err := s.deps.Payments.CaptureOrder(r.Context(), user.ID, req.OrderID, req.PackageID)
	if err != nil {
		s.Error(w, r, err)
		return
	}
	if !res.Applied {
		s.JSON(w, r, http.StatusOK, "PurchaseAlreadyApplied", res)
		return
	}
	s.JSON(w, r, http.StatusOK, "PurchaseCompleted", res, "Credits", res.Purchase.Credits)
}

func (s *Server) handlePurchases(w http.ResponseWriter, r *http.Request, user models.User) {
	purchases, err := s.deps.Payments.Purchases(r.Context(), user.ID)
	if err != nil {
		s.Error(w, r, err)
		return
	}
	s.JSON(w, r, http.StatusOK, "OK", purchases)
}

func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request, admin models.User) {
	var req grantRequest
	if err := bind(w, r, &req); err != nil {
		s.Error(w, r, err)
		return
	}
	note := strings.TrimSpace(req.Note)
	if note == "" {
		note = "granted by admin " + strconv.FormatInt(admin.ID, 10)
	}

	balance, err := s.deps.Ledger.Grant(r.Context(), req.UserID, req.Amount, note)
	if errors.Is(err, storage.ErrNotFound) {
		s.Error(w, r, &generation.UserNotFoundError{UserID: req.UserID})
		return
	}
	if err != nil {
		s.Error(w, r, err)
		return
	}
	s.deps.Logger.Info("Credits granted",
		zap.Int64("admin_id", admin.ID), zap.Int64("user_id", req.UserID), zap.Int("amount", req.Amount), zap.Int("balance", balance))
	s.JSON(w, r, http.StatusOK, "CreditsGranted",
		map[string]any{"userId": req.UserID, "credits": balance},
		"Amount", req.Amount, "UserID", req.UserID)
}

func (s *Server) handleUpstreamBalance(w http.ResponseWriter, r *http.Request, _ models.User) {
	reporter, ok := s.deps.Gateway.(inference.BalanceReporter)
	if !ok {
		s.Error(w, r, inference.ErrNoBalance)
		return
	}
	balance, err := reporter.Balance(r.Context())
	if err != nil {
		s.Error(w, r, err)
		return
	}
	s.JSON(w, r, http.StatusOK, "OK", map[string]any{
		"provider": s.deps.Config.Inference.Provider,
		"balance":  balance,
	})
}

// Package generation runs the credit-gated generation transaction:
// validate, resolve model, reserve credits, resolve style, infer, store, record.
package generation

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/nerdneilsfield/dreamforge/internal/imagestore"
	"github.com/nerdneilsfield/dreamforge/internal/inference"
	"github.com/nerdneilsfield/dreamforge/internal/metrics"
	"github.com/nerdneilsfield/dreamforge/internal/models"
	"github.com/nerdneilsfield/dreamforge/internal/storage"
)

const (
	MaxPromptLength  = 1000
	DefaultTimeout   = 60 * time.Second
	refundCtxTimeout = 10 * time.Second
)

type Catalog interface {
	GetModel(ctx context.Context, id int64) (models.Model, error)
	GetStyle(ctx context.Context, id int64) (models.Style, error)
}

type Ledger interface {
	DecrementIfAtLeast(ctx context.Context, userID int64, amount int, reference string) (int, bool, error)
	Refund(ctx context.Context, userID int64, amount int, reference string) (int, error)
}

type Recorder interface {
	Record(ctx context.Context, userID int64, imageURL, prompt string, modelID int64, styleID *int64, isPublic bool) (models.Image, error)
}

// Request is one generation submitted by an authenticated user.
type Request struct {
	Prompt   string `json:"prompt" validate:"required,max=1000"`
	ModelID  int64  `json:"modelId" validate:"required,gt=0"`
	StyleID  *int64 `json:"styleId,omitempty"`
	IsPublic bool   `json:"isPublic"`
}

type Result struct {
	Entry    models.Image `json:"image"`
	ImageURL string       `json:"imageUrl"`
	// Balance is the user's credits after the deduction.
	Balance      int  `json:"credits"`
	StyleApplied bool `json:"styleApplied"`
}

type Coordinator struct {
	catalog  Catalog
	ledger   Ledger
	gateway  inference.Gateway
	images   imagestore.Store
	recorder Recorder
	validate *validator.Validate
	timeout  time.Duration
	logger   *zap.Logger
}

func NewCoordinator(catalog Catalog, ledger Ledger, gateway inference.Gateway, images imagestore.Store, recorder Recorder, timeout time.Duration, logger *zap.Logger) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return &Coordinator{
		catalog:  catalog,
		ledger:   ledger,
		gateway:  gateway,
		images:   images,
		recorder: recorder,
		validate: validate,
		timeout:  timeout,
		logger:   logger.Named("generation"),
	}
}

// Generate runs one generation for userID. On success exactly one deduction of the model's cost
// and one gallery entry exist; on every failure the balance is unchanged and no entry exists.
func (c *Coordinator) Generate(ctx context.Context, userID int64, req Request) (Result, error) {
	start := time.Now()
	modelLabel := ""
	outcome := metrics.OutcomeSuccess
	defer func() { metrics.RecordGeneration(modelLabel, outcome, time.Since(start)) }()

	req.Prompt = strings.TrimSpace(req.Prompt)
	if err := c.validateRequest(req); err != nil {
		outcome = metrics.OutcomeInvalid
		return Result{}, err
	}

	model, err := c.catalog.GetModel(ctx, req.ModelID)
	if errors.Is(err, storage.ErrNotFound) {
		outcome = metrics.OutcomeUnknownModel
		return Result{}, &UnknownModelError{ModelID: req.ModelID}
	}
	if err != nil {
		outcome = metrics.OutcomeCatalogFailure
		return Result{}, fmt.Errorf("resolve model %d: %w", req.ModelID, err)
	}
	modelLabel = model.Name

	balance, ok, err := c.ledger.DecrementIfAtLeast(ctx, userID, model.CreditCost, "model:"+strconv.FormatInt(model.ID, 10))
	if errors.Is(err, storage.ErrNotFound) {
		outcome = metrics.OutcomeUserNotFound
		return Result{}, &UserNotFoundError{UserID: userID}
	}
	if err != nil {
		outcome = metrics.OutcomeReservationFailure
		return Result{}, &PersistenceError{Err: fmt.Errorf("reserve credits: %w", err)}
	}
	if !ok {
		outcome = metrics.OutcomeInsufficient
		c.logger.Info("Insufficient credits",
			zap.Int64("user_id", userID), zap.Int("required", model.CreditCost), zap.Int("available", balance))
		return Result{}, &InsufficientCreditsError{Required: model.CreditCost, Available: balance}
	}

	// 扣费之后的步骤不受客户端断开影响，失败时必须退款
	work := context.WithoutCancel(ctx)

	prompt, styleID := c.applyStyle(work, userID, req)

	infCtx, cancel := context.WithTimeout(work, c.timeout)
	img, err := c.gateway.Generate(infCtx, prompt, model.ModelID)
	cancel()
	if err != nil {
		failure := inference.Normalize(err)
		outcome = metrics.OutcomeUpstreamFailed
		c.logger.Warn("Inference failed",
			zap.Int64("user_id", userID), zap.String("model", model.Name), zap.String("reason", failure.Reason), zap.Error(err))
		c.refund(work, userID, model.CreditCost, "inference: "+failure.Reason)
		return Result{}, &GenerationFailedError{Reason: failure.Reason, Err: err}
	}

	ref, err := c.images.Put(work, img.Data)
	if err != nil {
		outcome = metrics.OutcomePersistenceFailed
		c.logger.Error("Storing image failed", zap.Int64("user_id", userID), zap.Error(err))
		c.refund(work, userID, model.CreditCost, "store image failed")
		return Result{}, &PersistenceError{Err: fmt.Errorf("store image: %w", err)}
	}

	entry, err := c.recorder.Record(work, userID, ref, req.Prompt, model.ID, styleID, req.IsPublic)
	if err != nil {
		outcome = metrics.OutcomePersistenceFailed
		c.logger.Error("Recording gallery entry failed", zap.Int64("user_id", userID), zap.Error(err))
		c.refund(work, userID, model.CreditCost, "record entry failed")
		return Result{}, &PersistenceError{Err: fmt.Errorf("record entry: %w", err)}
	}

	metrics.AddCreditsSpent(model.Name, model.CreditCost)
	c.logger.Info("Generation completed",
		zap.Int64("user_id", userID),
		zap.String("model", model.Name),
		zap.Int64("entry_id", entry.ID),
		zap.Int("balance", balance),
		zap.Duration("took", time.Since(start)))

	return Result{
		Entry:        entry,
		ImageURL:     ref,
		Balance:      balance,
		StyleApplied: styleID != nil,
	}, nil
}

func (c *Coordinator) validateRequest(req Request) error {
	err := c.validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ValidationError{Field: "request", Message: err.Error()}
	}
	fe := fieldErrs[0]
	return &ValidationError{Field: fe.Field(), Message: validationMessage(fe)}
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "gt":
		return "must be greater than " + fe.Param()
	default:
		return "is invalid"
	}
}

// applyStyle returns the prompt sent to inference and the style id to store.
// A style that does not resolve leaves the prompt untouched and stores no style.
func (c *Coordinator) applyStyle(ctx context.Context, userID int64, req Request) (string, *int64) {
	if req.StyleID == nil {
		return req.Prompt, nil
	}
	style, err := c.catalog.GetStyle(ctx, *req.StyleID)
	if err != nil {
		metrics.IncStyleMiss()
		c.logger.Warn("Style not resolved, generating without it",
			zap.Int64("user_id", userID), zap.Int64("style_id", *req.StyleID), zap.Error(err))
		return req.Prompt, nil
	}
	id := style.ID
	return StylePrompt(req.Prompt, style), &id
}

// StylePrompt appends the style's modifier to prompt: "a cat" + Fantasy gives "a cat, fantasy style".
func StylePrompt(prompt string, style models.Style) string {
	modifier := strings.TrimSpace(style.PromptModifier)
	if modifier == "" {
		modifier = strings.ToLower(style.Name) + " style"
	}
	return prompt + ", " + modifier
}

func (c *Coordinator) refund(ctx context.Context, userID int64, amount int, reference string) {
	ctx, cancel := context.WithTimeout(ctx, refundCtxTimeout)
	defer cancel()
	if _, err := c.ledger.Refund(ctx, userID, amount, reference); err != nil {
		// the reservation stays in the journal without its refund row
		c.logger.Error("Refund failed, balance needs manual correction",
			zap.Int64("user_id", userID), zap.Int("amount", amount), zap.String("reference", reference), zap.Error(err))
		return
	}
	metrics.AddCreditsRefunded(amount)
}

package service

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wearlab/tryon-server/internal/config"
	"github.com/wearlab/tryon-server/internal/kling"
	"github.com/wearlab/tryon-server/internal/models"
)

// CreditStore is the slice of the ledger the coordinator needs.
type CreditStore interface {
	Reserve(ctx context.Context, userID string, amount int) (bool, error)
	Credit(ctx context.Context, userID string, delta int) error
	Balance(ctx context.Context, userID string) (int, error)
}

// TaskStore is the ownership registry plus the usage history attached to it.
type TaskStore interface {
	Bind(ctx context.Context, task models.Task) error
	Owner(ctx context.Context, taskID string) (string, error)
	Rebind(ctx context.Context, oldTaskID, newTaskID string) error
	PruneUsage(ctx context.Context, userID string, olderThan time.Time) error
}

// TryOnAPI is the external vendor surface the coordinator drives.
type TryOnAPI interface {
	CreateTask(ctx context.Context, req kling.TryOnRequest) (string, error)
	ContinueTask(ctx context.Context, step1TaskID, step1ImageURL string) (string, error)
	TaskResult(ctx context.Context, taskID string) (*kling.TaskResult, error)
}

// ImageStore hosts validated uploads where the vendor can fetch them.
type ImageStore interface {
	Upload(ctx context.Context, data []byte, contentType string) (string, error)
}

// Upload is one incoming file with its client-declared content type.
type Upload struct {
	Data        []byte
	ContentType string
}

type StartRequest struct {
	Mode          models.TryOnMode
	FullVariant   models.FullVariant
	PersonImage   *Upload
	TopGarment    *Upload
	BottomGarment *Upload
}

// TryOnService coordinates the job lifecycle: credit reservation, vendor
// calls, ownership binding and the second phase of full-outfit jobs.
type TryOnService struct {
	cfg     config.Config
	log     *slog.Logger
	credits CreditStore
	tasks   TaskStore
	api     TryOnAPI
	images  ImageStore
}

func NewTryOnService(cfg config.Config, log *slog.Logger, credits CreditStore, tasks TaskStore, api TryOnAPI, images ImageStore) *TryOnService {
	return &TryOnService{
		cfg:     cfg,
		log:     log,
		credits: credits,
		tasks:   tasks,
		api:     api,
		images:  images,
	}
}

// CreditCost returns the price of a start request: one credit for single-call
// jobs, two when a full outfit needs two sequential vendor calls.
func CreditCost(mode models.TryOnMode, variant models.FullVariant) int {
	if mode == models.ModeFull && variant == models.FullVariantSeparate {
		return 2
	}
	return 1
}

// Start validates the uploads, reserves credits, submits the job to the
// vendor and binds ownership. A vendor failure or timeout refunds the
// reservation, leaving the operation side-effect-free.
func (s *TryOnService) Start(ctx context.Context, userID string, req StartRequest) (string, error) {
	if err := validateMode(req); err != nil {
		return "", err
	}

	uploads := map[string]*Upload{"person_image": req.PersonImage}
	if req.TopGarment != nil {
		uploads["top_garment"] = req.TopGarment
	}
	if req.BottomGarment != nil {
		uploads["bottom_garment"] = req.BottomGarment
	}

	contentTypes := make(map[string]string, len(uploads))
	for field, upload := range uploads {
		contentType, err := s.validateUpload(field, upload)
		if err != nil {
			return "", err
		}
		contentTypes[field] = contentType
	}

	cost := CreditCost(req.Mode, req.FullVariant)
	ok, err := s.credits.Reserve(ctx, userID, cost)
	if err != nil {
		return "", fmt.Errorf("reserve credits: %w", err)
	}
	if !ok {
		current, berr := s.credits.Balance(ctx, userID)
		if berr != nil {
			s.log.Error("read balance after failed reserve", "user", userID, "err", berr)
		}
		return "", &InsufficientCreditsError{Required: cost, Current: current}
	}

	urls := make(map[string]string, len(uploads))
	for field, upload := range uploads {
		url, err := s.images.Upload(ctx, upload.Data, contentTypes[field])
		if err != nil {
			s.refund(ctx, userID, cost)
			return "", fmt.Errorf("upload %s: %w", field, err)
		}
		urls[field] = url
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.StartTimeout)
	defer cancel()

	taskID, err := s.api.CreateTask(callCtx, kling.TryOnRequest{
		Mode:             req.Mode,
		PersonImageURL:   urls["person_image"],
		TopGarmentURL:    urls["top_garment"],
		BottomGarmentURL: urls["bottom_garment"],
	})
	if err != nil {
		// The vendor never accepted the job, so the reservation must not
		// stand. Compensate and surface the upstream failure.
		s.refund(ctx, userID, cost)
		return "", err
	}

	if err := s.tasks.Bind(ctx, models.Task{
		TaskID:         taskID,
		UserID:         userID,
		Mode:           req.Mode,
		CreditsCharged: cost,
	}); err != nil {
		// The vendor accepted the job; never claw the charge back here.
		// This is the documented small-window inconsistency.
		s.log.Error("bind task after vendor accept", "task_id", taskID, "user", userID, "err", err)
		return "", fmt.Errorf("bind task: %w", err)
	}

	if err := s.tasks.PruneUsage(ctx, userID, time.Now().Add(-s.cfg.UsageRetention)); err != nil {
		s.log.Error("prune usage history", "user", userID, "err", err)
	}

	return taskID, nil
}

// Result reads the current job state. The caller re-invokes on its own
// backoff schedule (start near 2s, grow ~1.3x, cap at 8s) until a terminal
// status shows up; nothing here blocks on completion.
func (s *TryOnService) Result(ctx context.Context, userID, taskID string) (*kling.TaskResult, error) {
	if err := s.authorize(ctx, userID, taskID); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ResultTimeout)
	defer cancel()

	return s.api.TaskResult(callCtx, taskID)
}

// ContinueFull chains a completed first phase into the second vendor call and
// rebinds ownership and history onto the new task id. The two-call cost was
// reserved at start time; nothing is charged here.
func (s *TryOnService) ContinueFull(ctx context.Context, userID, step1TaskID, step1ImageURL string) (string, error) {
	if step1TaskID == "" || step1ImageURL == "" {
		return "", fmt.Errorf("%w: step1TaskId and step1ImageUrl are required", ErrValidation)
	}
	if err := s.authorize(ctx, userID, step1TaskID); err != nil {
		return "", err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.StartTimeout)
	defer cancel()

	newTaskID, err := s.api.ContinueTask(callCtx, step1TaskID, step1ImageURL)
	if err != nil {
		return "", err
	}

	if err := s.tasks.Rebind(ctx, step1TaskID, newTaskID); err != nil {
		s.log.Error("rebind second-phase task", "old", step1TaskID, "new", newTaskID, "err", err)
		return "", fmt.Errorf("rebind task: %w", err)
	}

	return newTaskID, nil
}

func (s *TryOnService) refund(ctx context.Context, userID string, amount int) {
	if err := s.credits.Credit(ctx, userID, amount); err != nil {
		s.log.Error("refund reserved credits", "user", userID, "amount", amount, "err", err)
	}
}

func (s *TryOnService) authorize(ctx context.Context, userID, taskID string) error {
	owner, err := s.tasks.Owner(ctx, taskID)
	if err != nil {
		return fmt.Errorf("lookup task owner: %w", err)
	}
	if owner == "" {
		return ErrTaskNotFound
	}
	if owner != userID {
		return ErrTaskForbidden
	}
	return nil
}

func validateMode(req StartRequest) error {
	switch req.Mode {
	case models.ModeTop:
		if req.TopGarment == nil {
			return fmt.Errorf("%w: top_garment is required", ErrValidation)
		}
	case models.ModeBottom:
		if req.BottomGarment == nil {
			return fmt.Errorf("%w: bottom_garment is required", ErrValidation)
		}
	case models.ModeFull:
		if req.TopGarment == nil || req.BottomGarment == nil {
			return fmt.Errorf("%w: top_garment and bottom_garment are required", ErrValidation)
		}
		if req.FullVariant != models.FullVariantSingle && req.FullVariant != models.FullVariantSeparate {
			return fmt.Errorf("%w: fullModeType must be single or separate", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unsupported mode %q", ErrValidation, req.Mode)
	}
	if req.PersonImage == nil {
		return fmt.Errorf("%w: person_image is required", ErrValidation)
	}
	return nil
}

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/jpg":  true,
	"image/png":  true,
	"image/webp": true,
}

// validateUpload enforces the size ceiling and checks the declared MIME type
// against the allow-list AND the file's leading bytes against known image
// signatures, so a spoofed content-type does not get through. The sniffed
// type wins for storage.
func (s *TryOnService) validateUpload(field string, upload *Upload) (string, error) {
	if upload == nil || len(upload.Data) == 0 {
		return "", fmt.Errorf("%w: %s is empty", ErrValidation, field)
	}
	if int64(len(upload.Data)) > s.cfg.MaxUploadBytes {
		return "", fmt.Errorf("%w: %s exceeds %d bytes", ErrValidation, field, s.cfg.MaxUploadBytes)
	}
	if !allowedImageTypes[strings.ToLower(upload.ContentType)] {
		return "", fmt.Errorf("%w: %s has unsupported content type %q", ErrValidation, field, upload.ContentType)
	}
	sniffed, ok := sniffImage(upload.Data)
	if !ok {
		return "", fmt.Errorf("%w: %s is not a recognized image", ErrValidation, field)
	}
	return sniffed, nil
}

// sniffImage identifies JPEG, PNG and WebP by their magic bytes.
func sniffImage(data []byte) (string, bool) {
	switch {
	case len(data) >= 3 && bytes.Equal(data[:3], []byte{0xFF, 0xD8, 0xFF}):
		return "image/jpeg", true
	case len(data) >= 8 && bytes.Equal(data[:8], []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}):
		return "image/png", true
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return "image/webp", true
	}
	return "", false
}

package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/codecraft-store/entitlement-api/internal/domain/license"
	"github.com/codecraft-store/entitlement-api/internal/domain/product"
	"github.com/codecraft-store/entitlement-api/internal/domain/purchase"
	"github.com/codecraft-store/entitlement-api/internal/handler/dto"
	"github.com/codecraft-store/entitlement-api/internal/ierr"
	"github.com/codecraft-store/entitlement-api/internal/metrics"
	"github.com/codecraft-store/entitlement-api/internal/util"
	"go.uber.org/zap"
)

// MaxDevicesPerLicense is the device ceiling contributed by each approved
// purchase row.
const MaxDevicesPerLicense = 3

// RequestMeta carries transport-level context recorded in the activation log.
type RequestMeta struct {
	IP        string
	UserAgent string
}

type ActivationService struct {
	licenses    license.Repository
	purchases   purchase.Repository
	products    product.Repository
	activityLog license.ActivationLogRepository
	logger      *zap.Logger
}

func NewActivationService(
	licenses license.Repository,
	purchases purchase.Repository,
	products product.Repository,
	activityLog license.ActivationLogRepository,
	logger *zap.Logger,
) *ActivationService {
	return &ActivationService{
		licenses:    licenses,
		purchases:   purchases,
		products:    products,
		activityLog: activityLog,
		logger:      logger.Named("ActivationService"),
	}
}

// ActivateDevice binds a hardware id to a license slot for (product, email).
// The attempt is recorded in the activation log exactly once, whatever the
// outcome.
func (s *ActivationService) ActivateDevice(ctx context.Context, req *dto.ActivateDeviceRequest, meta RequestMeta) (*dto.ActivateDeviceResponse, error) {
	outcome := "error"
	logEntry := &license.ActivationLogEntry{
		ProductID:  req.ProductID,
		Email:      req.Email,
		HardwareID: req.HardwareID,
		Action:     license.ActionActivate,
		Status:     license.LogError,
	}
	if meta.IP != "" {
		logEntry.IP = sql.NullString{String: meta.IP, Valid: true}
	}
	if meta.UserAgent != "" {
		logEntry.UserAgent = sql.NullString{String: meta.UserAgent, Valid: true}
	}
	defer func() {
		metrics.ActivationAttempts.WithLabelValues(outcome).Inc()
		if err := s.activityLog.Append(ctx, logEntry); err != nil {
			s.logger.Error("Failed to append activation log entry", zap.Error(err))
		}
	}()

	prod, err := s.products.FindByID(ctx, req.ProductID)
	if err != nil {
		if errors.Is(err, ierr.ErrNotFound) {
			outcome = "unknown_product"
			logEntry.Message = "product not found"
			s.logger.Warn("Activation refused: unknown product",
				zap.Int64("product_id", req.ProductID),
				zap.String("email", req.Email),
			)
			return nil, fmt.Errorf("%w: product %d", ierr.ErrNotFound, req.ProductID)
		}
		logEntry.Message = "product lookup failed"
		return nil, fmt.Errorf("looking up product: %w", err)
	}
	productName := prod.Name

	// Replay of an activation from the same device is idempotent.
	existing, err := s.licenses.FindBound(ctx, req.ProductID, req.Email, req.HardwareID)
	if err != nil && !errors.Is(err, ierr.ErrNotFound) {
		logEntry.Message = "lookup failed"
		return nil, fmt.Errorf("looking up bound license: %w", err)
	}
	if existing != nil {
		outcome = "already_active"
		logEntry.Status = license.LogSuccess
		logEntry.Message = "device already activated"
		logEntry.LicenseID = sql.NullInt64{Int64: existing.ID, Valid: true}
		s.logger.Info("Device already activated",
			zap.Int64("product_id", req.ProductID),
			zap.String("email", req.Email),
		)
		return &dto.ActivateDeviceResponse{
			Success:     true,
			Message:     "device already activated",
			LicenseKey:  existing.LicenseKey,
			ProductName: productName,
		}, nil
	}

	approved, err := s.purchases.CountApproved(ctx, req.ProductID, req.Email)
	if err != nil {
		logEntry.Message = "entitlement check failed"
		return nil, fmt.Errorf("counting approved purchases: %w", err)
	}
	if approved == 0 {
		outcome = "no_license"
		logEntry.Message = "no approved purchase for product"
		s.logger.Warn("Activation refused: no approved purchase",
			zap.Int64("product_id", req.ProductID),
			zap.String("email", req.Email),
		)
		return nil, ierr.ErrNoLicense
	}

	bound, err := s.licenses.CountBound(ctx, req.ProductID, req.Email)
	if err != nil {
		logEntry.Message = "quota check failed"
		return nil, fmt.Errorf("counting bound devices: %w", err)
	}
	quota := approved * MaxDevicesPerLicense
	if bound >= quota {
		outcome = "quota_exceeded"
		logEntry.Message = fmt.Sprintf("device limit reached (%d of %d)", bound, quota)
		s.logger.Warn("Activation refused: device limit reached",
			zap.Int64("product_id", req.ProductID),
			zap.String("email", req.Email),
			zap.Int("bound", bound),
			zap.Int("quota", quota),
		)
		return nil, ierr.ErrQuotaExceeded
	}

	slot, err := s.licenses.FindUnboundSlot(ctx, req.ProductID, req.Email)
	if err != nil && !errors.Is(err, ierr.ErrNotFound) {
		logEntry.Message = "slot lookup failed"
		return nil, fmt.Errorf("finding unbound slot: %w", err)
	}

	var active *license.License
	if slot != nil {
		active, err = s.licenses.Bind(ctx, slot.ID, req.HardwareID)
		if err != nil {
			logEntry.Message = "slot bind failed"
			return nil, fmt.Errorf("binding device to slot: %w", err)
		}
	} else {
		// The quota allows another device but no unbound row exists, which
		// happens when provisioning materialized fewer rows than the quota
		// covers. Create the slot on demand, already bound.
		key, err := util.GenerateLicenseKey()
		if err != nil {
			logEntry.Message = "key generation failed"
			return nil, fmt.Errorf("generating license key: %w", err)
		}
		now := time.Now().UTC()
		fresh := &license.License{
			ProductID:   req.ProductID,
			Email:       req.Email,
			HardwareID:  sql.NullString{String: req.HardwareID, Valid: true},
			LicenseKey:  key,
			ActivatedAt: sql.NullTime{Time: now, Valid: true},
		}
		id, err := s.licenses.Create(ctx, fresh)
		if err != nil {
			logEntry.Message = "slot create failed"
			return nil, fmt.Errorf("creating license slot: %w", err)
		}
		fresh.ID = id
		active = fresh
		s.logger.Info("Created license slot on demand during activation",
			zap.Int64("product_id", req.ProductID),
			zap.String("email", req.Email),
		)
	}

	outcome = "activated"
	logEntry.Status = license.LogSuccess
	logEntry.Message = "device activated"
	logEntry.LicenseID = sql.NullInt64{Int64: active.ID, Valid: true}
	s.logger.Info("Device activated",
		zap.Int64("license_id", active.ID),
		zap.Int64("product_id", req.ProductID),
		zap.String("email", req.Email),
	)
	return &dto.ActivateDeviceResponse{
		Success:     true,
		Message:     "device activated",
		LicenseKey:  active.LicenseKey,
		ProductName: productName,
	}, nil
}

// VerifyLicense reports whether the device currently holds a slot. A negative
// answer is a valid=false response, not an error.
func (s *ActivationService) VerifyLicense(ctx context.Context, req *dto.VerifyLicenseRequest, meta RequestMeta) (*dto.VerifyLicenseResponse, error) {
	logEntry := &license.ActivationLogEntry{
		ProductID:  req.ProductID,
		Email:      req.Email,
		HardwareID: req.HardwareID,
		Action:     license.ActionVerify,
		Status:     license.LogError,
		Message:    "no active license for device",
	}
	if meta.IP != "" {
		logEntry.IP = sql.NullString{String: meta.IP, Valid: true}
	}
	if meta.UserAgent != "" {
		logEntry.UserAgent = sql.NullString{String: meta.UserAgent, Valid: true}
	}
	defer func() {
		if err := s.activityLog.Append(ctx, logEntry); err != nil {
			s.logger.Error("Failed to append verify log entry", zap.Error(err))
		}
	}()

	lic, err := s.licenses.FindBound(ctx, req.ProductID, req.Email, req.HardwareID)
	if err != nil && !errors.Is(err, ierr.ErrNotFound) {
		logEntry.Message = "lookup failed"
		metrics.VerifyAttempts.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("looking up bound license: %w", err)
	}

	resp := &dto.VerifyLicenseResponse{}
	if lic != nil {
		logEntry.Status = license.LogSuccess
		logEntry.Message = "license valid"
		logEntry.LicenseID = sql.NullInt64{Int64: lic.ID, Valid: true}
		resp.Valid = true
		resp.Message = "license valid"
		resp.LicenseKey = lic.LicenseKey
		if lic.ActivatedAt.Valid {
			t := lic.ActivatedAt.Time
			resp.ActivatedAt = &t
		}
		metrics.VerifyAttempts.WithLabelValues("valid").Inc()
	} else {
		resp.Message = "no active license for device"
		metrics.VerifyAttempts.WithLabelValues("invalid").Inc()
	}
	return resp, nil
}

// ReleaseDevice frees a bound slot so another device can claim it.
func (s *ActivationService) ReleaseDevice(ctx context.Context, productID int64, email, hardwareID string) error {
	lic, err := s.licenses.FindBound(ctx, productID, email, hardwareID)
	if err != nil {
		if errors.Is(err, ierr.ErrNotFound) {
			return fmt.Errorf("%w: no active device to release", ierr.ErrNotFound)
		}
		return fmt.Errorf("looking up bound license: %w", err)
	}
	if _, err := s.licenses.Unbind(ctx, lic.ID); err != nil {
		return fmt.Errorf("unbinding device: %w", err)
	}
	s.logger.Info("Device released",
		zap.Int64("license_id", lic.ID),
		zap.Int64("product_id", productID),
		zap.String("email", email),
	)
	return nil
}

// ClaimByEmail lists every license slot held by an email address, across
// products, with product names resolved where possible.
func (s *ActivationService) ClaimByEmail(ctx context.Context, email string) ([]*dto.ClaimedLicense, error) {
	lics, err := s.licenses.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("listing licenses by email: %w", err)
	}

	names := make(map[int64]string)
	out := make([]*dto.ClaimedLicense, 0, len(lics))
	for _, lic := range lics {
		name, ok := names[lic.ProductID]
		if !ok {
			if prod, err := s.products.FindByID(ctx, lic.ProductID); err == nil {
				name = prod.Name
			}
			names[lic.ProductID] = name
		}
		claimed := &dto.ClaimedLicense{
			ID:          lic.ID,
			ProductID:   lic.ProductID,
			ProductName: name,
			LicenseKey:  lic.LicenseKey,
			CreatedAt:   lic.CreatedAt,
		}
		if lic.Bound() {
			hw := lic.HardwareID.String
			claimed.HardwareID = &hw
		}
		if lic.ActivatedAt.Valid {
			t := lic.ActivatedAt.Time
			claimed.ActivatedAt = &t
		}
		out = append(out, claimed)
	}
	return out, nil
}

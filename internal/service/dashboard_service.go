package service

import (
	"context"
	"fmt"

	"github.com/codecraft-store/entitlement-api/internal/domain/license"
	"github.com/codecraft-store/entitlement-api/internal/domain/purchase"
	"github.com/codecraft-store/entitlement-api/internal/handler/dto"
	"go.uber.org/zap"
)

type DashboardService struct {
	purchases purchase.Repository
	licenses  license.Repository
	logger    *zap.Logger
}

func NewDashboardService(purchases purchase.Repository, licenses license.Repository, logger *zap.Logger) *DashboardService {
	return &DashboardService{
		purchases: purchases,
		licenses:  licenses,
		logger:    logger.Named("DashboardService"),
	}
}

func (s *DashboardService) GetSummary(ctx context.Context) (*dto.DashboardSummaryResponse, error) {
	byStatus, err := s.purchases.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting purchases by status: %w", err)
	}

	bound, total, err := s.licenses.CountBoundTotal(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting bound devices: %w", err)
	}

	resp := &dto.DashboardSummaryResponse{
		PurchasesByStatus: make(map[string]int64, len(byStatus)),
		TotalSeats:        total,
		ActiveDevices:     bound,
	}
	for status, count := range byStatus {
		resp.PurchasesByStatus[string(status)] = count
		resp.TotalPurchases += count
	}
	return resp, nil
}

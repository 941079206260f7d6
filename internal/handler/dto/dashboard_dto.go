package dto

type DashboardSummaryResponse struct {
	TotalPurchases    int64            `json:"total_purchases"`
	PurchasesByStatus map[string]int64 `json:"purchases_by_status"`
	TotalSeats        int64            `json:"total_seats"`
	ActiveDevices     int64            `json:"active_devices"`
}

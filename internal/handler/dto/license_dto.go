package dto

import "time"

type ActivateDeviceRequest struct {
	ProductID  int64  `json:"product_id" binding:"required"`
	Email      string `json:"email" binding:"required,email"`
	HardwareID string `json:"hardware_id" binding:"required"`
}

type ActivateDeviceResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	LicenseKey  string `json:"license_key"`
	ProductName string `json:"product_name"`
}

type VerifyLicenseRequest struct {
	ProductID  int64  `json:"product_id" binding:"required"`
	Email      string `json:"email" binding:"required,email"`
	HardwareID string `json:"hardware_id" binding:"required"`
}

type VerifyLicenseResponse struct {
	Valid       bool       `json:"valid"`
	Message     string     `json:"message"`
	LicenseKey  string     `json:"license_key,omitempty"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
}

type ClaimLicensesRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type ClaimedLicense struct {
	ID          int64      `json:"id"`
	ProductID   int64      `json:"product_id"`
	ProductName string     `json:"product_name,omitempty"`
	LicenseKey  string     `json:"license_key"`
	HardwareID  *string    `json:"hardware_id,omitempty"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Package model содержит доменные сущности сервиса выставления счетов.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// User представляет владельца аккаунта с реквизитами компании для шапки счёта.
type User struct {
	ID             int64
	Email          string
	PasswordHash   []byte
	Name           *string
	CompanyName    *string
	CompanyAddress *string
	CompanyPhone   *string
	LogoURL        *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Client представляет контрагента, принадлежащего одному пользователю.
type Client struct {
	ID        string
	UserID    int64
	Name      string
	Email     *string
	Phone     *string
	Address   *string
	City      *string
	State     *string
	ZipCode   *string
	Country   *string
	TaxNumber *string
	Notes     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// InvoiceStatus описывает статус жизненного цикла счёта.
type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "DRAFT"
	InvoiceStatusSent      InvoiceStatus = "SENT"
	InvoiceStatusPaid      InvoiceStatus = "PAID"
	InvoiceStatusOverdue   InvoiceStatus = "OVERDUE"
	InvoiceStatusCancelled InvoiceStatus = "CANCELLED"
)

// Valid сообщает, является ли значение одним из пяти допустимых статусов.
func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoiceStatusDraft, InvoiceStatusSent, InvoiceStatusPaid,
		InvoiceStatusOverdue, InvoiceStatusCancelled:
		return true
	}
	return false
}

// InvoiceItem описывает одну строку счёта.
type InvoiceItem struct {
	ID          string
	InvoiceID   string
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	Total       decimal.Decimal
}

// Invoice представляет счёт, принадлежащий одному пользователю и выставленный одному клиенту.
type Invoice struct {
	ID          string
	Number      string
	UserID      int64
	ClientID    string
	IssueDate   time.Time
	DueDate     time.Time
	Status      InvoiceStatus
	Subtotal    decimal.Decimal
	TaxRate     decimal.Decimal
	TaxAmount   decimal.Decimal
	Discount    decimal.Decimal
	Total       decimal.Decimal
	Notes       *string
	Terms       *string
	AmountPaid  *decimal.Decimal
	PaymentDate *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time

	Items  []InvoiceItem
	Client *Client
}

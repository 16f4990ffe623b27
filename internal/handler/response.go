package handler

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/invoicing-system/internal/model"
)

// Денежные значения сериализуются как JSON-числа с точным десятичным
// представлением, даты — в формате RFC3339.

type userResponse struct {
	ID             int64   `json:"id"`
	Email          string  `json:"email"`
	Name           *string `json:"name"`
	CompanyName    *string `json:"companyName"`
	CompanyAddress *string `json:"companyAddress"`
	CompanyPhone   *string `json:"companyPhone"`
	LogoURL        *string `json:"logoUrl"`
	CreatedAt      string  `json:"createdAt"`
	UpdatedAt      string  `json:"updatedAt"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:             u.ID,
		Email:          u.Email,
		Name:           u.Name,
		CompanyName:    u.CompanyName,
		CompanyAddress: u.CompanyAddress,
		CompanyPhone:   u.CompanyPhone,
		LogoURL:        u.LogoURL,
		CreatedAt:      u.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      u.UpdatedAt.Format(time.RFC3339),
	}
}

type clientResponse struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Email     *string `json:"email"`
	Phone     *string `json:"phone"`
	Address   *string `json:"address"`
	City      *string `json:"city"`
	State     *string `json:"state"`
	ZipCode   *string `json:"zipCode"`
	Country   *string `json:"country"`
	TaxNumber *string `json:"taxNumber"`
	Notes     *string `json:"notes"`
	CreatedAt string  `json:"createdAt"`
	UpdatedAt string  `json:"updatedAt"`
}

func toClientResponse(c *model.Client) clientResponse {
	return clientResponse{
		ID:        c.ID,
		Name:      c.Name,
		Email:     c.Email,
		Phone:     c.Phone,
		Address:   c.Address,
		City:      c.City,
		State:     c.State,
		ZipCode:   c.ZipCode,
		Country:   c.Country,
		TaxNumber: c.TaxNumber,
		Notes:     c.Notes,
		CreatedAt: c.CreatedAt.Format(time.RFC3339),
		UpdatedAt: c.UpdatedAt.Format(time.RFC3339),
	}
}

type itemResponse struct {
	ID          string      `json:"id"`
	Description string      `json:"description"`
	Quantity    json.Number `json:"quantity"`
	UnitPrice   json.Number `json:"unitPrice"`
	Total       json.Number `json:"total"`
}

type invoiceResponse struct {
	ID            string          `json:"id"`
	InvoiceNumber string          `json:"invoiceNumber"`
	ClientID      string          `json:"clientId"`
	IssueDate     string          `json:"issueDate"`
	DueDate       string          `json:"dueDate"`
	Status        string          `json:"status"`
	Subtotal      json.Number     `json:"subtotal"`
	TaxRate       json.Number     `json:"taxRate"`
	TaxAmount     json.Number     `json:"taxAmount"`
	Discount      json.Number     `json:"discount"`
	Total         json.Number     `json:"total"`
	Notes         *string         `json:"notes"`
	Terms         *string         `json:"terms"`
	AmountPaid    *json.Number    `json:"amountPaid"`
	PaymentDate   *string         `json:"paymentDate"`
	Items         []itemResponse  `json:"items"`
	Client        *clientResponse `json:"client,omitempty"`
	CreatedAt     string          `json:"createdAt"`
	UpdatedAt     string          `json:"updatedAt"`
}

func toInvoiceResponse(inv *model.Invoice) invoiceResponse {
	items := make([]itemResponse, 0, len(inv.Items))
	for _, it := range inv.Items {
		items = append(items, itemResponse{
			ID:          it.ID,
			Description: it.Description,
			Quantity:    num(it.Quantity),
			UnitPrice:   num(it.UnitPrice),
			Total:       num(it.Total),
		})
	}

	resp := invoiceResponse{
		ID:            inv.ID,
		InvoiceNumber: inv.Number,
		ClientID:      inv.ClientID,
		IssueDate:     inv.IssueDate.Format(time.RFC3339),
		DueDate:       inv.DueDate.Format(time.RFC3339),
		Status:        string(inv.Status),
		Subtotal:      num(inv.Subtotal),
		TaxRate:       num(inv.TaxRate),
		TaxAmount:     num(inv.TaxAmount),
		Discount:      num(inv.Discount),
		Total:         num(inv.Total),
		Notes:         inv.Notes,
		Terms:         inv.Terms,
		Items:         items,
		CreatedAt:     inv.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     inv.UpdatedAt.Format(time.RFC3339),
	}

	if inv.AmountPaid != nil {
		n := num(*inv.AmountPaid)
		resp.AmountPaid = &n
	}
	if inv.PaymentDate != nil {
		d := inv.PaymentDate.Format(time.RFC3339)
		resp.PaymentDate = &d
	}
	if inv.Client != nil {
		c := toClientResponse(inv.Client)
		resp.Client = &c
	}

	return resp
}

func num(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

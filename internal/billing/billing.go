// Package billing реализует бизнес-правила счетов: расчёт итогов,
// проверку строк и допустимость переходов между статусами.
// Пакет не обращается к хранилищу и не имеет побочных эффектов.
package billing

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/invoicing-system/internal/model"
)

// ErrInvalidTransition возвращается при запрещённом переходе между статусами счёта.
var (
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrInvalidStateForEdit возвращается при попытке изменить счёт не в статусе DRAFT.
	ErrInvalidStateForEdit = errors.New("only DRAFT invoices can be edited")
)

var hundred = decimal.NewFromInt(100)

// Item описывает строку счёта во входных данных запроса.
type Item struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
}

// Totals содержит рассчитанные суммы счёта.
type Totals struct {
	Subtotal  decimal.Decimal
	TaxAmount decimal.Decimal
	Total     decimal.Decimal
}

// ComputeTotals рассчитывает суммы счёта по строкам, ставке налога в процентах
// и абсолютной скидке. Итог не ограничивается нулём: скидка больше суммы даёт
// отрицательный итог. Округление не выполняется.
func ComputeTotals(items []Item, taxRate, discount decimal.Decimal) Totals {
	subtotal := decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.Quantity.Mul(it.UnitPrice))
	}

	taxAmount := subtotal.Mul(taxRate).Div(hundred)
	total := subtotal.Add(taxAmount).Sub(discount)

	return Totals{
		Subtotal:  subtotal,
		TaxAmount: taxAmount,
		Total:     total,
	}
}

// LineTotal возвращает сумму одной строки счёта.
func LineTotal(it Item) decimal.Decimal {
	return it.Quantity.Mul(it.UnitPrice)
}

// ValidateItems проверяет список строк счёта. Проверка выполняется до расчёта
// итогов и до любых изменений в хранилище.
func ValidateItems(items []Item) []string {
	if len(items) == 0 {
		return []string{"at least one invoice item is required"}
	}

	var errs []string
	for i, it := range items {
		if it.Description == "" {
			errs = append(errs, fmt.Sprintf("item %d: description is required", i+1))
		}
		if it.Quantity.LessThanOrEqual(decimal.Zero) {
			errs = append(errs, fmt.Sprintf("item %d: quantity must be positive", i+1))
		}
		if it.UnitPrice.IsNegative() {
			errs = append(errs, fmt.Sprintf("item %d: unit price cannot be negative", i+1))
		}
	}

	return errs
}

// NextInvoiceNumber формирует отображаемый номер счёта по количеству уже
// существующих счетов пользователя. Номер не защищён от гонки при
// одновременном создании двух счетов одним пользователем.
func NextInvoiceNumber(existingCount int64) string {
	return fmt.Sprintf("INV-%04d", existingCount+1)
}

// allowedTransitions перечисляет допустимые переходы между различающимися статусами.
var allowedTransitions = map[model.InvoiceStatus][]model.InvoiceStatus{
	model.InvoiceStatusDraft: {
		model.InvoiceStatusSent, model.InvoiceStatusPaid,
		model.InvoiceStatusCancelled, model.InvoiceStatusOverdue,
	},
	model.InvoiceStatusSent: {
		model.InvoiceStatusPaid, model.InvoiceStatusCancelled,
		model.InvoiceStatusOverdue, model.InvoiceStatusDraft,
	},
	model.InvoiceStatusPaid: {
		model.InvoiceStatusCancelled, model.InvoiceStatusOverdue,
	},
	model.InvoiceStatusOverdue: {
		model.InvoiceStatusDraft, model.InvoiceStatusSent,
		model.InvoiceStatusPaid, model.InvoiceStatusCancelled,
	},
	model.InvoiceStatusCancelled: {
		model.InvoiceStatusDraft, model.InvoiceStatusSent,
		model.InvoiceStatusPaid, model.InvoiceStatusOverdue,
	},
}

// CanTransition сообщает, допустим ли переход счёта из статуса from в статус to.
// Повторная установка текущего статуса допустима и не имеет побочных эффектов.
func CanTransition(from, to model.InvoiceStatus) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// StatusUpdate содержит поля счёта, изменяемые при смене статуса.
type StatusUpdate struct {
	Status      model.InvoiceStatus
	AmountPaid  *decimal.Decimal
	PaymentDate *time.Time
}

// ApplyStatusChange проверяет переход и возвращает изменяемые поля.
// Перевод в PAID из любого другого статуса фиксирует оплату всей суммы счёта;
// если счёт уже оплачен, данные об оплате не перезаписываются.
func ApplyStatusChange(inv *model.Invoice, to model.InvoiceStatus, now time.Time) (StatusUpdate, error) {
	if !CanTransition(inv.Status, to) {
		return StatusUpdate{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, inv.Status, to)
	}

	upd := StatusUpdate{Status: to}

	if to == model.InvoiceStatusPaid && inv.Status != model.InvoiceStatusPaid {
		paid := inv.Total
		upd.AmountPaid = &paid
		upd.PaymentDate = &now
	}

	return upd, nil
}

// CanEdit сообщает, можно ли изменять поля счёта (строки, клиента, даты,
// налог, скидку). Изменения допустимы только в статусе DRAFT.
func CanEdit(inv *model.Invoice) bool {
	return inv.Status == model.InvoiceStatusDraft
}

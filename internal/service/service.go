// Package service реализует бизнес-логику сервиса выставления счетов.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/mmeshcher/invoicing-system/internal/billing"
	"github.com/mmeshcher/invoicing-system/internal/model"
	"github.com/mmeshcher/invoicing-system/internal/repository"
	"github.com/mmeshcher/invoicing-system/internal/validation"
)

// ErrInvalidCredentials возвращается при неверной паре email/пароль.
var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrForbidden возвращается при обращении к чужому ресурсу.
	ErrForbidden = errors.New("resource belongs to another user")
	// ErrNoOpUpdate возвращается, когда в запросе на обновление нет ни одного поля.
	ErrNoOpUpdate = errors.New("no fields to update")
	// ErrEmailImmutable возвращается при попытке сменить email через профиль.
	ErrEmailImmutable = errors.New("email cannot be changed")
	// ErrDeletePaidInvoice возвращается при попытке удалить оплаченный счёт.
	ErrDeletePaidInvoice = errors.New("paid invoices cannot be deleted, cancel them instead")
)

const overdueSweepInterval = time.Minute

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error

	CreateUser(ctx context.Context, u *model.User) error
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	UpdateUser(ctx context.Context, u *model.User) error
	UpdateUserPassword(ctx context.Context, id int64, passwordHash []byte) error
	DeleteUser(ctx context.Context, id int64) error

	CreateClient(ctx context.Context, c *model.Client) error
	GetClientByID(ctx context.Context, id string) (*model.Client, error)
	GetClientForUser(ctx context.Context, userID int64, id string) (*model.Client, error)
	ListClientsByUser(ctx context.Context, userID int64) ([]model.Client, error)
	UpdateClient(ctx context.Context, c *model.Client) error
	DeleteClient(ctx context.Context, id string) error

	CountInvoicesByUser(ctx context.Context, userID int64) (int64, error)
	CreateInvoiceWithItems(ctx context.Context, inv *model.Invoice) error
	GetInvoiceByID(ctx context.Context, id string) (*model.Invoice, error)
	ListInvoicesByUser(ctx context.Context, userID int64) ([]model.Invoice, error)
	UpdateInvoiceFields(ctx context.Context, inv *model.Invoice) error
	ReplaceInvoiceItems(ctx context.Context, invoiceID string, items []model.InvoiceItem) error
	DeleteInvoice(ctx context.Context, id string) error
	MarkOverdueInvoices(ctx context.Context, now time.Time) (int64, error)
}

// Service содержит бизнес-логику сервиса выставления счетов.
type Service struct {
	repo Repository
}

// NewService создаёт новый сервис с указанным репозиторием.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового пользователя.
func (s *Service) RegisterUser(ctx context.Context, in validation.SignupInput) (*model.User, error) {
	if err := validation.ValidateSignup(in); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &model.User{
		Email:          strings.ToLower(strings.TrimSpace(in.Email)),
		PasswordHash:   hash,
		Name:           validation.SanitizeString(in.Name),
		CompanyName:    validation.SanitizeString(in.CompanyName),
		CompanyAddress: validation.SanitizeString(in.CompanyAddress),
		CompanyPhone:   validation.SanitizeString(in.CompanyPhone),
		LogoURL:        trimPtr(in.LogoURL),
	}

	if err := s.repo.CreateUser(ctx, u); err != nil {
		return nil, err
	}

	return u, nil
}

// AuthenticateUser проверяет email и пароль пользователя.
func (s *Service) AuthenticateUser(ctx context.Context, email, password string) (*model.User, error) {
	if err := validation.ValidateLogin(email, password); err != nil {
		return nil, err
	}

	u, err := s.repo.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return u, nil
}

// GetUserByID возвращает пользователя по идентификатору.
func (s *Service) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	return s.repo.GetUserByID(ctx, id)
}

// ProfileUpdate описывает разреженный запрос на обновление профиля.
type ProfileUpdate struct {
	Email          Opt[string] `json:"email"`
	Name           Opt[string] `json:"name"`
	CompanyName    Opt[string] `json:"companyName"`
	CompanyAddress Opt[string] `json:"companyAddress"`
	CompanyPhone   Opt[string] `json:"companyPhone"`
	LogoURL        Opt[string] `json:"logoUrl"`
}

// UpdateProfile применяет к профилю только поля, присутствующие в запросе.
// Явный null очищает поле; смена email запрещена.
func (s *Service) UpdateProfile(ctx context.Context, userID int64, upd ProfileUpdate) (*model.User, error) {
	if upd.Email.Set {
		return nil, ErrEmailImmutable
	}

	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	changed := false
	apply := func(opt Opt[string], dst **string, sanitize bool) {
		if !opt.Set {
			return
		}
		changed = true
		if sanitize {
			*dst = validation.SanitizeString(opt.Value)
		} else {
			*dst = trimPtr(opt.Value)
		}
	}

	apply(upd.Name, &u.Name, true)
	apply(upd.CompanyName, &u.CompanyName, true)
	apply(upd.CompanyAddress, &u.CompanyAddress, true)
	apply(upd.CompanyPhone, &u.CompanyPhone, true)
	apply(upd.LogoURL, &u.LogoURL, false)

	if !changed {
		return nil, ErrNoOpUpdate
	}

	if err := s.repo.UpdateUser(ctx, u); err != nil {
		return nil, err
	}

	return u, nil
}

// ChangePassword меняет пароль пользователя после проверки текущего.
func (s *Service) ChangePassword(ctx context.Context, userID int64, currentPassword, newPassword string) error {
	var msgs []string
	if currentPassword == "" || newPassword == "" {
		msgs = append(msgs, "current password and new password are required")
	} else {
		if len(newPassword) < 8 {
			msgs = append(msgs, "new password must be at least 8 characters long")
		}
		if currentPassword == newPassword {
			msgs = append(msgs, "new password must be different from current password")
		}
	}
	if err := validation.NewError(msgs); err != nil {
		return err
	}

	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}

	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(currentPassword)); err != nil {
		return ErrInvalidCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	return s.repo.UpdateUserPassword(ctx, userID, hash)
}

// DeleteAccount удаляет аккаунт пользователя вместе со всеми данными.
func (s *Service) DeleteAccount(ctx context.Context, userID int64) error {
	return s.repo.DeleteUser(ctx, userID)
}

// CreateClient создаёт нового клиента текущего пользователя.
func (s *Service) CreateClient(ctx context.Context, userID int64, in validation.ClientInput) (*model.Client, error) {
	if err := validation.ValidateClient(in); err != nil {
		return nil, err
	}

	name := validation.SanitizeString(&in.Name)

	c := &model.Client{
		UserID:    userID,
		Name:      *name,
		Email:     validation.SanitizeString(in.Email),
		Phone:     validation.SanitizeString(in.Phone),
		Address:   validation.SanitizeString(in.Address),
		City:      validation.SanitizeString(in.City),
		State:     validation.SanitizeString(in.State),
		ZipCode:   validation.SanitizeString(in.ZipCode),
		Country:   validation.SanitizeString(in.Country),
		TaxNumber: validation.SanitizeString(in.TaxNumber),
		Notes:     validation.SanitizeString(in.Notes),
	}

	if err := s.repo.CreateClient(ctx, c); err != nil {
		return nil, err
	}

	return c, nil
}

// ListClients возвращает список клиентов пользователя.
func (s *Service) ListClients(ctx context.Context, userID int64) ([]model.Client, error) {
	return s.repo.ListClientsByUser(ctx, userID)
}

// GetClient возвращает клиента после проверки принадлежности пользователю.
func (s *Service) GetClient(ctx context.Context, userID int64, clientID string) (*model.Client, error) {
	c, err := s.repo.GetClientByID(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if c.UserID != userID {
		return nil, ErrForbidden
	}
	return c, nil
}

// ClientUpdate описывает разреженный запрос на обновление клиента.
type ClientUpdate struct {
	Name      Opt[string] `json:"name"`
	Email     Opt[string] `json:"email"`
	Phone     Opt[string] `json:"phone"`
	Address   Opt[string] `json:"address"`
	City      Opt[string] `json:"city"`
	State     Opt[string] `json:"state"`
	ZipCode   Opt[string] `json:"zipCode"`
	Country   Opt[string] `json:"country"`
	TaxNumber Opt[string] `json:"taxNumber"`
	Notes     Opt[string] `json:"notes"`
}

// UpdateClient применяет к клиенту только поля, присутствующие в запросе.
func (s *Service) UpdateClient(ctx context.Context, userID int64, clientID string, upd ClientUpdate) (*model.Client, error) {
	c, err := s.GetClient(ctx, userID, clientID)
	if err != nil {
		return nil, err
	}

	changed := false
	apply := func(opt Opt[string], dst **string) {
		if !opt.Set {
			return
		}
		changed = true
		*dst = validation.SanitizeString(opt.Value)
	}

	if upd.Name.Set {
		changed = true
		name := validation.SanitizeString(upd.Name.Value)
		if name == nil {
			return nil, validation.NewError([]string{"client name is required"})
		}
		c.Name = *name
	}
	apply(upd.Email, &c.Email)
	apply(upd.Phone, &c.Phone)
	apply(upd.Address, &c.Address)
	apply(upd.City, &c.City)
	apply(upd.State, &c.State)
	apply(upd.ZipCode, &c.ZipCode)
	apply(upd.Country, &c.Country)
	apply(upd.TaxNumber, &c.TaxNumber)
	apply(upd.Notes, &c.Notes)

	if !changed {
		return nil, ErrNoOpUpdate
	}

	if err := validation.ValidateClient(validation.ClientInput{
		Name:  c.Name,
		Email: c.Email,
		Phone: c.Phone,
	}); err != nil {
		return nil, err
	}

	if err := s.repo.UpdateClient(ctx, c); err != nil {
		return nil, err
	}

	return c, nil
}

// DeleteClient удаляет клиента после проверки принадлежности пользователю.
func (s *Service) DeleteClient(ctx context.Context, userID int64, clientID string) error {
	if _, err := s.GetClient(ctx, userID, clientID); err != nil {
		return err
	}
	return s.repo.DeleteClient(ctx, clientID)
}

// InvoiceInput содержит данные запроса на создание счёта.
type InvoiceInput struct {
	ClientID string          `json:"clientId"`
	DueDate  time.Time       `json:"dueDate"`
	TaxRate  decimal.Decimal `json:"taxRate"`
	Discount decimal.Decimal `json:"discount"`
	Notes    *string         `json:"notes"`
	Terms    *string         `json:"terms"`
	Items    []billing.Item  `json:"items"`
}

// CreateInvoice создаёт счёт в статусе DRAFT вместе со строками.
// Строки проверяются до расчёта итогов и любых записей в хранилище.
func (s *Service) CreateInvoice(ctx context.Context, userID int64, in InvoiceInput) (*model.Invoice, error) {
	var msgs []string
	if in.ClientID == "" {
		msgs = append(msgs, "client ID is required")
	}
	if in.DueDate.IsZero() {
		msgs = append(msgs, "due date is required")
	}
	msgs = append(msgs, billing.ValidateItems(in.Items)...)
	if err := validation.NewError(msgs); err != nil {
		return nil, err
	}

	client, err := s.repo.GetClientForUser(ctx, userID, in.ClientID)
	if err != nil {
		return nil, err
	}

	totals := billing.ComputeTotals(in.Items, in.TaxRate, in.Discount)

	count, err := s.repo.CountInvoicesByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	inv := &model.Invoice{
		Number:    billing.NextInvoiceNumber(count),
		UserID:    userID,
		ClientID:  in.ClientID,
		IssueDate: time.Now(),
		DueDate:   in.DueDate,
		Status:    model.InvoiceStatusDraft,
		Subtotal:  totals.Subtotal,
		TaxRate:   in.TaxRate,
		TaxAmount: totals.TaxAmount,
		Discount:  in.Discount,
		Total:     totals.Total,
		Notes:     validation.SanitizeString(in.Notes),
		Terms:     validation.SanitizeString(in.Terms),
		Items:     buildItems(in.Items),
	}

	if err := s.repo.CreateInvoiceWithItems(ctx, inv); err != nil {
		return nil, err
	}

	inv.Client = client
	return inv, nil
}

func buildItems(items []billing.Item) []model.InvoiceItem {
	res := make([]model.InvoiceItem, 0, len(items))
	for _, it := range items {
		res = append(res, model.InvoiceItem{
			Description: it.Description,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			Total:       billing.LineTotal(it),
		})
	}
	return res
}

// ListInvoices возвращает счета пользователя.
func (s *Service) ListInvoices(ctx context.Context, userID int64) ([]model.Invoice, error) {
	return s.repo.ListInvoicesByUser(ctx, userID)
}

// GetInvoice возвращает счёт после проверки принадлежности пользователю.
func (s *Service) GetInvoice(ctx context.Context, userID int64, invoiceID string) (*model.Invoice, error) {
	inv, err := s.repo.GetInvoiceByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.UserID != userID {
		return nil, ErrForbidden
	}
	return inv, nil
}

// InvoiceUpdate описывает разреженный запрос на обновление счёта в статусе DRAFT.
// Список строк заменяется целиком, если присутствует в запросе.
type InvoiceUpdate struct {
	ClientID *string              `json:"clientId"`
	DueDate  Opt[time.Time]       `json:"dueDate"`
	TaxRate  Opt[decimal.Decimal] `json:"taxRate"`
	Discount Opt[decimal.Decimal] `json:"discount"`
	Notes    Opt[string]          `json:"notes"`
	Terms    Opt[string]          `json:"terms"`
	Items    *[]billing.Item      `json:"items"`
}

// UpdateInvoice изменяет поля счёта. Допустимо только в статусе DRAFT;
// строки проверяются до удаления существующих.
func (s *Service) UpdateInvoice(ctx context.Context, userID int64, invoiceID string, upd InvoiceUpdate) (*model.Invoice, error) {
	inv, err := s.GetInvoice(ctx, userID, invoiceID)
	if err != nil {
		return nil, err
	}

	if !billing.CanEdit(inv) {
		return nil, fmt.Errorf("%w: current status %s", billing.ErrInvalidStateForEdit, inv.Status)
	}

	changed := false

	if upd.ClientID != nil {
		if *upd.ClientID != inv.ClientID {
			client, err := s.repo.GetClientForUser(ctx, userID, *upd.ClientID)
			if err != nil {
				return nil, err
			}
			inv.ClientID = client.ID
			inv.Client = client
		}
		changed = true
	}

	if upd.DueDate.Set {
		if upd.DueDate.Value == nil {
			return nil, validation.NewError([]string{"due date cannot be null"})
		}
		inv.DueDate = *upd.DueDate.Value
		changed = true
	}
	if upd.TaxRate.Set {
		if upd.TaxRate.Value == nil {
			return nil, validation.NewError([]string{"tax rate cannot be null"})
		}
		inv.TaxRate = *upd.TaxRate.Value
		changed = true
	}
	if upd.Discount.Set {
		if upd.Discount.Value == nil {
			return nil, validation.NewError([]string{"discount cannot be null"})
		}
		inv.Discount = *upd.Discount.Value
		changed = true
	}
	if upd.Notes.Set {
		inv.Notes = validation.SanitizeString(upd.Notes.Value)
		changed = true
	}
	if upd.Terms.Set {
		inv.Terms = validation.SanitizeString(upd.Terms.Value)
		changed = true
	}

	var newItems []model.InvoiceItem
	if upd.Items != nil {
		if msgs := billing.ValidateItems(*upd.Items); len(msgs) > 0 {
			return nil, validation.NewError(msgs)
		}
		totals := billing.ComputeTotals(*upd.Items, inv.TaxRate, inv.Discount)
		inv.Subtotal = totals.Subtotal
		inv.TaxAmount = totals.TaxAmount
		inv.Total = totals.Total
		newItems = buildItems(*upd.Items)
		changed = true
	} else if upd.TaxRate.Set || upd.Discount.Set {
		taxAmount := inv.Subtotal.Mul(inv.TaxRate).Div(decimal.NewFromInt(100))
		inv.TaxAmount = taxAmount
		inv.Total = inv.Subtotal.Add(taxAmount).Sub(inv.Discount)
	}

	if !changed {
		return nil, ErrNoOpUpdate
	}

	if err := s.repo.UpdateInvoiceFields(ctx, inv); err != nil {
		return nil, err
	}

	if newItems != nil {
		if err := s.repo.ReplaceInvoiceItems(ctx, inv.ID, newItems); err != nil {
			return nil, err
		}
		inv.Items = newItems
	}

	return inv, nil
}

// UpdateInvoiceStatus переводит счёт в новый статус с учётом таблицы переходов.
func (s *Service) UpdateInvoiceStatus(ctx context.Context, userID int64, invoiceID string, status string) (*model.Invoice, error) {
	to := model.InvoiceStatus(status)
	if !to.Valid() {
		return nil, validation.NewError([]string{
			"invalid status, must be one of: DRAFT, SENT, PAID, OVERDUE, CANCELLED",
		})
	}

	inv, err := s.GetInvoice(ctx, userID, invoiceID)
	if err != nil {
		return nil, err
	}

	upd, err := billing.ApplyStatusChange(inv, to, time.Now())
	if err != nil {
		return nil, err
	}

	inv.Status = upd.Status
	if upd.AmountPaid != nil {
		inv.AmountPaid = upd.AmountPaid
	}
	if upd.PaymentDate != nil {
		inv.PaymentDate = upd.PaymentDate
	}

	if err := s.repo.UpdateInvoiceFields(ctx, inv); err != nil {
		return nil, err
	}

	return inv, nil
}

// DeleteInvoice удаляет счёт. Оплаченные счета удалять запрещено.
func (s *Service) DeleteInvoice(ctx context.Context, userID int64, invoiceID string) error {
	inv, err := s.GetInvoice(ctx, userID, invoiceID)
	if err != nil {
		return err
	}

	if inv.Status == model.InvoiceStatusPaid {
		return ErrDeletePaidInvoice
	}

	return s.repo.DeleteInvoice(ctx, invoiceID)
}

// StartOverdueSweep запускает фоновый процесс перевода просроченных счетов в OVERDUE.
func (s *Service) StartOverdueSweep(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(overdueSweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = s.repo.MarkOverdueInvoices(ctx, time.Now())
			}
		}
	}()
}

func trimPtr(s *string) *string {
	if s == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*s)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

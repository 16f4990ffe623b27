package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/mmeshcher/invoicing-system/internal/billing"
	"github.com/mmeshcher/invoicing-system/internal/model"
	"github.com/mmeshcher/invoicing-system/internal/validation"
)

type stubRepo struct {
	user    *model.User
	userErr error

	client    *model.Client
	clientErr error

	invoice    *model.Invoice
	invoiceErr error

	invoiceCount int64

	createdUser    *model.User
	createdInvoice *model.Invoice
	updatedClient  *model.Client
	updatedInvoice *model.Invoice

	replaceItemsCalled bool
	replacedItems      []model.InvoiceItem
	deleteInvoiceID    string
}

func (s *stubRepo) Close() error { return nil }

func (s *stubRepo) CreateUser(ctx context.Context, u *model.User) error {
	s.createdUser = u
	u.ID = 1
	return s.userErr
}

func (s *stubRepo) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.user, s.userErr
}

func (s *stubRepo) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	return s.user, s.userErr
}

func (s *stubRepo) UpdateUser(ctx context.Context, u *model.User) error { return nil }

func (s *stubRepo) UpdateUserPassword(ctx context.Context, id int64, passwordHash []byte) error {
	return nil
}

func (s *stubRepo) DeleteUser(ctx context.Context, id int64) error { return nil }

func (s *stubRepo) CreateClient(ctx context.Context, c *model.Client) error {
	c.ID = "client-1"
	return nil
}

func (s *stubRepo) GetClientByID(ctx context.Context, id string) (*model.Client, error) {
	return s.client, s.clientErr
}

func (s *stubRepo) GetClientForUser(ctx context.Context, userID int64, id string) (*model.Client, error) {
	return s.client, s.clientErr
}

func (s *stubRepo) ListClientsByUser(ctx context.Context, userID int64) ([]model.Client, error) {
	return nil, nil
}

func (s *stubRepo) UpdateClient(ctx context.Context, c *model.Client) error {
	s.updatedClient = c
	return nil
}

func (s *stubRepo) DeleteClient(ctx context.Context, id string) error { return nil }

func (s *stubRepo) CountInvoicesByUser(ctx context.Context, userID int64) (int64, error) {
	return s.invoiceCount, nil
}

func (s *stubRepo) CreateInvoiceWithItems(ctx context.Context, inv *model.Invoice) error {
	s.createdInvoice = inv
	inv.ID = "invoice-1"
	return nil
}

func (s *stubRepo) GetInvoiceByID(ctx context.Context, id string) (*model.Invoice, error) {
	return s.invoice, s.invoiceErr
}

func (s *stubRepo) ListInvoicesByUser(ctx context.Context, userID int64) ([]model.Invoice, error) {
	return nil, nil
}

func (s *stubRepo) UpdateInvoiceFields(ctx context.Context, inv *model.Invoice) error {
	s.updatedInvoice = inv
	return nil
}

func (s *stubRepo) ReplaceInvoiceItems(ctx context.Context, invoiceID string, items []model.InvoiceItem) error {
	s.replaceItemsCalled = true
	s.replacedItems = items
	return nil
}

func (s *stubRepo) DeleteInvoice(ctx context.Context, id string) error {
	s.deleteInvoiceID = id
	return nil
}

func (s *stubRepo) MarkOverdueInvoices(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestRegisterUser(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo)

	u, err := svc.RegisterUser(context.Background(), validation.SignupInput{
		Email:    "  User@Example.COM ",
		Password: "secret123",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if u.Email != "user@example.com" {
		t.Errorf("Email = %q, want lowercased trimmed", u.Email)
	}
	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte("secret123")); err != nil {
		t.Errorf("password hash does not verify: %v", err)
	}
}

func TestRegisterUser_ValidationError(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo)

	_, err := svc.RegisterUser(context.Background(), validation.SignupInput{
		Email:    "not-an-email",
		Password: "short",
	})

	var vErr *validation.Error
	if !errors.As(err, &vErr) {
		t.Fatalf("err = %v, want *validation.Error", err)
	}
	if repo.createdUser != nil {
		t.Errorf("CreateUser must not be called on invalid input")
	}
}

func TestAuthenticateUser(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret123"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("generate hash: %v", err)
	}

	repo := &stubRepo{user: &model.User{ID: 7, Email: "user@example.com", PasswordHash: hash}}
	svc := NewService(repo)

	u, err := svc.AuthenticateUser(context.Background(), "user@example.com", "secret123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.ID != 7 {
		t.Errorf("ID = %d, want 7", u.ID)
	}

	if _, err := svc.AuthenticateUser(context.Background(), "user@example.com", "wrong-pass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("err = %v, want ErrInvalidCredentials", err)
	}
}

func TestUpdateProfile_EmailImmutable(t *testing.T) {
	svc := NewService(&stubRepo{user: &model.User{ID: 1}})

	var upd ProfileUpdate
	if err := json.Unmarshal([]byte(`{"email":"new@example.com"}`), &upd); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if _, err := svc.UpdateProfile(context.Background(), 1, upd); !errors.Is(err, ErrEmailImmutable) {
		t.Errorf("err = %v, want ErrEmailImmutable", err)
	}
}

func TestUpdateProfile_NoOp(t *testing.T) {
	svc := NewService(&stubRepo{user: &model.User{ID: 1}})

	if _, err := svc.UpdateProfile(context.Background(), 1, ProfileUpdate{}); !errors.Is(err, ErrNoOpUpdate) {
		t.Errorf("err = %v, want ErrNoOpUpdate", err)
	}
}

func TestUpdateProfile_NullClearsField(t *testing.T) {
	name := "Old Name"
	phone := "555-123-4567"
	repo := &stubRepo{user: &model.User{ID: 1, Name: &name, CompanyPhone: &phone}}
	svc := NewService(repo)

	var upd ProfileUpdate
	if err := json.Unmarshal([]byte(`{"name":null}`), &upd); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	u, err := svc.UpdateProfile(context.Background(), 1, upd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if u.Name != nil {
		t.Errorf("Name = %q, want cleared", *u.Name)
	}
	if u.CompanyPhone == nil || *u.CompanyPhone != phone {
		t.Errorf("CompanyPhone must stay untouched")
	}
}

func TestUpdateClient_SparsePayload(t *testing.T) {
	email := "old@example.com"
	repo := &stubRepo{client: &model.Client{ID: "c1", UserID: 1, Name: "Client Inc", Email: &email}}
	svc := NewService(repo)

	var upd ClientUpdate
	if err := json.Unmarshal([]byte(`{"phone":"555-123-4567"}`), &upd); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	c, err := svc.UpdateClient(context.Background(), 1, "c1", upd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if c.Phone == nil || *c.Phone != "555-123-4567" {
		t.Errorf("Phone not applied")
	}
	if c.Name != "Client Inc" {
		t.Errorf("Name = %q, absent key must leave stored value untouched", c.Name)
	}
	if c.Email == nil || *c.Email != email {
		t.Errorf("Email must stay untouched")
	}
}

func TestUpdateClient_Forbidden(t *testing.T) {
	repo := &stubRepo{client: &model.Client{ID: "c1", UserID: 2, Name: "Client Inc"}}
	svc := NewService(repo)

	var upd ClientUpdate
	if err := json.Unmarshal([]byte(`{"phone":"555-123-4567"}`), &upd); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if _, err := svc.UpdateClient(context.Background(), 1, "c1", upd); !errors.Is(err, ErrForbidden) {
		t.Errorf("err = %v, want ErrForbidden", err)
	}
}

func TestCreateInvoice(t *testing.T) {
	repo := &stubRepo{
		client:       &model.Client{ID: "c1", UserID: 1, Name: "Client Inc"},
		invoiceCount: 0,
	}
	svc := NewService(repo)

	inv, err := svc.CreateInvoice(context.Background(), 1, InvoiceInput{
		ClientID: "c1",
		DueDate:  time.Now().Add(14 * 24 * time.Hour),
		TaxRate:  dec("10"),
		Discount: dec("1"),
		Items: []billing.Item{
			{Description: "A", Quantity: dec("2"), UnitPrice: dec("10")},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if inv.Number != "INV-0001" {
		t.Errorf("Number = %q, want INV-0001", inv.Number)
	}
	if inv.Status != model.InvoiceStatusDraft {
		t.Errorf("Status = %s, want DRAFT", inv.Status)
	}
	if !inv.Subtotal.Equal(dec("20")) {
		t.Errorf("Subtotal = %s, want 20", inv.Subtotal)
	}
	if !inv.TaxAmount.Equal(dec("2")) {
		t.Errorf("TaxAmount = %s, want 2", inv.TaxAmount)
	}
	if !inv.Total.Equal(dec("21")) {
		t.Errorf("Total = %s, want 21", inv.Total)
	}
	if len(inv.Items) != 1 || !inv.Items[0].Total.Equal(dec("20")) {
		t.Errorf("item line total = %v, want 20", inv.Items)
	}
}

func TestCreateInvoice_InvalidItems(t *testing.T) {
	repo := &stubRepo{client: &model.Client{ID: "c1", UserID: 1}}
	svc := NewService(repo)

	_, err := svc.CreateInvoice(context.Background(), 1, InvoiceInput{
		ClientID: "c1",
		DueDate:  time.Now(),
		Items: []billing.Item{
			{Description: "A", Quantity: dec("0"), UnitPrice: dec("10")},
		},
	})

	var vErr *validation.Error
	if !errors.As(err, &vErr) {
		t.Fatalf("err = %v, want *validation.Error", err)
	}
	if repo.createdInvoice != nil {
		t.Errorf("invoice must not be persisted on invalid items")
	}
}

func TestUpdateInvoice_NotDraft(t *testing.T) {
	repo := &stubRepo{
		invoice: &model.Invoice{ID: "i1", UserID: 1, Status: model.InvoiceStatusSent},
	}
	svc := NewService(repo)

	var upd InvoiceUpdate
	if err := json.Unmarshal([]byte(`{"discount":5}`), &upd); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	_, err := svc.UpdateInvoice(context.Background(), 1, "i1", upd)
	if !errors.Is(err, billing.ErrInvalidStateForEdit) {
		t.Errorf("err = %v, want ErrInvalidStateForEdit", err)
	}
}

func TestUpdateInvoice_InvalidItemsDoNotReplace(t *testing.T) {
	repo := &stubRepo{
		invoice: &model.Invoice{ID: "i1", UserID: 1, Status: model.InvoiceStatusDraft},
	}
	svc := NewService(repo)

	var upd InvoiceUpdate
	if err := json.Unmarshal([]byte(`{"items":[{"description":"","quantity":1,"unitPrice":1}]}`), &upd); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	_, err := svc.UpdateInvoice(context.Background(), 1, "i1", upd)

	var vErr *validation.Error
	if !errors.As(err, &vErr) {
		t.Fatalf("err = %v, want *validation.Error", err)
	}
	if repo.replaceItemsCalled {
		t.Errorf("existing items must not be replaced on invalid input")
	}
	if repo.updatedInvoice != nil {
		t.Errorf("invoice fields must not be updated on invalid input")
	}
}

func TestUpdateInvoice_ReplacesItemsAndRecomputes(t *testing.T) {
	repo := &stubRepo{
		invoice: &model.Invoice{
			ID:       "i1",
			UserID:   1,
			Status:   model.InvoiceStatusDraft,
			TaxRate:  dec("10"),
			Discount: dec("1"),
			Subtotal: dec("100"),
		},
	}
	svc := NewService(repo)

	var upd InvoiceUpdate
	if err := json.Unmarshal([]byte(`{"items":[{"description":"B","quantity":3,"unitPrice":5}]}`), &upd); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	inv, err := svc.UpdateInvoice(context.Background(), 1, "i1", upd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !inv.Subtotal.Equal(dec("15")) {
		t.Errorf("Subtotal = %s, want 15", inv.Subtotal)
	}
	if !inv.TaxAmount.Equal(dec("1.5")) {
		t.Errorf("TaxAmount = %s, want 1.5", inv.TaxAmount)
	}
	if !inv.Total.Equal(dec("15.5")) {
		t.Errorf("Total = %s, want 15.5", inv.Total)
	}
	if !repo.replaceItemsCalled || len(repo.replacedItems) != 1 {
		t.Errorf("items must be replaced wholesale")
	}
}

func TestUpdateInvoice_NoOp(t *testing.T) {
	repo := &stubRepo{
		invoice: &model.Invoice{ID: "i1", UserID: 1, Status: model.InvoiceStatusDraft},
	}
	svc := NewService(repo)

	if _, err := svc.UpdateInvoice(context.Background(), 1, "i1", InvoiceUpdate{}); !errors.Is(err, ErrNoOpUpdate) {
		t.Errorf("err = %v, want ErrNoOpUpdate", err)
	}
}

func TestUpdateInvoiceStatus_MarkPaid(t *testing.T) {
	repo := &stubRepo{
		invoice: &model.Invoice{
			ID:     "i1",
			UserID: 1,
			Status: model.InvoiceStatusSent,
			Total:  dec("21"),
		},
	}
	svc := NewService(repo)

	inv, err := svc.UpdateInvoiceStatus(context.Background(), 1, "i1", "PAID")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if inv.Status != model.InvoiceStatusPaid {
		t.Errorf("Status = %s, want PAID", inv.Status)
	}
	if inv.AmountPaid == nil || !inv.AmountPaid.Equal(dec("21")) {
		t.Errorf("AmountPaid = %v, want 21", inv.AmountPaid)
	}
	if inv.PaymentDate == nil {
		t.Errorf("PaymentDate must be set")
	}
}

func TestUpdateInvoiceStatus_PaidToDraft(t *testing.T) {
	repo := &stubRepo{
		invoice: &model.Invoice{ID: "i1", UserID: 1, Status: model.InvoiceStatusPaid},
	}
	svc := NewService(repo)

	_, err := svc.UpdateInvoiceStatus(context.Background(), 1, "i1", "DRAFT")
	if !errors.Is(err, billing.ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestUpdateInvoiceStatus_Unknown(t *testing.T) {
	svc := NewService(&stubRepo{})

	_, err := svc.UpdateInvoiceStatus(context.Background(), 1, "i1", "ARCHIVED")

	var vErr *validation.Error
	if !errors.As(err, &vErr) {
		t.Errorf("err = %v, want *validation.Error", err)
	}
}

func TestDeleteInvoice_PaidForbidden(t *testing.T) {
	repo := &stubRepo{
		invoice: &model.Invoice{ID: "i1", UserID: 1, Status: model.InvoiceStatusPaid},
	}
	svc := NewService(repo)

	if err := svc.DeleteInvoice(context.Background(), 1, "i1"); !errors.Is(err, ErrDeletePaidInvoice) {
		t.Errorf("err = %v, want ErrDeletePaidInvoice", err)
	}
	if repo.deleteInvoiceID != "" {
		t.Errorf("paid invoice must not be deleted")
	}
}

func TestDeleteInvoice_Cancelled(t *testing.T) {
	repo := &stubRepo{
		invoice: &model.Invoice{ID: "i1", UserID: 1, Status: model.InvoiceStatusCancelled},
	}
	svc := NewService(repo)

	if err := svc.DeleteInvoice(context.Background(), 1, "i1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.deleteInvoiceID != "i1" {
		t.Errorf("invoice was not deleted")
	}
}

func TestGetInvoice_Forbidden(t *testing.T) {
	repo := &stubRepo{
		invoice: &model.Invoice{ID: "i1", UserID: 2, Status: model.InvoiceStatusDraft},
	}
	svc := NewService(repo)

	if _, err := svc.GetInvoice(context.Background(), 1, "i1"); !errors.Is(err, ErrForbidden) {
		t.Errorf("err = %v, want ErrForbidden", err)
	}
}

func TestChangePassword(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("current-pass"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("generate hash: %v", err)
	}
	repo := &stubRepo{user: &model.User{ID: 1, PasswordHash: hash}}
	svc := NewService(repo)

	if err := svc.ChangePassword(context.Background(), 1, "current-pass", "new-password"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := svc.ChangePassword(context.Background(), 1, "wrong-pass", "new-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("err = %v, want ErrInvalidCredentials", err)
	}

	var vErr *validation.Error
	if err := svc.ChangePassword(context.Background(), 1, "current-pass", "short"); !errors.As(err, &vErr) {
		t.Errorf("err = %v, want *validation.Error", err)
	}
	if err := svc.ChangePassword(context.Background(), 1, "same-pass", "same-pass"); !errors.As(err, &vErr) {
		t.Errorf("err = %v, want *validation.Error for identical passwords", err)
	}
}

// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/invoicing-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке создать пользователя с уже существующим email.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrClientNotFound возвращается, если клиент не найден.
	ErrClientNotFound = errors.New("client not found")
	// ErrInvoiceNotFound возвращается, если счёт не найден.
	ErrInvoiceNotFound = errors.New("invoice not found")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	// Регистрация кодека numeric <-> decimal.Decimal на каждом соединении пула.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт нового пользователя. Заполняет ID и временные метки.
func (r *PostgresRepository) CreateUser(ctx context.Context, u *model.User) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (email, password_hash, name, company_name, company_address, company_phone, logo_url)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at, updated_at`,
		u.Email, u.PasswordHash, u.Name, u.CompanyName, u.CompanyAddress, u.CompanyPhone, u.LogoURL,
	).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrUserExists, u.Email)
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

const userColumns = `id, email, password_hash, name, company_name, company_address, company_phone, logo_url, created_at, updated_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.CompanyName,
		&u.CompanyAddress, &u.CompanyPhone, &u.LogoURL, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

// GetUserByEmail возвращает пользователя по email.
func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return scanUser(r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	return scanUser(r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// UpdateUser сохраняет поля профиля пользователя.
func (r *PostgresRepository) UpdateUser(ctx context.Context, u *model.User) error {
	err := r.pool.QueryRow(ctx,
		`UPDATE users
		 SET name = $2, company_name = $3, company_address = $4, company_phone = $5, logo_url = $6, updated_at = now()
		 WHERE id = $1
		 RETURNING updated_at`,
		u.ID, u.Name, u.CompanyName, u.CompanyAddress, u.CompanyPhone, u.LogoURL,
	).Scan(&u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUserNotFound
		}
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

// UpdateUserPassword сохраняет новый хеш пароля пользователя.
func (r *PostgresRepository) UpdateUserPassword(ctx context.Context, id int64, passwordHash []byte) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`,
		id, passwordHash,
	)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// DeleteUser удаляет аккаунт пользователя вместе с клиентами и счетами (каскад в БД).
func (r *PostgresRepository) DeleteUser(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

const clientColumns = `id, user_id, name, email, phone, address, city, state, zip_code, country, tax_number, notes, created_at, updated_at`

func scanClient(row pgx.Row) (*model.Client, error) {
	var c model.Client
	err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.Email, &c.Phone, &c.Address,
		&c.City, &c.State, &c.ZipCode, &c.Country, &c.TaxNumber, &c.Notes,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClientNotFound
		}
		return nil, fmt.Errorf("scan client: %w", err)
	}
	return &c, nil
}

// CreateClient создаёт нового клиента. Заполняет ID и временные метки.
func (r *PostgresRepository) CreateClient(ctx context.Context, c *model.Client) error {
	c.ID = uuid.NewString()

	err := r.pool.QueryRow(ctx,
		`INSERT INTO clients (id, user_id, name, email, phone, address, city, state, zip_code, country, tax_number, notes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING created_at, updated_at`,
		c.ID, c.UserID, c.Name, c.Email, c.Phone, c.Address, c.City, c.State,
		c.ZipCode, c.Country, c.TaxNumber, c.Notes,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	return nil
}

// GetClientByID возвращает клиента по идентификатору без учёта владельца.
// Проверка принадлежности выполняется на уровне бизнес-логики.
func (r *PostgresRepository) GetClientByID(ctx context.Context, id string) (*model.Client, error) {
	return scanClient(r.pool.QueryRow(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE id = $1`, id))
}

// GetClientForUser возвращает клиента, принадлежащего указанному пользователю.
func (r *PostgresRepository) GetClientForUser(ctx context.Context, userID int64, id string) (*model.Client, error) {
	return scanClient(r.pool.QueryRow(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE id = $1 AND user_id = $2`, id, userID))
}

// ListClientsByUser возвращает список клиентов пользователя.
func (r *PostgresRepository) ListClientsByUser(ctx context.Context, userID int64) ([]model.Client, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE user_id = $1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select clients: %w", err)
	}
	defer rows.Close()

	var clients []model.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		clients = append(clients, *c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return clients, nil
}

// UpdateClient сохраняет поля клиента.
func (r *PostgresRepository) UpdateClient(ctx context.Context, c *model.Client) error {
	err := r.pool.QueryRow(ctx,
		`UPDATE clients
		 SET name = $2, email = $3, phone = $4, address = $5, city = $6, state = $7,
		     zip_code = $8, country = $9, tax_number = $10, notes = $11, updated_at = now()
		 WHERE id = $1
		 RETURNING updated_at`,
		c.ID, c.Name, c.Email, c.Phone, c.Address, c.City, c.State,
		c.ZipCode, c.Country, c.TaxNumber, c.Notes,
	).Scan(&c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrClientNotFound
		}
		return fmt.Errorf("update client: %w", err)
	}
	return nil
}

// DeleteClient удаляет клиента.
func (r *PostgresRepository) DeleteClient(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM clients WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete client: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrClientNotFound
	}
	return nil
}

// CountInvoicesByUser возвращает количество счетов пользователя.
func (r *PostgresRepository) CountInvoicesByUser(ctx context.Context, userID int64) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM invoices WHERE user_id = $1`, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count invoices: %w", err)
	}
	return count, nil
}

// CreateInvoiceWithItems атомарно создаёт счёт вместе со строками.
// Заполняет идентификаторы и временные метки.
func (r *PostgresRepository) CreateInvoiceWithItems(ctx context.Context, inv *model.Invoice) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		inv.ID = uuid.NewString()

		err = tx.QueryRow(ctx,
			`INSERT INTO invoices (id, number, user_id, client_id, issue_date, due_date, status,
			                       subtotal, tax_rate, tax_amount, discount, total, notes, terms)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			 RETURNING created_at, updated_at`,
			inv.ID, inv.Number, inv.UserID, inv.ClientID, inv.IssueDate, inv.DueDate,
			string(inv.Status), inv.Subtotal, inv.TaxRate, inv.TaxAmount, inv.Discount,
			inv.Total, inv.Notes, inv.Terms,
		).Scan(&inv.CreatedAt, &inv.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert invoice: %w", err)
		}

		if err := insertItems(ctx, tx, inv.ID, inv.Items); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

func insertItems(ctx context.Context, tx pgx.Tx, invoiceID string, items []model.InvoiceItem) error {
	for i := range items {
		items[i].ID = uuid.NewString()
		items[i].InvoiceID = invoiceID

		_, err := tx.Exec(ctx,
			`INSERT INTO invoice_items (id, invoice_id, description, quantity, unit_price, total)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			items[i].ID, invoiceID, items[i].Description,
			items[i].Quantity, items[i].UnitPrice, items[i].Total,
		)
		if err != nil {
			return fmt.Errorf("insert invoice item: %w", err)
		}
	}
	return nil
}

const invoiceColumns = `id, number, user_id, client_id, issue_date, due_date, status,
	subtotal, tax_rate, tax_amount, discount, total, notes, terms,
	amount_paid, payment_date, created_at, updated_at`

func scanInvoice(row pgx.Row) (*model.Invoice, error) {
	var (
		inv    model.Invoice
		status string
	)
	err := row.Scan(&inv.ID, &inv.Number, &inv.UserID, &inv.ClientID, &inv.IssueDate,
		&inv.DueDate, &status, &inv.Subtotal, &inv.TaxRate, &inv.TaxAmount,
		&inv.Discount, &inv.Total, &inv.Notes, &inv.Terms, &inv.AmountPaid,
		&inv.PaymentDate, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("scan invoice: %w", err)
	}
	inv.Status = model.InvoiceStatus(status)
	return &inv, nil
}

// GetInvoiceByID возвращает счёт со строками и данными клиента без учёта владельца.
// Проверка принадлежности выполняется на уровне бизнес-логики.
func (r *PostgresRepository) GetInvoiceByID(ctx context.Context, id string) (*model.Invoice, error) {
	inv, err := scanInvoice(r.pool.QueryRow(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}

	itemsByInvoice, err := r.loadItems(ctx, []string{inv.ID})
	if err != nil {
		return nil, err
	}
	inv.Items = itemsByInvoice[inv.ID]

	client, err := r.GetClientByID(ctx, inv.ClientID)
	if err != nil && !errors.Is(err, ErrClientNotFound) {
		return nil, err
	}
	inv.Client = client

	return inv, nil
}

// ListInvoicesByUser возвращает счета пользователя со строками и данными клиентов.
func (r *PostgresRepository) ListInvoicesByUser(ctx context.Context, userID int64) ([]model.Invoice, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE user_id = $1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select invoices: %w", err)
	}
	defer rows.Close()

	var invoices []model.Invoice
	ids := make([]string, 0)
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *inv)
		ids = append(ids, inv.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	if len(invoices) == 0 {
		return invoices, nil
	}

	itemsByInvoice, err := r.loadItems(ctx, ids)
	if err != nil {
		return nil, err
	}

	clients, err := r.ListClientsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	clientByID := make(map[string]*model.Client, len(clients))
	for i := range clients {
		clientByID[clients[i].ID] = &clients[i]
	}

	for i := range invoices {
		invoices[i].Items = itemsByInvoice[invoices[i].ID]
		invoices[i].Client = clientByID[invoices[i].ClientID]
	}

	return invoices, nil
}

func (r *PostgresRepository) loadItems(ctx context.Context, invoiceIDs []string) (map[string][]model.InvoiceItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, invoice_id, description, quantity, unit_price, total
		 FROM invoice_items
		 WHERE invoice_id = ANY($1)
		 ORDER BY id`,
		invoiceIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("select invoice items: %w", err)
	}
	defer rows.Close()

	res := make(map[string][]model.InvoiceItem)
	for rows.Next() {
		var it model.InvoiceItem
		if err := rows.Scan(&it.ID, &it.InvoiceID, &it.Description, &it.Quantity, &it.UnitPrice, &it.Total); err != nil {
			return nil, fmt.Errorf("scan invoice item: %w", err)
		}
		res[it.InvoiceID] = append(res[it.InvoiceID], it)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// UpdateInvoiceFields сохраняет изменяемые поля счёта.
func (r *PostgresRepository) UpdateInvoiceFields(ctx context.Context, inv *model.Invoice) error {
	err := r.pool.QueryRow(ctx,
		`UPDATE invoices
		 SET client_id = $2, due_date = $3, status = $4, subtotal = $5, tax_rate = $6,
		     tax_amount = $7, discount = $8, total = $9, notes = $10, terms = $11,
		     amount_paid = $12, payment_date = $13, updated_at = now()
		 WHERE id = $1
		 RETURNING updated_at`,
		inv.ID, inv.ClientID, inv.DueDate, string(inv.Status), inv.Subtotal,
		inv.TaxRate, inv.TaxAmount, inv.Discount, inv.Total, inv.Notes, inv.Terms,
		inv.AmountPaid, inv.PaymentDate,
	).Scan(&inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrInvoiceNotFound
		}
		return fmt.Errorf("update invoice: %w", err)
	}
	return nil
}

// ReplaceInvoiceItems атомарно заменяет все строки счёта новым набором.
func (r *PostgresRepository) ReplaceInvoiceItems(ctx context.Context, invoiceID string, items []model.InvoiceItem) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if _, err := tx.Exec(ctx, `DELETE FROM invoice_items WHERE invoice_id = $1`, invoiceID); err != nil {
			return fmt.Errorf("delete invoice items: %w", err)
		}

		if err := insertItems(ctx, tx, invoiceID, items); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// DeleteInvoice удаляет счёт вместе со строками (каскад в БД).
func (r *PostgresRepository) DeleteInvoice(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM invoices WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete invoice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}

// MarkOverdueInvoices переводит отправленные счета с истёкшим сроком оплаты в статус OVERDUE.
// Возвращает количество обновлённых счетов.
func (r *PostgresRepository) MarkOverdueInvoices(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE invoices SET status = $1, updated_at = now()
		 WHERE status = $2 AND due_date < $3`,
		string(model.InvoiceStatusOverdue), string(model.InvoiceStatusSent), now,
	)
	if err != nil {
		return 0, fmt.Errorf("mark overdue invoices: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Package repository содержит реализацию каталога, справочника скидок и купонов
// и хранилища продаж в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/pos-checkout/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrInvalidData возвращается, если купон в БД имеет недопустимые значения.
var ErrInvalidData = errors.New("invalid coupon data")

// dbPool описывает используемую часть пула соединений.
type dbPool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
// Денежные суммы и значения скидок хранятся в сотых долях.
// Каждое обращение выполняется ровно один раз: ошибка сразу возвращается вызывающей стороне.
type PostgresRepository struct {
	pool dbPool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
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

	if err := runMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresRepository{pool: pool}, nil
}

func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
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

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// GetProduct возвращает товар каталога.
func (r *PostgresRepository) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	var (
		p          model.Product
		priceCents int64
	)

	err := r.pool.QueryRow(ctx,
		`SELECT id, name, price, stock_quantity, category FROM products WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.Name, &priceCents, &p.StockQuantity, &p.Category)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	p.Price = fromCents(priceCents)
	return &p, nil
}

// ListDiscounts возвращает активные скидки. Скидки с недопустимым значением пропускаются.
func (r *PostgresRepository) ListDiscounts(ctx context.Context) ([]model.DiscountRule, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, kind, value
		 FROM discounts
		 WHERE active
		 ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("select discounts: %w", err)
	}
	defer rows.Close()

	var res []model.DiscountRule
	for rows.Next() {
		var (
			d     model.DiscountRule
			kind  string
			value int64
		)
		if err := rows.Scan(&d.ID, &d.Name, &kind, &value); err != nil {
			return nil, fmt.Errorf("scan discount: %w", err)
		}
		d.Kind = model.DiscountKind(kind)
		d.Value = fromCents(value)
		if !d.Valid() {
			continue
		}
		res = append(res, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select discounts: %w", err)
	}

	return res, nil
}

// GetCouponByCode возвращает купон по коду без учёта регистра вместе с числом погашений.
func (r *PostgresRepository) GetCouponByCode(ctx context.Context, code string) (*model.Coupon, error) {
	var (
		c                       model.Coupon
		kind                    string
		value                   int64
		minAmount, maxDiscount  *int64
		usageLimit, perCustomer *int32
		usedCount               int64
	)

	err := r.pool.QueryRow(ctx,
		`SELECT c.id, c.code, c.kind, c.value, c.min_amount, c.max_discount,
		        c.start_date, c.end_date, c.usage_limit, c.per_customer_limit,
		        (SELECT COUNT(*) FROM coupon_redemptions cr WHERE cr.coupon_id = c.id)
		 FROM coupons c
		 WHERE upper(c.code) = upper($1)`,
		code,
	).Scan(&c.ID, &c.Code, &kind, &value, &minAmount, &maxDiscount,
		&c.StartDate, &c.EndDate, &usageLimit, &perCustomer, &usedCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrCouponNotFound
		}
		return nil, fmt.Errorf("get coupon: %w", err)
	}

	c.Kind = model.DiscountKind(kind)
	c.Value = fromCents(value)
	c.MinAmount = fromCentsPtr(minAmount)
	c.MaxDiscount = fromCentsPtr(maxDiscount)
	c.UsageLimit = intPtr(usageLimit)
	c.PerCustomerLimit = intPtr(perCustomer)
	c.UsedCount = int(usedCount)

	if !c.Valid() {
		return nil, fmt.Errorf("coupon %s: %w", code, ErrInvalidData)
	}

	return &c, nil
}

// CountCustomerRedemptions возвращает число погашений купона покупателем.
func (r *PostgresRepository) CountCustomerRedemptions(ctx context.Context, code, customerID string) (int, error) {
	var n int64

	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*)
		 FROM coupon_redemptions cr
		 JOIN coupons c ON c.id = cr.coupon_id
		 WHERE upper(c.code) = upper($1) AND cr.customer_id = $2`,
		code, customerID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count redemptions: %w", err)
	}

	return int(n), nil
}

// SubmitSale сохраняет продажу, её позиции, скидки и погашение купона в одной транзакции
// и возвращает номер чека. Повторная отправка продажи с тем же идентификатором возвращает
// номер чека, выданный при первой записи.
func (r *PostgresRepository) SubmitSale(ctx context.Context, record model.SaleRecord) (string, error) {
	receiptNo, err := r.insertSale(ctx, record)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation && pgErr.ConstraintName == "sales_pkey" {
			return r.existingReceipt(ctx, record.ID)
		}
		return "", err
	}

	return formatReceiptNo(receiptNo), nil
}

func (r *PostgresRepository) insertSale(ctx context.Context, record model.SaleRecord) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	b := record.Breakdown

	var couponID *string
	if record.CouponID != "" {
		couponID = &record.CouponID
	}

	var receiptNo int64
	err = tx.QueryRow(ctx,
		`INSERT INTO sales (id, tenant_id, terminal_id, operator_id, customer_id, coupon_id, coupon_code,
		                    payment_method, tendered_cash, change, subtotal, discount_total, coupon_amount,
		                    taxable_amount, tax_rate_bp, tax, total, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		 RETURNING receipt_no`,
		record.ID, record.TenantID, record.TerminalID, record.OperatorID, record.CustomerID, couponID,
		record.CouponCode, string(record.PaymentMethod), toCentsPtr(record.TenderedCash), toCents(record.Change),
		toCents(b.Subtotal), toCents(b.DiscountTotal), toCents(b.CouponAmount), toCents(b.TaxableAmount),
		b.TaxRate.Shift(4).Round(0).IntPart(), toCents(b.Tax), toCents(b.Total), record.CreatedAt,
	).Scan(&receiptNo)
	if err != nil {
		return 0, fmt.Errorf("insert sale: %w", err)
	}

	for i, l := range record.Lines {
		_, err = tx.Exec(ctx,
			`INSERT INTO sale_lines (sale_id, position, product_id, name, unit_price, quantity)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			record.ID, i, l.ProductID, l.Name, toCents(l.UnitPrice), l.Quantity,
		)
		if err != nil {
			return 0, fmt.Errorf("insert sale line: %w", err)
		}
	}

	for _, id := range record.DiscountIDs {
		_, err = tx.Exec(ctx,
			`INSERT INTO sale_discounts (sale_id, discount_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			record.ID, id,
		)
		if err != nil {
			return 0, fmt.Errorf("insert sale discount: %w", err)
		}
	}

	if couponID != nil {
		_, err = tx.Exec(ctx,
			`INSERT INTO coupon_redemptions (sale_id, coupon_id, customer_id, redeemed_at) VALUES ($1, $2, $3, $4)`,
			record.ID, *couponID, record.CustomerID, record.CreatedAt,
		)
		if err != nil {
			return 0, fmt.Errorf("insert coupon redemption: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	return receiptNo, nil
}

func (r *PostgresRepository) existingReceipt(ctx context.Context, saleID string) (string, error) {
	var receiptNo int64
	err := r.pool.QueryRow(ctx,
		`SELECT receipt_no FROM sales WHERE id = $1`,
		saleID,
	).Scan(&receiptNo)
	if err != nil {
		return "", fmt.Errorf("select existing sale: %w", err)
	}
	return formatReceiptNo(receiptNo), nil
}

func formatReceiptNo(n int64) string {
	return fmt.Sprintf("%08d", n)
}

func toCents(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

func toCentsPtr(d *decimal.Decimal) *int64 {
	if d == nil {
		return nil
	}
	v := toCents(*d)
	return &v
}

func fromCents(c int64) decimal.Decimal {
	return decimal.New(c, -2)
}

func fromCentsPtr(c *int64) *decimal.Decimal {
	if c == nil {
		return nil
	}
	d := fromCents(*c)
	return &d
}

func intPtr(v *int32) *int {
	if v == nil {
		return nil
	}
	n := int(*v)
	return &n
}

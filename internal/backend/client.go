// Package backend предоставляет клиент административного бэкенда: каталог товаров,
// справочник скидок и купонов и сервис сохранения продаж.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/pos-checkout/internal/model"
)

// Client инкапсулирует HTTP-взаимодействие с бэкендом. Каждый вызов выполняет ровно один запрос.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт HTTP-клиент для обращения к бэкенду по указанному адресу.
func NewClient(baseURL string) *Client {
	base := strings.TrimRight(baseURL, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	httpClient := cleanhttp.DefaultPooledClient()
	httpClient.Timeout = 5 * time.Second

	return &Client{
		baseURL:    base,
		httpClient: httpClient,
	}
}

// Close освобождает простаивающие соединения.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// ErrInvalidData возвращается, если бэкенд прислал скидку или купон с недопустимым типом или значением.
var ErrInvalidData = errors.New("invalid discount data")

// StatusError описывает неожиданный HTTP-статус ответа бэкенда.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status: %d", e.StatusCode)
}

type productDTO struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stock_quantity"`
	Category      string          `json:"category"`
}

type discountDTO struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Kind  string          `json:"kind"`
	Value decimal.Decimal `json:"value"`
}

type couponDTO struct {
	ID               string           `json:"id"`
	Code             string           `json:"code"`
	Kind             string           `json:"kind"`
	Value            decimal.Decimal  `json:"value"`
	MinAmount        *decimal.Decimal `json:"min_amount,omitempty"`
	MaxDiscount      *decimal.Decimal `json:"max_discount,omitempty"`
	StartDate        *time.Time       `json:"start_date,omitempty"`
	EndDate          *time.Time       `json:"end_date,omitempty"`
	UsageLimit       *int             `json:"usage_limit,omitempty"`
	PerCustomerLimit *int             `json:"per_customer_limit,omitempty"`
	UsedCount        int              `json:"used_count"`
}

type redemptionsDTO struct {
	Count int `json:"count"`
}

// SaleLine описывает позицию продажи в запросе на сохранение.
type SaleLine struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// SaleRequest описывает тело запроса на сохранение продажи.
type SaleRequest struct {
	ID            string           `json:"id"`
	TenantID      string           `json:"tenant_id,omitempty"`
	TerminalID    string           `json:"terminal_id"`
	OperatorID    string           `json:"operator_id,omitempty"`
	CustomerID    string           `json:"customer_id,omitempty"`
	Lines         []SaleLine       `json:"lines"`
	DiscountIDs   []string         `json:"discount_ids"`
	CouponID      string           `json:"coupon_id,omitempty"`
	CouponCode    string           `json:"coupon_code,omitempty"`
	PaymentMethod string           `json:"payment_method"`
	TenderedCash  *decimal.Decimal `json:"tendered_cash,omitempty"`
	Change        decimal.Decimal  `json:"change"`
	Breakdown     model.Breakdown  `json:"breakdown"`
	CreatedAt     time.Time        `json:"created_at"`
}

type saleResponse struct {
	ReceiptID string `json:"receipt_id"`
}

// GetProduct запрашивает товар каталога.
func (c *Client) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	var dto productDTO
	status, err := c.getJSON(ctx, "/api/products/"+url.PathEscape(id), &dto)
	if status == http.StatusNotFound {
		return nil, model.ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}

	return &model.Product{
		ID:            dto.ID,
		Name:          dto.Name,
		Price:         dto.Price,
		StockQuantity: dto.StockQuantity,
		Category:      dto.Category,
	}, nil
}

// ListDiscounts запрашивает список доступных скидок.
func (c *Client) ListDiscounts(ctx context.Context) ([]model.DiscountRule, error) {
	var dtos []discountDTO
	if _, err := c.getJSON(ctx, "/api/discounts", &dtos); err != nil {
		return nil, err
	}

	res := make([]model.DiscountRule, 0, len(dtos))
	for _, d := range dtos {
		rule := model.DiscountRule{
			ID:    d.ID,
			Name:  d.Name,
			Kind:  model.DiscountKind(d.Kind),
			Value: d.Value,
		}
		if !rule.Valid() {
			continue
		}
		res = append(res, rule)
	}

	return res, nil
}

// GetCouponByCode запрашивает купон по коду.
func (c *Client) GetCouponByCode(ctx context.Context, code string) (*model.Coupon, error) {
	var dto couponDTO
	status, err := c.getJSON(ctx, "/api/coupons/"+url.PathEscape(code), &dto)
	if status == http.StatusNotFound {
		return nil, model.ErrCouponNotFound
	}
	if err != nil {
		return nil, err
	}

	coupon := &model.Coupon{
		ID:               dto.ID,
		Code:             dto.Code,
		Kind:             model.DiscountKind(dto.Kind),
		Value:            dto.Value,
		MinAmount:        dto.MinAmount,
		MaxDiscount:      dto.MaxDiscount,
		StartDate:        dto.StartDate,
		EndDate:          dto.EndDate,
		UsageLimit:       dto.UsageLimit,
		PerCustomerLimit: dto.PerCustomerLimit,
		UsedCount:        dto.UsedCount,
	}
	if !coupon.Valid() {
		return nil, fmt.Errorf("coupon %s: %w", code, ErrInvalidData)
	}

	return coupon, nil
}

// CountCustomerRedemptions запрашивает число погашений купона покупателем.
func (c *Client) CountCustomerRedemptions(ctx context.Context, code, customerID string) (int, error) {
	q := url.Values{}
	q.Set("customer_id", customerID)

	var dto redemptionsDTO
	path := "/api/coupons/" + url.PathEscape(code) + "/redemptions?" + q.Encode()
	if _, err := c.getJSON(ctx, path, &dto); err != nil {
		return 0, err
	}

	return dto.Count, nil
}

// SubmitSale отправляет продажу на сохранение и возвращает номер чека.
func (c *Client) SubmitSale(ctx context.Context, record model.SaleRecord) (string, error) {
	body, err := json.Marshal(toSaleRequest(record))
	if err != nil {
		return "", fmt.Errorf("encode sale: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/sales", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", &StatusError{StatusCode: resp.StatusCode}
	}

	var result saleResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if result.ReceiptID == "" {
		return "", fmt.Errorf("empty receipt id")
	}

	return result.ReceiptID, nil
}

func toSaleRequest(r model.SaleRecord) SaleRequest {
	lines := make([]SaleLine, 0, len(r.Lines))
	for _, l := range r.Lines {
		lines = append(lines, SaleLine{
			ProductID: l.ProductID,
			Name:      l.Name,
			UnitPrice: l.UnitPrice,
			Quantity:  l.Quantity,
			LineTotal: l.LineTotal(),
		})
	}

	return SaleRequest{
		ID:            r.ID,
		TenantID:      r.TenantID,
		TerminalID:    r.TerminalID,
		OperatorID:    r.OperatorID,
		CustomerID:    r.CustomerID,
		Lines:         lines,
		DiscountIDs:   r.DiscountIDs,
		CouponID:      r.CouponID,
		CouponCode:    r.CouponCode,
		PaymentMethod: string(r.PaymentMethod),
		TenderedCash:  r.TenderedCash,
		Change:        r.Change,
		Breakdown:     r.Breakdown,
		CreatedAt:     r.CreatedAt,
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("backend client not configured")
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	return req, nil
}

// getJSON выполняет GET-запрос и декодирует ответ. Статус возвращается и при ошибке.
func (c *Client) getJSON(ctx context.Context, path string, dst any) (int, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return 0, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, &StatusError{StatusCode: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}

	return resp.StatusCode, nil
}

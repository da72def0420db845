// Package cart содержит корзину кассового терминала.
package cart

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/pos-checkout/internal/model"
)

var (
	// ErrInvalidQuantity возвращается при попытке установить количество меньше единицы.
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
	// ErrLineNotFound возвращается, если позиции с таким товаром нет в корзине.
	ErrLineNotFound = errors.New("line not found in cart")
)

// Cart хранит позиции, применённые скидки и купон одной транзакции.
// Корзина не пересчитывает стоимость сама: расчёт выполняет вызывающая сторона.
type Cart struct {
	lines      []model.CartLine
	discounts  []model.DiscountRule
	coupon     *model.Coupon
	customerID string
}

// New создаёт пустую корзину.
func New() *Cart {
	return &Cart{}
}

func (c *Cart) indexOf(productID string) int {
	for i := range c.lines {
		if c.lines[i].ProductID == productID {
			return i
		}
	}
	return -1
}

// AddItem добавляет товар в корзину или увеличивает количество уже добавленного.
func (c *Cart) AddItem(p model.Product) {
	if i := c.indexOf(p.ID); i >= 0 {
		c.lines[i].Quantity++
		return
	}
	c.lines = append(c.lines, model.CartLine{
		ProductID: p.ID,
		Name:      p.Name,
		UnitPrice: p.Price,
		Quantity:  1,
	})
}

// SetQuantity заменяет количество товара в позиции. Удаление через ноль не допускается.
func (c *Cart) SetQuantity(productID string, quantity int) error {
	if quantity < 1 {
		return ErrInvalidQuantity
	}
	i := c.indexOf(productID)
	if i < 0 {
		return ErrLineNotFound
	}
	c.lines[i].Quantity = quantity
	return nil
}

// RemoveItem удаляет позицию. Отсутствующая позиция не считается ошибкой.
func (c *Cart) RemoveItem(productID string) {
	i := c.indexOf(productID)
	if i < 0 {
		return
	}
	c.lines = append(c.lines[:i], c.lines[i+1:]...)
}

// Clear полностью сбрасывает транзакцию: позиции, скидки, купон и покупателя.
func (c *Cart) Clear() {
	c.lines = nil
	c.discounts = nil
	c.coupon = nil
	c.customerID = ""
}

// Lines возвращает копию позиций в порядке добавления.
func (c *Cart) Lines() []model.CartLine {
	out := make([]model.CartLine, len(c.lines))
	copy(out, c.lines)
	return out
}

// IsEmpty сообщает, есть ли в корзине позиции.
func (c *Cart) IsEmpty() bool {
	return len(c.lines) == 0
}

// Subtotal возвращает сумму стоимости всех позиций.
func (c *Cart) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range c.lines {
		sum = sum.Add(l.LineTotal())
	}
	return sum
}

// ApplyDiscount добавляет скидку. Повторное применение той же скидки ничего не меняет.
func (c *Cart) ApplyDiscount(rule model.DiscountRule) {
	for _, d := range c.discounts {
		if d.ID == rule.ID {
			return
		}
	}
	c.discounts = append(c.discounts, rule)
}

// RemoveDiscount снимает скидку, если она применена.
func (c *Cart) RemoveDiscount(id string) {
	for i, d := range c.discounts {
		if d.ID == id {
			c.discounts = append(c.discounts[:i], c.discounts[i+1:]...)
			return
		}
	}
}

// Discounts возвращает копию применённых скидок.
func (c *Cart) Discounts() []model.DiscountRule {
	out := make([]model.DiscountRule, len(c.discounts))
	copy(out, c.discounts)
	return out
}

// DiscountIDs возвращает идентификаторы применённых скидок.
func (c *Cart) DiscountIDs() []string {
	ids := make([]string, 0, len(c.discounts))
	for _, d := range c.discounts {
		ids = append(ids, d.ID)
	}
	return ids
}

// SetCoupon устанавливает купон, заменяя ранее применённый.
func (c *Cart) SetCoupon(coupon model.Coupon) {
	c.coupon = &coupon
}

// ClearCoupon снимает купон.
func (c *Cart) ClearCoupon() {
	c.coupon = nil
}

// Coupon возвращает применённый купон или nil.
func (c *Cart) Coupon() *model.Coupon {
	if c.coupon == nil {
		return nil
	}
	cp := *c.coupon
	return &cp
}

// SetCustomer привязывает покупателя к транзакции.
func (c *Cart) SetCustomer(customerID string) {
	c.customerID = customerID
}

// Customer возвращает идентификатор привязанного покупателя.
func (c *Cart) Customer() string {
	return c.customerID
}

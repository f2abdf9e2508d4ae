package sandbox

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrEmptyCart       = errors.New("cart is empty")
)

type Shop struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Product struct {
	ID     string `json:"id"`
	ShopID string `json:"shopId"`
	Name   string `json:"name"`
	Price  int64  `json:"price"`
}

type CartItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Price     int64  `json:"price"`
}

type Cart struct {
	UserID string     `json:"userId"`
	Items  []CartItem `json:"items"`
	Total  int64      `json:"total"`
}

type Order struct {
	ID        string     `json:"id"`
	UserID    string     `json:"userId"`
	Items     []CartItem `json:"items"`
	Total     int64      `json:"total"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Catalog - фикстуры магазинов/товаров и корзины/заказы пользователей в памяти.
type Catalog struct {
	shops    []Shop
	products []Product

	mu     sync.Mutex
	carts  map[string][]CartItem
	orders map[string][]Order
}

func NewCatalog() *Catalog {
	return &Catalog{
		shops: []Shop{
			{ID: "s1", Name: "Tea House"},
			{ID: "s2", Name: "Book Corner"},
		},
		products: []Product{
			{ID: "p1", ShopID: "s1", Name: "Green tea", Price: 450},
			{ID: "p2", ShopID: "s1", Name: "Black tea", Price: 390},
			{ID: "p3", ShopID: "s2", Name: "Notebook", Price: 1200},
		},
		carts:  make(map[string][]CartItem),
		orders: make(map[string][]Order),
	}
}

func (c *Catalog) Shops() []Shop { return c.shops }

// Products фильтрует по подстроке имени (q) и магазину (shopID); пустые - без фильтра.
func (c *Catalog) Products(q, shopID string) []Product {
	q = strings.ToLower(strings.TrimSpace(q))

	out := make([]Product, 0, len(c.products))
	for _, p := range c.products {
		if q != "" && !strings.Contains(strings.ToLower(p.Name), q) {
			continue
		}
		if shopID != "" && p.ShopID != shopID {
			continue
		}
		out = append(out, p)
	}

	return out
}

func (c *Catalog) Cart(userID string) Cart {
	c.mu.Lock()
	defer c.mu.Unlock()

	return makeCart(userID, c.carts[userID])
}

// AddToCart увеличивает количество товара в корзине.
func (c *Catalog) AddToCart(userID, productID string, qty int) (Cart, error) {
	var price int64
	found := false
	for _, p := range c.products {
		if p.ID == productID {
			price, found = p.Price, true
			break
		}
	}
	if !found {
		return Cart{}, ErrProductNotFound
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	items := c.carts[userID]
	merged := false
	for i := range items {
		if items[i].ProductID == productID {
			items[i].Quantity += qty
			merged = true
			break
		}
	}
	if !merged {
		items = append(items, CartItem{ProductID: productID, Quantity: qty, Price: price})
	}
	c.carts[userID] = items

	return makeCart(userID, items), nil
}

func (c *Catalog) Orders(userID string) []Order {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]Order{}, c.orders[userID]...)
}

// Checkout превращает корзину в заказ и очищает её.
func (c *Catalog) Checkout(userID string) (Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	items := c.carts[userID]
	if len(items) == 0 {
		return Order{}, ErrEmptyCart
	}

	cart := makeCart(userID, items)
	o := Order{
		ID:        uuid.NewString(),
		UserID:    userID,
		Items:     cart.Items,
		Total:     cart.Total,
		Status:    "created",
		CreatedAt: time.Now().UTC(),
	}

	c.orders[userID] = append(c.orders[userID], o)
	delete(c.carts, userID)

	return o, nil
}

func makeCart(userID string, items []CartItem) Cart {
	cart := Cart{UserID: userID, Items: append([]CartItem{}, items...)}
	for _, it := range items {
		cart.Total += it.Price * int64(it.Quantity)
	}

	return cart
}

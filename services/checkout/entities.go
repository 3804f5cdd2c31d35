package main

import (
	"crypto/rand"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Order representa um pedido no sistema. Os itens e o total são um snapshot do
// carrinho no momento da cobrança e nunca são recalculados depois.
type Order struct {
	ID            string      `json:"id" db:"id"`
	PaymentID     string      `json:"payment_id" db:"payment_id"`
	UserID        string      `json:"user_id,omitempty" db:"user_id"`
	UserEmail     string      `json:"user_email" db:"user_email"`
	Items         []OrderItem `json:"items" db:"items"`
	TotalCents    int64       `json:"total_cents" db:"total_cents"`
	Status        string      `json:"status" db:"status"`
	PaymentStatus string      `json:"payment_status" db:"payment_status"`
	PaymentMethod string      `json:"payment_method" db:"payment_method"`
	CreatedAt     time.Time   `json:"created_at" db:"created_at"`
	PaidAt        *time.Time  `json:"paid_at,omitempty" db:"paid_at"`
	UpdatedAt     time.Time   `json:"updated_at" db:"updated_at"`
}

// OrderItem é o snapshot de um item do carrinho dentro do pedido.
type OrderItem struct {
	ProductID      int    `json:"product_id"`
	Name           string `json:"name"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

// NewOrder cria um pedido pendente com snapshot dos itens
func NewOrder(paymentID, userID, userEmail, paymentMethod string, items []OrderItem, totalCents int64) *Order {
	now := time.Now()
	return &Order{
		ID:            uuid.New().String(),
		PaymentID:     paymentID,
		UserID:        userID,
		UserEmail:     userEmail,
		Items:         items,
		TotalCents:    totalCents,
		Status:        OrderStatusPending,
		PaymentStatus: OrderStatusPending,
		PaymentMethod: paymentMethod,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// OrderStatus representa os possíveis status de um pedido. A reconciliação só
// executa a transição pending -> paid; delivered e cancelled são aplicados por
// processos administrativos.
const (
	OrderStatusPending   = "pending"
	OrderStatusPaid      = "paid"
	OrderStatusDelivered = "delivered"
	OrderStatusCancelled = "cancelled"
)

// MovementType representa os tipos de movimentação de estoque
const (
	MovementTypeDecreased = "decreased"
)

// CartItem representa um item do carrinho como enviado pelo cliente.
type CartItem struct {
	ID       int     `json:"id"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
	ImageURL string  `json:"imageUrl"`
}

// PriceToCents converte um preço em reais para centavos. A conversão acontece
// uma única vez na borda; todo o resto da aritmética é feito em inteiros.
func PriceToCents(price float64) int64 {
	return int64(math.Round(price * 100))
}

// CentsToAmount formata centavos como string decimal com duas casas ("20.00"),
// o formato exigido pelos provedores.
func CentsToAmount(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}

// CartTotalCents calcula o total do carrinho em centavos
func CartTotalCents(items []CartItem) int64 {
	var total int64
	for _, item := range items {
		total += PriceToCents(item.Price) * int64(item.Quantity)
	}
	return total
}

// OrderItemsFromCart cria o snapshot imutável dos itens do carrinho
func OrderItemsFromCart(items []CartItem) []OrderItem {
	snapshot := make([]OrderItem, 0, len(items))
	for _, item := range items {
		snapshot = append(snapshot, OrderItem{
			ProductID:      item.ID,
			Name:           item.Name,
			Quantity:       item.Quantity,
			UnitPriceCents: PriceToCents(item.Price),
		})
	}
	return snapshot
}

const txidAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// txidLength precisa ficar entre 26 e 35 caracteres alfanuméricos (exigência
// da API PIX para o txid de cobrança imediata).
const txidLength = 30

// NewTxid gera um identificador de transação local para cobranças PIX
func NewTxid() string {
	buf := make([]byte, txidLength)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand só falha se o sistema estiver sem fonte de entropia
		panic(fmt.Sprintf("generating txid: %v", err))
	}
	var sb strings.Builder
	sb.Grow(txidLength)
	for _, b := range buf {
		sb.WriteByte(txidAlphabet[int(b)%len(txidAlphabet)])
	}
	return sb.String()
}

// CleanCPF remove a formatação do CPF, mantendo apenas os dígitos
func CleanCPF(cpf string) string {
	var sb strings.Builder
	for _, r := range cpf {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// SplitPayerName separa o nome do pagador em primeiro nome e sobrenome
func SplitPayerName(name string) (string, string) {
	parts := strings.Fields(name)
	if len(parts) < 2 {
		return name, ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

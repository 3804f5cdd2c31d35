package main

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OrderRepository define a interface para operações de banco de dados de pedidos
type OrderRepository interface {
	// CreateOrder insere um pedido pendente. Exatamente uma linha por payment_id.
	CreateOrder(ctx context.Context, order *Order) error

	// GetOrderByPaymentID busca um pedido pelo payment_id. Retorna (nil, nil)
	// quando o pedido não existe.
	GetOrderByPaymentID(ctx context.Context, paymentID string) (*Order, error)

	// MarkOrderPaid aplica a transição condicional pending -> paid. Retorna true
	// apenas quando ESTA chamada efetuou a transição; duas entregas concorrentes
	// do mesmo webhook nunca observam true ao mesmo tempo.
	MarkOrderPaid(ctx context.Context, paymentID, providerStatus string, paidAt time.Time) (bool, error)
}

// InventoryRepository define a interface para o ajuste de estoque
type InventoryRepository interface {
	// DecrementStock decrementa o estoque do produto de forma atômica no banco,
	// no máximo uma vez por par (payment_id, product_id).
	DecrementStock(ctx context.Context, paymentID string, productID, quantity int) error
}

// PostgresOrderRepository implementa OrderRepository usando PostgreSQL
type PostgresOrderRepository struct {
	db *pgxpool.Pool
}

// NewOrderRepository cria uma nova instância de PostgresOrderRepository
func NewOrderRepository(db *pgxpool.Pool) OrderRepository {
	return &PostgresOrderRepository{
		db: db,
	}
}

// CreateOrder insere um pedido pendente com o snapshot dos itens em jsonb
func (r *PostgresOrderRepository) CreateOrder(ctx context.Context, order *Order) error {
	items, err := json.Marshal(order.Items)
	if err != nil {
		return &PersistenceError{Op: "encode order items", Err: err}
	}

	var userID any
	if order.UserID != "" {
		userID = order.UserID
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO orders (id, payment_id, user_id, user_email, items, total_cents, status, payment_status, payment_method, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, order.ID, order.PaymentID, userID, order.UserEmail, items, order.TotalCents,
		order.Status, order.PaymentStatus, order.PaymentMethod, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return &PersistenceError{Op: "insert order", Err: err}
	}
	return nil
}

// GetOrderByPaymentID busca um pedido pelo payment_id
func (r *PostgresOrderRepository) GetOrderByPaymentID(ctx context.Context, paymentID string) (*Order, error) {
	var (
		order  Order
		userID *string
		items  []byte
	)
	err := r.db.QueryRow(ctx, `
		SELECT id, payment_id, user_id, user_email, items, total_cents, status, payment_status, payment_method, created_at, paid_at, updated_at
		FROM orders WHERE payment_id = $1
	`, paymentID).Scan(&order.ID, &order.PaymentID, &userID, &order.UserEmail, &items,
		&order.TotalCents, &order.Status, &order.PaymentStatus, &order.PaymentMethod,
		&order.CreatedAt, &order.PaidAt, &order.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &PersistenceError{Op: "get order", Err: err}
	}

	if err := json.Unmarshal(items, &order.Items); err != nil {
		return nil, &PersistenceError{Op: "decode order items", Err: err}
	}
	if userID != nil {
		order.UserID = *userID
	}
	return &order, nil
}

// MarkOrderPaid aplica a transição condicional pending -> paid em um único
// UPDATE; o banco é quem decide qual entrega concorrente venceu.
func (r *PostgresOrderRepository) MarkOrderPaid(ctx context.Context, paymentID, providerStatus string, paidAt time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE orders
		SET status = $1, payment_status = $2, paid_at = $3, updated_at = NOW()
		WHERE payment_id = $4 AND status <> $1
	`, OrderStatusPaid, providerStatus, paidAt, paymentID)
	if err != nil {
		return false, &PersistenceError{Op: "mark order paid", Err: err}
	}
	return tag.RowsAffected() > 0, nil
}

// PostgresInventoryRepository implementa InventoryRepository usando PostgreSQL
type PostgresInventoryRepository struct {
	db *pgxpool.Pool
}

// NewInventoryRepository cria uma nova instância de PostgresInventoryRepository
func NewInventoryRepository(db *pgxpool.Pool) InventoryRepository {
	return &PostgresInventoryRepository{
		db: db,
	}
}

// DecrementStock registra o movimento no ledger e decrementa o estoque na
// mesma transação. O UNIQUE (payment_id, product_id, movement_type) garante
// que reentregas do mesmo webhook não decrementam duas vezes; o decremento em
// si é um único UPDATE avaliado no servidor, nunca um read-modify-write.
func (r *PostgresInventoryRepository) DecrementStock(ctx context.Context, paymentID string, productID, quantity int) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return &PersistenceError{Op: "begin decrement tx", Err: err}
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO inventory_movements (id, payment_id, product_id, quantity, movement_type)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (payment_id, product_id, movement_type) DO NOTHING
	`, uuid.New().String(), paymentID, productID, quantity, MovementTypeDecreased)
	if err != nil {
		return &PersistenceError{Op: "insert inventory movement", Err: err}
	}

	// Movimento já registrado por uma entrega anterior: no-op idempotente
	if tag.RowsAffected() == 0 {
		return nil
	}

	_, err = tx.Exec(ctx, `
		UPDATE products
		SET stock = stock - $2, updated_at = NOW()
		WHERE id = $1
	`, productID, quantity)
	if err != nil {
		return &PersistenceError{Op: "decrement stock", Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return &PersistenceError{Op: "commit decrement tx", Err: err}
	}
	return nil
}

package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// mpStatusApproved é o único status do Mercado Pago que confirma pagamento
const mpStatusApproved = "approved"

// efiPaymentStatus é o espelho de diagnóstico gravado quando a Efí confirma
// um PIX; o payload dela não carrega um status textual próprio.
const efiPaymentStatus = "concluido"

// PixChargeResponse é a resposta de criação de cobrança PIX devolvida ao cliente
type PixChargeResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	QRCode       string `json:"qr_code"`
	QRCodeBase64 string `json:"qr_code_base64"`
	TicketURL    string `json:"ticket_url,omitempty"`
}

// PreferenceResponse é a resposta de criação de preferência devolvida ao cliente
type PreferenceResponse struct {
	ID               string `json:"id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point"`
}

// CheckoutRequest é o corpo recebido nos endpoints de criação de cobrança
type CheckoutRequest struct {
	Items     []CartItem `json:"items"`
	UserEmail string     `json:"userEmail"`
	UserID    string     `json:"userId"`
	PayerName string     `json:"payerName"`
	PayerCpf  string     `json:"payerCpf"`
}

// CheckoutUseCase implementa a criação de cobranças: valida a entrada, cria a
// cobrança no provedor e SEMPRE insere o pedido pendente antes de devolver os
// dados de pagamento ao cliente.
type CheckoutUseCase struct {
	orders        OrderRepository
	mercadoPago   MercadoPagoAPI
	efi           EfiAPI
	log           *zap.Logger
	ordersCreated metric.Int64Counter
}

// NewCheckoutUseCase cria uma nova instância de CheckoutUseCase
func NewCheckoutUseCase(
	orders OrderRepository,
	mercadoPago MercadoPagoAPI,
	efi EfiAPI,
	logger *zap.Logger,
	ordersCreated metric.Int64Counter,
) *CheckoutUseCase {
	return &CheckoutUseCase{
		orders:        orders,
		mercadoPago:   mercadoPago,
		efi:           efi,
		log:           logger,
		ordersCreated: ordersCreated,
	}
}

// validateCart rejeita carrinho vazio e quantidades inválidas
func validateCart(items []CartItem) error {
	if len(items) == 0 {
		return NewValidationError("carrinho vazio")
	}
	for _, item := range items {
		if item.Quantity <= 0 {
			return NewValidationError("quantidade inválida para o produto %d", item.ID)
		}
	}
	return nil
}

// validatePixPayer valida nome completo e CPF do pagador, devolvendo o CPF
// limpo (apenas dígitos).
func validatePixPayer(name, cpf string) (string, error) {
	first, last := SplitPayerName(name)
	if first == "" || last == "" {
		return "", NewValidationError("nome completo é obrigatório para PIX")
	}

	cleaned := CleanCPF(cpf)
	if len(cleaned) != 11 {
		return "", NewValidationError("CPF inválido")
	}
	return cleaned, nil
}

// CreateMercadoPagoPixCharge cria um pagamento PIX transparente no Mercado Pago
func (uc *CheckoutUseCase) CreateMercadoPagoPixCharge(ctx context.Context, req CheckoutRequest) (*PixChargeResponse, error) {
	if err := validateCart(req.Items); err != nil {
		return nil, err
	}
	cleanCPF, err := validatePixPayer(req.PayerName, req.PayerCpf)
	if err != nil {
		return nil, err
	}

	totalCents := CartTotalCents(req.Items)
	firstName, lastName := SplitPayerName(req.PayerName)

	payment, err := uc.mercadoPago.CreatePixPayment(ctx, PixPaymentRequest{
		AmountCents:    totalCents,
		Description:    fmt.Sprintf("Compra na GouRp - %d itens", len(req.Items)),
		PayerEmail:     req.UserEmail,
		PayerFirstName: firstName,
		PayerLastName:  lastName,
		PayerCPF:       cleanCPF,
	})
	if err != nil {
		return nil, err
	}

	paymentID := strconv.FormatInt(payment.ID, 10)
	order := NewOrder(paymentID, req.UserID, req.UserEmail, "pix", OrderItemsFromCart(req.Items), totalCents)
	order.PaymentStatus = payment.Status

	// A cobrança nunca é devolvida ao cliente sem a linha pendente gravada;
	// o reconciliador depende de encontrá-la.
	if err := uc.orders.CreateOrder(ctx, order); err != nil {
		uc.log.Error("falha ao gravar pedido após criar cobrança",
			zap.String("payment_id", paymentID), zap.Error(err))
		return nil, err
	}

	uc.ordersCreated.Add(ctx, 1)
	uc.log.Info("pedido pendente criado",
		zap.String("payment_id", paymentID),
		zap.Int64("total_cents", totalCents),
		zap.String("payment_method", "pix"),
	)

	return &PixChargeResponse{
		ID:           paymentID,
		Status:       payment.Status,
		QRCode:       payment.PointOfInteraction.TransactionData.QRCode,
		QRCodeBase64: payment.PointOfInteraction.TransactionData.QRCodeBase64,
		TicketURL:    payment.PointOfInteraction.TransactionData.TicketURL,
	}, nil
}

// CreateCheckoutPreference cria uma preferência de Checkout Pro. O pedido é
// gravado já na criação, chaveado por um id de transação local enviado ao
// provedor como external_reference; o webhook só transiciona.
func (uc *CheckoutUseCase) CreateCheckoutPreference(ctx context.Context, req CheckoutRequest) (*PreferenceResponse, error) {
	if err := validateCart(req.Items); err != nil {
		return nil, err
	}

	transactionID := NewTxid()
	totalCents := CartTotalCents(req.Items)

	items := make([]PreferenceItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, PreferenceItem{
			ID:         strconv.Itoa(item.ID),
			Title:      item.Name,
			Quantity:   item.Quantity,
			UnitPrice:  float64(PriceToCents(item.Price)) / 100,
			CurrencyID: "BRL",
			PictureURL: item.ImageURL,
		})
	}

	preference, err := uc.mercadoPago.CreatePreference(ctx, PreferenceRequest{
		Items:             items,
		PayerEmail:        req.UserEmail,
		ExternalReference: transactionID,
	})
	if err != nil {
		return nil, err
	}

	order := NewOrder(transactionID, req.UserID, req.UserEmail, "mercadopago", OrderItemsFromCart(req.Items), totalCents)
	if err := uc.orders.CreateOrder(ctx, order); err != nil {
		uc.log.Error("falha ao gravar pedido após criar preferência",
			zap.String("payment_id", transactionID), zap.Error(err))
		return nil, err
	}

	uc.ordersCreated.Add(ctx, 1)
	uc.log.Info("pedido pendente criado",
		zap.String("payment_id", transactionID),
		zap.Int64("total_cents", totalCents),
		zap.String("payment_method", "mercadopago"),
	)

	return &PreferenceResponse{
		ID:               transactionID,
		InitPoint:        preference.InitPoint,
		SandboxInitPoint: preference.SandboxInitPoint,
	}, nil
}

// CreateEfiPixCharge cria uma cobrança imediata PIX na Efí
func (uc *CheckoutUseCase) CreateEfiPixCharge(ctx context.Context, req CheckoutRequest) (*PixChargeResponse, error) {
	if err := validateCart(req.Items); err != nil {
		return nil, err
	}
	cleanCPF, err := validatePixPayer(req.PayerName, req.PayerCpf)
	if err != nil {
		return nil, err
	}

	txid := NewTxid()
	totalCents := CartTotalCents(req.Items)

	charge, err := uc.efi.CreateImmediateCharge(ctx, txid, EfiChargeRequest{
		PayerName:   req.PayerName,
		PayerCPF:    cleanCPF,
		AmountCents: totalCents,
		Description: fmt.Sprintf("Compra na GouRp - %d itens", len(req.Items)),
	})
	if err != nil {
		return nil, err
	}

	qr, err := uc.efi.GetQRCode(ctx, charge.Loc.ID)
	if err != nil {
		return nil, err
	}

	order := NewOrder(txid, req.UserID, req.UserEmail, "pix", OrderItemsFromCart(req.Items), totalCents)
	order.PaymentStatus = charge.Status
	if err := uc.orders.CreateOrder(ctx, order); err != nil {
		uc.log.Error("falha ao gravar pedido após criar cobrança",
			zap.String("payment_id", txid), zap.Error(err))
		return nil, err
	}

	uc.ordersCreated.Add(ctx, 1)
	uc.log.Info("pedido pendente criado",
		zap.String("payment_id", txid),
		zap.Int64("total_cents", totalCents),
		zap.String("payment_method", "pix"),
	)

	return &PixChargeResponse{
		ID:           txid,
		Status:       OrderStatusPending,
		QRCode:       qr.QRCode,
		QRCodeBase64: qr.ImageBase64,
	}, nil
}

// ReconcileUseCase converte notificações assíncronas dos provedores em
// transições duráveis de estado. Falhas são isoladas por pagamento e por item;
// apenas a consulta autoritativa ao provedor propaga erro para o transporte.
type ReconcileUseCase struct {
	orders            OrderRepository
	inventory         InventoryRepository
	mercadoPago       MercadoPagoAPI
	log               *zap.Logger
	paymentsConfirmed metric.Int64Counter
	stockFailures     metric.Int64Counter
}

// NewReconcileUseCase cria uma nova instância de ReconcileUseCase
func NewReconcileUseCase(
	orders OrderRepository,
	inventory InventoryRepository,
	mercadoPago MercadoPagoAPI,
	logger *zap.Logger,
	paymentsConfirmed metric.Int64Counter,
	stockFailures metric.Int64Counter,
) *ReconcileUseCase {
	return &ReconcileUseCase{
		orders:            orders,
		inventory:         inventory,
		mercadoPago:       mercadoPago,
		log:               logger,
		paymentsConfirmed: paymentsConfirmed,
		stockFailures:     stockFailures,
	}
}

// HandleEfiConfirmations processa as confirmações PIX da Efí. O payload é
// autodescritivo, então nenhuma consulta ao provedor é necessária; falhas
// internas são registradas e não interrompem as confirmações irmãs.
func (uc *ReconcileUseCase) HandleEfiConfirmations(ctx context.Context, confirmations []PixConfirmation) {
	for _, confirmation := range confirmations {
		paidAt := time.Now()
		if confirmation.Horario != "" {
			if parsed, err := time.Parse(time.RFC3339, confirmation.Horario); err == nil {
				paidAt = parsed
			}
		}
		uc.confirmPayment(ctx, confirmation.Txid, efiPaymentStatus, paidAt)
	}
}

// HandleMercadoPagoNotification resolve uma notificação do Mercado Pago
// consultando o status autoritativo. Só a falha dessa consulta retorna erro:
// ela é transitória e é seguro deixar o provedor reentregar.
func (uc *ReconcileUseCase) HandleMercadoPagoNotification(ctx context.Context, notification PaymentNotification) error {
	payment, err := uc.mercadoPago.GetPayment(ctx, notification.PaymentID)
	if err != nil {
		uc.log.Error("falha ao consultar pagamento no Mercado Pago",
			zap.String("payment_id", notification.PaymentID), zap.Error(err))
		return err
	}

	if payment.Status != mpStatusApproved {
		// Recusas e pendências não geram transição alguma
		uc.log.Info("notificação sem aprovação, nenhuma ação",
			zap.String("payment_id", notification.PaymentID),
			zap.String("provider_status", payment.Status),
		)
		return nil
	}

	// O pedido pode estar chaveado pelo id numérico do pagamento (PIX
	// transparente) ou pelo external_reference local (Checkout Pro).
	paymentID := strconv.FormatInt(payment.ID, 10)
	candidates := []string{paymentID}
	if payment.ExternalReference != "" {
		candidates = append(candidates, payment.ExternalReference)
	}

	for _, candidate := range candidates {
		order, err := uc.orders.GetOrderByPaymentID(ctx, candidate)
		if err != nil {
			uc.log.Error("falha ao buscar pedido", zap.String("payment_id", candidate), zap.Error(err))
			return nil
		}
		if order != nil {
			uc.applyConfirmation(ctx, order, payment.Status, time.Now())
			return nil
		}
	}

	// Esperado quando a notificação chega antes do insert do checkout, ou
	// para notificações de teste do provedor
	uc.log.Warn("pedido não encontrado para notificação, ignorando",
		zap.String("payment_id", notification.PaymentID))
	return nil
}

// confirmPayment busca o pedido pelo payment_id e aplica a confirmação
func (uc *ReconcileUseCase) confirmPayment(ctx context.Context, paymentID, providerStatus string, paidAt time.Time) {
	order, err := uc.orders.GetOrderByPaymentID(ctx, paymentID)
	if err != nil {
		uc.log.Error("falha ao buscar pedido", zap.String("payment_id", paymentID), zap.Error(err))
		return
	}
	if order == nil {
		uc.log.Warn("pedido não encontrado para confirmação, ignorando",
			zap.String("payment_id", paymentID))
		return
	}
	uc.applyConfirmation(ctx, order, providerStatus, paidAt)
}

// applyConfirmation aplica a transição pending -> paid e, somente quando a
// transição foi de fato executada por esta entrega, decrementa o estoque uma
// vez por item do snapshot.
func (uc *ReconcileUseCase) applyConfirmation(ctx context.Context, order *Order, providerStatus string, paidAt time.Time) {
	if order.Status == OrderStatusPaid {
		// Reentrega do mesmo webhook: no-op idempotente
		uc.log.Info("pedido já está pago, ignorando reentrega",
			zap.String("payment_id", order.PaymentID))
		return
	}

	transitioned, err := uc.orders.MarkOrderPaid(ctx, order.PaymentID, providerStatus, paidAt)
	if err != nil {
		uc.log.Error("falha ao confirmar pedido",
			zap.String("payment_id", order.PaymentID), zap.Error(err))
		return
	}
	if !transitioned {
		// Outra entrega concorrente venceu a corrida; ela é a dona do ajuste
		// de estoque.
		uc.log.Info("transição já aplicada por outra entrega",
			zap.String("payment_id", order.PaymentID))
		return
	}

	uc.paymentsConfirmed.Add(ctx, 1)
	uc.log.Info("pedido confirmado",
		zap.String("payment_id", order.PaymentID),
		zap.Int64("total_cents", order.TotalCents),
	)

	for _, item := range order.Items {
		if err := uc.inventory.DecrementStock(ctx, order.PaymentID, item.ProductID, item.Quantity); err != nil {
			// Falha isolada de um item não desfaz a confirmação do pagamento
			uc.stockFailures.Add(ctx, 1)
			uc.log.Error("falha ao decrementar estoque",
				zap.String("payment_id", order.PaymentID),
				zap.Int("product_id", item.ProductID),
				zap.Error(err),
			)
		}
	}
}

// StatusUseCase expõe a leitura de status para o cliente que faz polling
type StatusUseCase struct {
	orders OrderRepository
	log    *zap.Logger
}

// NewStatusUseCase cria uma nova instância de StatusUseCase
func NewStatusUseCase(orders OrderRepository, logger *zap.Logger) *StatusUseCase {
	return &StatusUseCase{
		orders: orders,
		log:    logger,
	}
}

// GetOrderStatus retorna o status do pedido. Pedido inexistente responde
// "pending": logo após o checkout o insert ou o webhook podem ainda não ter
// aterrissado, e o cliente precisa de um sinal estável de "aguarde".
func (uc *StatusUseCase) GetOrderStatus(ctx context.Context, paymentID string) string {
	order, err := uc.orders.GetOrderByPaymentID(ctx, paymentID)
	if err != nil {
		uc.log.Warn("falha ao consultar status, respondendo pending",
			zap.String("payment_id", paymentID), zap.Error(err))
		return OrderStatusPending
	}
	if order == nil {
		return OrderStatusPending
	}
	return order.Status
}

package main

import (
	"encoding/json"
	"net/url"
)

// As notificações chegam em formatos diferentes por provedor. O parsing é um
// passo puro na borda que resolve o payload para um dos dois casos abaixo;
// nenhum handler sonda campos de forma ad hoc.

// PixConfirmation é uma confirmação individual do webhook da Efí (padrão A).
// O payload é autodescritivo: a presença do txid já significa pagamento
// concluído.
type PixConfirmation struct {
	Txid    string `json:"txid"`
	Horario string `json:"horario"`
}

// PaymentNotification é a notificação "algo mudou" do Mercado Pago (padrão B).
// Só carrega o id do recurso; o status autoritativo precisa ser consultado na
// API do provedor.
type PaymentNotification struct {
	PaymentID string
}

// ParseEfiWebhook decodifica o payload {pix: [...]} da Efí, descartando
// entradas sem txid.
func ParseEfiWebhook(body []byte) ([]PixConfirmation, error) {
	var payload struct {
		Pix []PixConfirmation `json:"pix"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}

	confirmations := make([]PixConfirmation, 0, len(payload.Pix))
	for _, p := range payload.Pix {
		if p.Txid == "" {
			continue
		}
		confirmations = append(confirmations, p)
	}
	return confirmations, nil
}

// ParseMercadoPagoNotification resolve a notificação do Mercado Pago, que pode
// vir por query string (type=payment&data.id=...) ou no corpo
// ({type:"payment", data:{id}}). Retorna false para notificações que não são
// de pagamento ou que não carregam id.
func ParseMercadoPagoNotification(query url.Values, body []byte) (PaymentNotification, bool) {
	if query.Get("type") == "payment" {
		if id := query.Get("data.id"); id != "" {
			return PaymentNotification{PaymentID: id}, true
		}
	}

	var payload struct {
		Type string `json:"type"`
		Data struct {
			ID json.Number `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return PaymentNotification{}, false
	}
	if payload.Type != "payment" || payload.Data.ID.String() == "" {
		return PaymentNotification{}, false
	}
	return PaymentNotification{PaymentID: payload.Data.ID.String()}, true
}

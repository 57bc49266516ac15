// Package notification delivers trading alerts (dispatches, settlements,
// risk halts) to external channels such as Telegram or a generic webhook.
package notification

import (
	"context"
	"fmt"
	"log"

	"derivtrader/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier logs alerts instead of delivering them. Used when no backend
// is configured.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier { return &LogNotifier{} }

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// Fanout sends each alert to every backend, logging per-backend failures.
type Fanout struct {
	backends []Notifier
}

func NewFanout(backends ...Notifier) *Fanout {
	return &Fanout{backends: backends}
}

func (f *Fanout) Send(ctx context.Context, alert Alert) error {
	var firstErr error
	for _, b := range f.backends {
		if err := b.Send(ctx, alert); err != nil {
			log.Printf("[notify] backend delivery failed: %v", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// TradeOpened builds the alert for a dispatched order.
func TradeOpened(sig model.Signal, order model.Order) Alert {
	return Alert{
		Level: AlertInfo,
		Title: fmt.Sprintf("Trade opened: %s %s", order.Symbol, order.Side),
		Message: fmt.Sprintf("strategy=%s stake=%.2f confidence=%.2f\n%s",
			sig.Strategy, order.Stake, sig.Confidence, sig.Reason),
	}
}

// TradeSettled builds the alert for a settled contract.
func TradeSettled(u model.TradeUpdate) Alert {
	level := AlertInfo
	verdict := "WON"
	if u.Profit < 0 {
		level = AlertWarning
		verdict = "LOST"
	}
	return Alert{
		Level:   level,
		Title:   fmt.Sprintf("Trade %s: %s", verdict, u.Symbol),
		Message: fmt.Sprintf("contract=%s profit=%.2f", u.ContractID, u.Profit),
	}
}

// RiskHalted builds the alert for a risk manager halt.
func RiskHalted(reason string) Alert {
	return Alert{
		Level:   AlertCritical,
		Title:   "Trading halted",
		Message: reason + ", manual reset required",
	}
}

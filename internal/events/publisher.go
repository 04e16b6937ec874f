package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/inaiurai/credits/internal/models"
)

// EscrowEvent describes one committed escrow state change. From is empty for
// the initial FUNDED event.
type EscrowEvent struct {
	EscrowID      uuid.UUID          `json:"escrow_id"`
	ListingID     string             `json:"listing_id"`
	BuyerID       string             `json:"buyer_id"`
	SellerID      string             `json:"seller_id"`
	AmountCredits int64              `json:"amount_credits"`
	From          models.EscrowState `json:"from,omitempty"`
	To            models.EscrowState `json:"to"`
	At            time.Time          `json:"at"`
}

// NewEscrowEvent builds the event for e having moved from `from` to its
// current state.
func NewEscrowEvent(e *models.EscrowTransaction, from models.EscrowState, at time.Time) EscrowEvent {
	return EscrowEvent{
		EscrowID:      e.ID,
		ListingID:     e.ListingID,
		BuyerID:       e.BuyerID,
		SellerID:      e.SellerID,
		AmountCredits: e.AmountCredits,
		From:          from,
		To:            e.State,
		At:            at,
	}
}

// Publisher delivers escrow events after the state change has committed.
type Publisher interface {
	Publish(ctx context.Context, ev EscrowEvent) error
	Close() error
}

// LogPublisher writes events to the structured log. Used when no broker is
// configured.
type LogPublisher struct {
	log *slog.Logger
}

func NewLogPublisher(log *slog.Logger) *LogPublisher {
	if log == nil {
		log = slog.Default()
	}
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, ev EscrowEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	p.log.Info("escrow event", "escrow_id", ev.EscrowID, "from", ev.From, "to", ev.To, "event", string(body))
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []EscrowEvent
	Err    error
}

func (r *Recorder) Publish(_ context.Context, ev EscrowEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Close() error { return nil }

func (r *Recorder) Events() []EscrowEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]EscrowEvent(nil), r.events...)
}

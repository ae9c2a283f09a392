package services

import (
	"context"
	"fmt"

	"relaylink/internal/core/domain"

	"github.com/looplab/fsm"
)

const (
	eventSendOffer   = "send_offer"
	eventApplyAnswer = "apply_answer"
	eventActivate    = "activate"
	eventClose       = "close"
)

// Negotiation tracks the offer/answer state of one stream.
type Negotiation struct {
	machine *fsm.FSM
}

func NewNegotiation(onChange func(from, to domain.NegotiationState)) *Negotiation {
	callbacks := fsm.Callbacks{}
	if onChange != nil {
		callbacks["after_event"] = func(_ context.Context, e *fsm.Event) {
			onChange(domain.NegotiationState(e.Src), domain.NegotiationState(e.Dst))
		}
	}

	return &Negotiation{
		machine: fsm.NewFSM(
			string(domain.NegotiationCreated),
			fsm.Events{
				{Name: eventSendOffer, Src: []string{string(domain.NegotiationCreated)}, Dst: string(domain.NegotiationOfferSent)},
				{Name: eventApplyAnswer, Src: []string{string(domain.NegotiationOfferSent)}, Dst: string(domain.NegotiationAnswerApplied)},
				{Name: eventActivate, Src: []string{string(domain.NegotiationAnswerApplied)}, Dst: string(domain.NegotiationActive)},
				{Name: eventClose, Src: []string{
					string(domain.NegotiationCreated),
					string(domain.NegotiationOfferSent),
					string(domain.NegotiationAnswerApplied),
					string(domain.NegotiationActive),
				}, Dst: string(domain.NegotiationClosed)},
			},
			callbacks,
		),
	}
}

func (n *Negotiation) State() domain.NegotiationState {
	return domain.NegotiationState(n.machine.Current())
}

// Is reports whether the negotiation is currently in state.
func (n *Negotiation) Is(state domain.NegotiationState) bool {
	return n.machine.Is(string(state))
}

func (n *Negotiation) OfferSent() error     { return n.fire(eventSendOffer) }
func (n *Negotiation) AnswerApplied() error { return n.fire(eventApplyAnswer) }
func (n *Negotiation) Activate() error      { return n.fire(eventActivate) }

// Close moves to the terminal state. Closing twice is a no-op.
func (n *Negotiation) Close() {
	if n.Is(domain.NegotiationClosed) {
		return
	}
	_ = n.fire(eventClose)
}

func (n *Negotiation) fire(event string) error {
	if err := n.machine.Event(context.Background(), event); err != nil {
		return fmt.Errorf("negotiation %s from %s: %w", event, n.machine.Current(), err)
	}
	return nil
}

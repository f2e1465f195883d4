package dialog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/composer"
	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/models"
	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/reminder"
	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/store"
)

func (e *Engine) handlePayload(ctx context.Context, userID string, p models.Payload) error {
	switch p := p.(type) {
	case models.SelectBouquet:
		return e.selectBouquet(ctx, userID, p)
	case models.DeliverySelf:
		return e.chooseFulfillment(ctx, userID, models.FulfillmentSelfPickup)
	case models.DeliveryCourier:
		return e.chooseFulfillment(ctx, userID, models.FulfillmentDelivery)
	case models.ConfirmPreorder:
		return e.confirm(ctx, userID)
	case models.CancelPreorder:
		e.clearState(ctx, userID)
		return e.reply(ctx, userID, composer.Cancelled, nil)
	case models.RemindLater:
		return e.reply(ctx, userID, composer.RemindLaterAck, nil)
	default:
		slog.Warn("Engine.handlePayload: unknown payload action", "userID", userID, "action", p.Action())
		return nil
	}
}

// selectBouquet starts an order. The event and tier are looked up again
// rather than trusted from the button.
func (e *Engine) selectBouquet(ctx context.Context, userID string, p models.SelectBouquet) error {
	if !p.Tier.IsValid() {
		return e.restart(ctx, userID, composer.BouquetNotFound)
	}
	ev, err := e.st.GetEvent(ctx, p.EventID)
	if err != nil {
		slog.Error("Engine.selectBouquet: event lookup failed", "error", err, "userID", userID, "eventID", p.EventID)
		_ = e.restart(ctx, userID, composer.SomethingWrong)
		return fmt.Errorf("load event %s: %w", p.EventID, err)
	}
	if ev == nil || ev.OwnerID != userID {
		return e.restart(ctx, userID, composer.EventNotFound)
	}
	ordered, err := e.hasOpenPreorder(ctx, ev.ID)
	if err != nil {
		slog.Error("Engine.selectBouquet: preorder lookup failed", "error", err, "userID", userID, "eventID", ev.ID)
		_ = e.restart(ctx, userID, composer.SomethingWrong)
		return err
	}
	if ordered {
		return e.restart(ctx, userID, composer.AlreadyOrdered)
	}
	bouquet, ok := e.tiers(ctx).Get(p.Tier)
	if !ok {
		return e.restart(ctx, userID, composer.BouquetNotFound)
	}

	state := models.ConversationState{
		UserID: userID,
		Step:   models.StepSelectDelivery,
		Draft: &models.PreorderDraft{
			EventID:       ev.ID,
			EventName:     ev.DisplayName(),
			RecipientName: ev.RecipientName,
			EventDate:     ev.Date(),
			Bouquet:       bouquet,
		},
	}
	if err := e.saveState(ctx, state); err != nil {
		slog.Error("Engine.selectBouquet: save failed", "error", err, "userID", userID)
		_ = e.reply(ctx, userID, composer.SomethingWrong, nil)
		return err
	}
	return e.reply(ctx, userID, composer.BouquetChosen(bouquet), composer.DeliveryKeyboard())
}

// openPreorderStatuses are the preorder statuses that block another order for the same event.
var openPreorderStatuses = []models.PreorderStatus{models.PreorderStatusNew, models.PreorderStatusConfirmed}

func (e *Engine) hasOpenPreorder(ctx context.Context, eventID string) (bool, error) {
	p, err := e.st.GetPreorder(ctx, store.PreorderFilter{EventID: eventID, StatusIn: openPreorderStatuses})
	if err != nil {
		return false, fmt.Errorf("load preorder of event %s: %w", eventID, err)
	}
	return p != nil, nil
}

func (e *Engine) loadDraft(ctx context.Context, userID string) (*models.ConversationState, error) {
	state, err := e.st.GetConversationState(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load state of %s: %w", userID, err)
	}
	if state == nil || state.Draft == nil {
		return nil, nil
	}
	return state, nil
}

func (e *Engine) chooseFulfillment(ctx context.Context, userID string, f models.Fulfillment) error {
	state, err := e.loadDraft(ctx, userID)
	if err != nil {
		slog.Error("Engine.chooseFulfillment: state lookup failed", "error", err, "userID", userID)
		_ = e.restart(ctx, userID, composer.SomethingWrong)
		return err
	}
	if state == nil {
		return e.restart(ctx, userID, composer.SomethingWrong)
	}

	draft := *state.Draft
	draft.Fulfillment = f
	draft.Address, draft.Phone, draft.Time = "", "", ""
	next := models.ConversationState{UserID: userID, Draft: &draft}

	var (
		reply string
		kb    *models.Keyboard
	)
	if f == models.FulfillmentSelfPickup {
		next.Step = models.StepConfirm
		reply = composer.PickupConfirmation(draft, e.shop(ctx))
		kb = composer.ConfirmKeyboard()
	} else {
		next.Step = models.StepEnterAddress
		reply = composer.AskAddress
	}

	if err := e.saveState(ctx, next); err != nil {
		slog.Error("Engine.chooseFulfillment: save failed", "error", err, "userID", userID)
		_ = e.reply(ctx, userID, composer.SomethingWrong, nil)
		return err
	}
	return e.reply(ctx, userID, reply, kb)
}

// buildPreorder turns a confirmed draft into a preorder. Name and price come
// from the draft snapshot.
func (e *Engine) buildPreorder(userID string, d models.PreorderDraft) *models.Preorder {
	today := reminder.LocalDate(e.opts.Clock(), e.opts.UTCOffset)
	ev := models.Event{Day: d.EventDate.Day, Month: d.EventDate.Month}
	return &models.Preorder{
		EventID:       d.EventID,
		BuyerID:       userID,
		Tier:          d.Bouquet.Tier,
		BouquetRef:    d.Bouquet.CatalogID,
		BouquetName:   d.Bouquet.Name,
		BouquetPrice:  d.Bouquet.Price,
		FinalPrice:    d.Bouquet.Price,
		Fulfillment:   d.Fulfillment,
		Delivery:      d.DeliveryDetails(),
		RecipientName: d.RecipientName,
		DeliveryDate:  ev.NextOccurrence(today),
		Status:        models.PreorderStatusNew,
	}
}

func (e *Engine) confirm(ctx context.Context, userID string) error {
	state, err := e.loadDraft(ctx, userID)
	if err != nil {
		slog.Error("Engine.confirm: state lookup failed", "error", err, "userID", userID)
		_ = e.restart(ctx, userID, composer.SomethingWrong)
		return err
	}
	if state == nil || state.Step != models.StepConfirm {
		return e.restart(ctx, userID, composer.SomethingWrong)
	}

	draft := *state.Draft
	p := e.buildPreorder(userID, draft)
	if err := e.st.CreatePreorder(ctx, p); err != nil {
		slog.Error("Engine.confirm: create preorder failed", "error", err, "userID", userID, "eventID", draft.EventID)
		_ = e.restart(ctx, userID, composer.OrderFailed)
		return fmt.Errorf("create preorder for %s: %w", userID, err)
	}
	slog.Info("Engine.confirm: preorder created", "preorderID", p.ID, "userID", userID, "eventID", p.EventID,
		"tier", p.Tier, "fulfillment", p.Fulfillment)

	e.clearState(ctx, userID)
	err = e.reply(ctx, userID, composer.OrderSuccess(draft, e.shop(ctx)), nil)
	e.notifyStaff(ctx, *p, draft.EventDate)
	return err
}

func (e *Engine) notifyStaff(ctx context.Context, p models.Preorder, eventDate models.DayMonth) {
	text := composer.StaffNotification(p, eventDate)
	for _, staffID := range e.opts.StaffRecipients {
		if err := e.gw.SendMessage(ctx, staffID, text, nil); err != nil {
			slog.Error("Engine.notifyStaff: send failed", "error", err, "staffID", staffID, "preorderID", p.ID)
			continue
		}
		slog.Debug("Engine.notifyStaff: notified", "staffID", staffID, "preorderID", p.ID)
	}
}

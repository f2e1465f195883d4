package dialog

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/composer"
	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/models"
	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/store"
)

var eventNumberRegex = regexp.MustCompile(`^[1-9]$`)

var keywords = map[string]models.Intent{
	"начать":      models.IntentGreeting,
	"start":       models.IntentGreeting,
	"привет":      models.IntentGreeting,
	"помощь":      models.IntentHelp,
	"help":        models.IntentHelp,
	"заказ":       models.IntentOrder,
	"заказать":    models.IntentOrder,
	"мои события": models.IntentOrder,
	"события":     models.IntentOrder,
}

// MatchKeyword returns the intent of a command keyword, ignoring case and
// surrounding space.
func MatchKeyword(text string) (models.Intent, bool) {
	intent, ok := keywords[strings.ToLower(strings.TrimSpace(text))]
	return intent, ok
}

func (e *Engine) handleText(ctx context.Context, userID, text string) error {
	text = strings.TrimSpace(text)

	state, err := e.st.GetConversationState(ctx, userID)
	if err != nil {
		slog.Error("Engine.handleText: state lookup failed", "error", err, "userID", userID)
		_ = e.reply(ctx, userID, composer.SomethingWrong, nil)
		return fmt.Errorf("load state of %s: %w", userID, err)
	}
	if state != nil {
		return e.handleStep(ctx, *state, text)
	}

	intent, ok := MatchKeyword(text)
	if !ok {
		intent = e.classify(ctx, userID, text)
	}
	return e.handleIntent(ctx, userID, intent)
}

func (e *Engine) classify(ctx context.Context, userID, text string) models.Intent {
	if e.opts.Classifier == nil || text == "" || eventNumberRegex.MatchString(text) {
		return models.IntentUnknown
	}
	intent, err := e.opts.Classifier.Classify(ctx, text)
	if err != nil {
		slog.Warn("Engine.classify failed", "error", err, "userID", userID)
		return models.IntentUnknown
	}
	slog.Debug("Engine.classify", "userID", userID, "intent", intent)
	return intent
}

func (e *Engine) handleIntent(ctx context.Context, userID string, intent models.Intent) error {
	switch intent {
	case models.IntentGreeting:
		return e.reply(ctx, userID, composer.Welcome(e.shop(ctx)), nil)
	case models.IntentHelp:
		return e.reply(ctx, userID, composer.Help(e.shop(ctx)), nil)
	case models.IntentOrder:
		return e.listEvents(ctx, userID)
	default:
		return e.reply(ctx, userID, composer.DefaultPrompt(), nil)
	}
}

// listEvents numbers the user's open events and waits for a digit.
func (e *Engine) listEvents(ctx context.Context, userID string) error {
	events, err := e.orderableEvents(ctx, userID)
	if err != nil {
		slog.Error("Engine.listEvents: load failed", "error", err, "userID", userID)
		_ = e.reply(ctx, userID, composer.SomethingWrong, nil)
		return fmt.Errorf("list events of %s: %w", userID, err)
	}
	if len(events) == 0 {
		return e.reply(ctx, userID, composer.NoEvents, nil)
	}

	ids := make([]string, len(events))
	for i, ev := range events {
		ids[i] = ev.ID
	}
	if err := e.saveState(ctx, models.ConversationState{UserID: userID, Step: models.StepSelectEventByNumber, EventIDs: ids}); err != nil {
		_ = e.reply(ctx, userID, composer.SomethingWrong, nil)
		return err
	}
	return e.reply(ctx, userID, composer.EventList(events), nil)
}

// orderableEvents returns up to MaxListedEvents open events of the user that
// have no open preorder yet.
func (e *Engine) orderableEvents(ctx context.Context, userID string) ([]models.Event, error) {
	events, err := e.st.GetEvents(ctx, store.EventFilter{
		OwnerID:  userID,
		StatusIn: models.OpenEventStatuses,
	})
	if err != nil {
		return nil, err
	}
	out := make([]models.Event, 0, MaxListedEvents)
	for _, ev := range events {
		ordered, err := e.hasOpenPreorder(ctx, ev.ID)
		if err != nil {
			return nil, err
		}
		if ordered {
			continue
		}
		out = append(out, ev)
		if len(out) == MaxListedEvents {
			break
		}
	}
	return out, nil
}

// handleStep interprets text as input to the step the user is at.
func (e *Engine) handleStep(ctx context.Context, state models.ConversationState, text string) error {
	userID := state.UserID
	switch state.Step {
	case models.StepSelectEventByNumber:
		return e.selectEventByNumber(ctx, state, text)

	case models.StepSelectDelivery:
		return e.reply(ctx, userID, composer.UseButtons, composer.DeliveryKeyboard())

	case models.StepConfirm:
		return e.reply(ctx, userID, composer.UseButtons, composer.ConfirmKeyboard())

	case models.StepEnterAddress, models.StepEnterPhone, models.StepEnterTime:
		return e.enterDetail(ctx, state, text)

	default:
		slog.Warn("Engine.handleStep: unknown step, resetting", "userID", userID, "step", state.Step)
		return e.restart(ctx, userID, composer.DefaultPrompt())
	}
}

func (e *Engine) selectEventByNumber(ctx context.Context, state models.ConversationState, text string) error {
	userID := state.UserID
	if !eventNumberRegex.MatchString(text) {
		return e.reply(ctx, userID, composer.AskEventNumber, nil)
	}
	n := int(text[0] - '0')
	if n > len(state.EventIDs) {
		return e.reply(ctx, userID, composer.InvalidNumber(len(state.EventIDs)), nil)
	}

	ev, err := e.st.GetEvent(ctx, state.EventIDs[n-1])
	if err != nil {
		slog.Error("Engine.selectEventByNumber: event lookup failed", "error", err, "userID", userID)
		_ = e.restart(ctx, userID, composer.SomethingWrong)
		return fmt.Errorf("load event: %w", err)
	}
	if ev == nil || ev.OwnerID != userID {
		return e.restart(ctx, userID, composer.EventNotFound)
	}

	// the bouquet buttons carry the event id, so no state is needed from here
	e.clearState(ctx, userID)
	tiers := e.tiers(ctx)
	return e.reply(ctx, userID, composer.BouquetSelection(*ev, tiers), composer.TierKeyboard(tiers, ev.ID, false))
}

// enterDetail stores one delivery field and asks for the next one.
func (e *Engine) enterDetail(ctx context.Context, state models.ConversationState, text string) error {
	userID := state.UserID
	if state.Draft == nil {
		return e.restart(ctx, userID, composer.SomethingWrong)
	}

	prompts := map[models.DialogStep]string{
		models.StepEnterAddress: composer.AskAddress,
		models.StepEnterPhone:   composer.AskPhone,
		models.StepEnterTime:    composer.AskTime,
	}
	if text == "" {
		return e.reply(ctx, userID, prompts[state.Step], nil)
	}

	draft := *state.Draft
	next := state
	next.Draft = &draft
	var (
		reply string
		kb    *models.Keyboard
	)
	switch state.Step {
	case models.StepEnterAddress:
		draft.Address = text
		next.Step = models.StepEnterPhone
		reply = composer.AskPhone
	case models.StepEnterPhone:
		draft.Phone = text
		next.Step = models.StepEnterTime
		reply = composer.AskTime
	case models.StepEnterTime:
		draft.Time = text
		next.Step = models.StepConfirm
		reply = composer.DeliveryConfirmation(draft)
		kb = composer.ConfirmKeyboard()
	}

	if err := e.saveState(ctx, next); err != nil {
		slog.Error("Engine.enterDetail: save failed", "error", err, "userID", userID)
		_ = e.reply(ctx, userID, composer.SomethingWrong, nil)
		return err
	}
	return e.reply(ctx, userID, reply, kb)
}

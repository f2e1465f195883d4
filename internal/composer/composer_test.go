package composer

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/models"
)

func birthday() models.Event {
	return models.Event{ID: "e-1", OwnerID: "100", Type: models.EventTypeBirthday, Day: 5, Month: 3, RecipientName: "Мама"}
}

func TestButtonLabel(t *testing.T) {
	assert.Equal(t, "Букет эконом — 1500₽", ButtonLabel("Букет эконом", decimal.NewFromInt(1500)))

	long := strings.Repeat("Р", 60)
	label := ButtonLabel(long, decimal.NewFromInt(2500))
	assert.Equal(t, MaxButtonLabel, utf8.RuneCountInString(label))
	assert.True(t, strings.HasSuffix(label, "… — 2500₽"), label)

	// A name exactly at the limit is kept whole.
	exact := strings.Repeat("я", MaxButtonLabel-utf8.RuneCountInString(" — 2500₽"))
	assert.Equal(t, exact+" — 2500₽", ButtonLabel(exact, decimal.NewFromInt(2500)))
}

func TestReminderTexts(t *testing.T) {
	tiers := models.DefaultTierConfig()
	e := birthday()

	text := Reminder7Days("Анна", e, tiers)
	assert.True(t, strings.HasPrefix(text, "Привет, Анна! 🌸"))
	assert.Contains(t, text, "Через неделю день рождения у Мама!")
	assert.Contains(t, text, "💐 Букет премиум — 4000₽")

	text = Reminder3Days("", e, tiers)
	assert.True(t, strings.HasPrefix(text, "друг, уже через 3 дня день рождения у Мама! 🌷"), text)

	shop := models.DefaultShopSettings()
	invite := Reminder1Day("Анна", e, nil, shop)
	assert.Contains(t, invite, "Ещё можно успеть заказать букет!")
	assert.Contains(t, invite, shop.Phone)

	ready := Reminder1Day("Анна", e, &models.Preorder{BouquetName: "Букет средний"}, shop)
	assert.Contains(t, ready, "Твой букет «Букет средний» готов!")
	assert.NotContains(t, ready, "Ещё можно успеть")
}

func TestCustomEventName(t *testing.T) {
	e := birthday()
	e.Type = models.EventTypeOther
	e.CustomName = "выпускной"
	assert.Contains(t, Reminder7Days("Анна", e, models.DefaultTierConfig()), "Через неделю выпускной у Мама!")
	assert.Contains(t, EventList([]models.Event{e}), "1. Выпускной — Мама (5.03)")
}

func TestEventList(t *testing.T) {
	second := birthday()
	second.Type = models.EventTypeMarch8
	second.Day, second.Month = 8, 3
	second.RecipientName = "Сестра"

	text := EventList([]models.Event{birthday(), second})
	assert.True(t, strings.HasPrefix(text, "📋 Твои ближайшие события:\n\n"))
	assert.Contains(t, text, "1. День рождения — Мама (5.03)\n")
	assert.Contains(t, text, "2. 8 марта — Сестра (8.03)\n")
	assert.True(t, strings.HasSuffix(text, AskEventNumber))
}

func TestTierKeyboard(t *testing.T) {
	kb := TierKeyboard(models.DefaultTierConfig(), "e-1", true)
	require.True(t, kb.Inline)
	require.Len(t, kb.Rows, 4)

	buttons := kb.Buttons()
	assert.Equal(t, models.ColorSecondary, buttons[0].Color)
	assert.Equal(t, models.ColorPrimary, buttons[1].Color)
	assert.Equal(t, models.ColorPositive, buttons[2].Color)

	assert.Equal(t, models.SelectBouquet{Tier: models.TierMedium, EventID: "e-1"}, buttons[1].Payload)
	assert.Equal(t, models.RemindLater{}, buttons[3].Payload)

	assert.Len(t, TierKeyboard(models.DefaultTierConfig(), "e-1", false).Rows, 3)
}

func TestDialogKeyboards(t *testing.T) {
	delivery := DeliveryKeyboard().Buttons()
	require.Len(t, delivery, 3)
	assert.Equal(t, "🏪 Самовывоз", delivery[0].Label)
	assert.Equal(t, models.ColorPositive, delivery[0].Color)
	assert.Equal(t, models.ColorPrimary, delivery[1].Color)

	confirm := ConfirmKeyboard().Buttons()
	require.Len(t, confirm, 2)
	assert.Equal(t, models.ConfirmPreorder{}, confirm[0].Payload)
	assert.Equal(t, models.CancelPreorder{}, confirm[1].Payload)
}

func TestOrderTexts(t *testing.T) {
	shop := models.DefaultShopSettings()
	draft := models.PreorderDraft{
		EventID:       "e-1",
		RecipientName: "Мама",
		EventDate:     models.DayMonth{Day: 5, Month: 3},
		Bouquet:       models.DefaultTierConfig().Medium,
		Fulfillment:   models.FulfillmentSelfPickup,
	}

	pickup := PickupConfirmation(draft, shop)
	assert.Contains(t, pickup, "💰 Цена: 2500₽\n📅 Дата: 5.03\n🏪 Самовывоз")
	assert.Contains(t, OrderSuccess(draft, shop), "Напомним тебе за день до события!")

	draft.Fulfillment = models.FulfillmentDelivery
	draft.Address, draft.Phone, draft.Time = "ул. Ленина 1", "+79120000000", "14-16"
	delivery := DeliveryConfirmation(draft)
	assert.Contains(t, delivery, "2500₽ + доставка")
	assert.Contains(t, delivery, "📍 Адрес: ул. Ленина 1\n📞 Телефон: +79120000000\n🕐 Время: 14-16")
	assert.Contains(t, OrderSuccess(draft, shop), "Администратор свяжется с тобой для подтверждения!")
}

func TestStaffNotification(t *testing.T) {
	p := models.Preorder{
		BuyerID:       "100",
		RecipientName: "Мама",
		BouquetName:   "Букет премиум",
		BouquetPrice:  decimal.NewFromInt(4000),
		Fulfillment:   models.FulfillmentSelfPickup,
	}
	text := StaffNotification(p, models.DayMonth{Day: 5, Month: 3})
	assert.Contains(t, text, "👤 Клиент: vk.com/id100")
	assert.Contains(t, text, "📅 Событие: Мама — 5.03")
	assert.True(t, strings.HasSuffix(text, "🏪 Самовывоз"))

	p.Fulfillment = models.FulfillmentDelivery
	p.Delivery = &models.DeliveryDetails{Address: "ул. Ленина 1", Phone: "+7", Time: "10-12"}
	assert.Contains(t, StaffNotification(p, models.DayMonth{Day: 5, Month: 3}), "🚗 Доставка\n📍 Адрес: ул. Ленина 1")
}

func TestWelcomeAndHelpUseShopSettings(t *testing.T) {
	shop := models.ShopSettings{Name: "Розы", Address: "ул. Мира 2", Phone: "+7 000", Hours: "круглосуточно"}
	assert.Contains(t, Welcome(shop), "\"Розы\"")
	assert.Contains(t, Welcome(shop), "📍 ул. Мира 2\n🕐 круглосуточно\n📞 +7 000")
	assert.Contains(t, Help(shop), "Напиши \"заказ\"")
	assert.Equal(t, "Неверный номер. Введи число от 1 до 2", InvalidNumber(2))
}

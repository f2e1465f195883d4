// Package composer builds the outbound chat texts and inline keyboards of the
// flower shop bot. Every function is pure: it only formats the data it is given.
package composer

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/models"
)

// MaxButtonLabel is the longest button label the messaging platform accepts, in characters.
const MaxButtonLabel = 40

// DefaultUserName addresses customers whose first name is unknown.
const DefaultUserName = "друг"

// Short replies of the order dialog.
const (
	RemindLaterAck  = "👌 Хорошо, напомню позже!"
	Cancelled       = "❌ Предзаказ отменён. Если передумаете — мы всегда рядом! 🌸"
	OrderFailed     = "❌ Ошибка при создании предзаказа. Попробуйте позже или свяжитесь с нами напрямую."
	SomethingWrong  = "Что-то пошло не так. Начните заново."
	EventNotFound   = "Событие не найдено. Попробуйте ещё раз."
	BouquetNotFound = "Букет не найден. Попробуйте ещё раз."
	AlreadyOrdered  = "🌷 На это событие уже есть предзаказ. Мы скоро свяжемся с тобой!"
	NoEvents        = "У тебя пока нет активных событий. Добавь их в мини-приложении! 🌸"
	AskAddress      = "📍 Введите адрес доставки:"
	AskPhone        = "📞 Введите контактный телефон:"
	AskTime         = "🕐 Укажите желаемое время доставки (например: 14-16):"
	AskEventNumber  = "👆 Напиши номер события (1, 2, 3...) чтобы выбрать букет"
	UseButtons      = "👇 Пожалуйста, выбери один из вариантов."
)

func userName(first string) string {
	if strings.TrimSpace(first) == "" {
		return DefaultUserName
	}
	return first
}

// FormatPrice renders a price the way customers see it, e.g. "2500₽".
func FormatPrice(p decimal.Decimal) string {
	return p.String() + "₽"
}

// ButtonLabel renders "{name} — {price}₽", shortening the name with "…" so the
// whole label fits MaxButtonLabel characters.
func ButtonLabel(name string, price decimal.Decimal) string {
	suffix := " — " + FormatPrice(price)
	maxName := MaxButtonLabel - utf8.RuneCountInString(suffix)
	if maxName < 1 {
		return suffix
	}
	if utf8.RuneCountInString(name) > maxName {
		name = string([]rune(name)[:maxName-1]) + "…"
	}
	return name + suffix
}

func bouquetLines(tiers models.TierConfig) string {
	var b strings.Builder
	for i, bq := range tiers.All() {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "💐 %s — %s", bq.Name, FormatPrice(bq.Price))
	}
	return b.String()
}

// Reminder7Days is sent a week before the event together with TierKeyboard(..., true).
func Reminder7Days(firstName string, e models.Event, tiers models.TierConfig) string {
	return fmt.Sprintf("Привет, %s! 🌸\n\nЧерез неделю %s у %s!\n\nПодобрали для тебя букеты:\n\n%s\n\nВыбери букет и оформи предзаказ! 👇",
		userName(firstName), e.DisplayName(), e.RecipientName, bouquetLines(tiers))
}

// Reminder3Days is sent three days before the event together with TierKeyboard(..., false).
func Reminder3Days(firstName string, e models.Event, tiers models.TierConfig) string {
	return fmt.Sprintf("%s, уже через 3 дня %s у %s! 🌷\n\nЕщё не выбрал букет? Успей оформить предзаказ!\n\n%s",
		userName(firstName), e.DisplayName(), e.RecipientName, bouquetLines(tiers))
}

// Reminder1Day is sent the day before the event. With a pending preorder it
// tells the customer the bouquet is ready, otherwise it invites a last-minute order.
func Reminder1Day(firstName string, e models.Event, pending *models.Preorder, shop models.ShopSettings) string {
	name := userName(firstName)
	if pending != nil {
		return fmt.Sprintf("%s, напоминаем! 🌺\n\nЗавтра %s у %s.\n\nТвой букет «%s» готов!\n\n📍 Адрес: %s\n🕐 Время работы: %s\n\nЖдём тебя! 💐",
			name, e.DisplayName(), e.RecipientName, pending.BouquetName, shop.Address, shop.Hours)
	}
	return fmt.Sprintf("%s, завтра %s у %s! 🌸\n\nЕщё можно успеть заказать букет!\n\n📍 %s\n🕐 %s\n📞 %s",
		name, e.DisplayName(), e.RecipientName, shop.Address, shop.Hours, shop.Phone)
}

func contacts(shop models.ShopSettings) string {
	return fmt.Sprintf("📍 %s\n🕐 %s\n📞 %s", shop.Address, shop.Hours, shop.Phone)
}

// Welcome answers greetings.
func Welcome(shop models.ShopSettings) string {
	return fmt.Sprintf("Привет! 🌸\n\nЯ бот цветочного магазина \"%s\".\n\nЯ помогу не забыть о важных датах и вовремя заказать цветы!\n\n%s",
		shop.Name, contacts(shop))
}

// Help lists what the bot can do.
func Help(shop models.ShopSettings) string {
	return "❓ Чем помочь?\n\n🌷 Добавить даты — открой мини-приложение в группе\n🔔 Я напомню за 7, 3 и 1 день\n💐 Напиши \"заказ\" чтобы выбрать букет\n\n" +
		contacts(shop)
}

// DefaultPrompt answers text the bot does not understand.
func DefaultPrompt() string {
	return "Напиши \"помощь\" чтобы узнать что я умею 🌸"
}

// InvalidNumber answers an out-of-range event number.
func InvalidNumber(count int) string {
	return fmt.Sprintf("Неверный номер. Введи число от 1 до %d", count)
}

// EventList numbers the events for selection by digit.
func EventList(events []models.Event) string {
	var b strings.Builder
	b.WriteString("📋 Твои ближайшие события:\n\n")
	for i, e := range events {
		fmt.Fprintf(&b, "%d. %s — %s (%s)\n", i+1, e.Title(), e.RecipientName, e.Date())
	}
	b.WriteString("\n" + AskEventNumber)
	return b.String()
}

// BouquetSelection offers the three tiers for one event. It is sent with TierKeyboard(..., false).
func BouquetSelection(e models.Event, tiers models.TierConfig) string {
	return fmt.Sprintf("Выбери букет для \"%s\" — %s (%s):\n\n%s", e.Title(), e.RecipientName, e.Date(), bouquetLines(tiers))
}

// BouquetChosen asks how the order should be fulfilled. It is sent with DeliveryKeyboard.
func BouquetChosen(b models.Bouquet) string {
	return fmt.Sprintf("Отличный выбор! 💐\n\nБукет: %s\nЦена: %s\n\nКак хотите получить заказ?", b.Name, FormatPrice(b.Price))
}

// PickupConfirmation summarizes a self-pickup draft. It is sent with ConfirmKeyboard.
func PickupConfirmation(d models.PreorderDraft, shop models.ShopSettings) string {
	return fmt.Sprintf("Подтвердите предзаказ:\n\n💐 Букет: %s\n💰 Цена: %s\n📅 Дата: %s\n🏪 Самовывоз\n\n📍 Адрес: %s\n🕐 Время работы: %s",
		d.Bouquet.Name, FormatPrice(d.Price()), d.EventDate, shop.Address, shop.Hours)
}

func deliveryBlock(address, phone, at string) string {
	return fmt.Sprintf("📍 Адрес: %s\n📞 Телефон: %s\n🕐 Время: %s", address, phone, at)
}

// DeliveryConfirmation summarizes a delivery draft. It is sent with ConfirmKeyboard.
func DeliveryConfirmation(d models.PreorderDraft) string {
	return fmt.Sprintf("Подтвердите предзаказ:\n\n💐 Букет: %s\n💰 Цена: %s + доставка\n📅 Дата: %s\n🚗 Доставка\n\n%s",
		d.Bouquet.Name, FormatPrice(d.Price()), d.EventDate, deliveryBlock(d.Address, d.Phone, d.Time))
}

// OrderSuccess confirms a placed preorder to the buyer.
func OrderSuccess(d models.PreorderDraft, shop models.ShopSettings) string {
	head := fmt.Sprintf("✅ Предзаказ оформлен!\n\n💐 Букет: %s\n💰 Цена: %s\n📅 Дата: %s\n",
		d.Bouquet.Name, FormatPrice(d.Price()), d.EventDate)
	if d.Fulfillment == models.FulfillmentDelivery {
		return head + "🚗 Доставка\n\n" + deliveryBlock(d.Address, d.Phone, d.Time) +
			"\n\nАдминистратор свяжется с тобой для подтверждения!"
	}
	return head + fmt.Sprintf("🏪 Самовывоз\n\n📍 Адрес: %s\n🕐 Время работы: %s\n\nНапомним тебе за день до события!",
		shop.Address, shop.Hours)
}

// StaffNotification tells staff about a new preorder.
func StaffNotification(p models.Preorder, eventDate models.DayMonth) string {
	head := fmt.Sprintf("🔔 Новый предзаказ!\n\n👤 Клиент: vk.com/id%s\n📅 Событие: %s — %s\n\n💐 Букет: %s\n💰 Цена: %s\n\n",
		p.BuyerID, p.RecipientName, eventDate, p.BouquetName, FormatPrice(p.BouquetPrice))
	if p.Fulfillment == models.FulfillmentDelivery && p.Delivery != nil {
		return head + "🚗 Доставка\n" + deliveryBlock(p.Delivery.Address, p.Delivery.Phone, p.Delivery.Time)
	}
	return head + "🏪 Самовывоз"
}

var tierColors = map[models.BouquetTier]models.ButtonColor{
	models.TierEconomy: models.ColorSecondary,
	models.TierMedium:  models.ColorPrimary,
	models.TierPremium: models.ColorPositive,
}

// TierKeyboard offers one button per tier, each carrying a select_bouquet
// payload for eventID. withRemindLater appends the "remind later" button.
func TierKeyboard(tiers models.TierConfig, eventID string, withRemindLater bool) *models.Keyboard {
	kb := &models.Keyboard{Inline: true}
	for _, bq := range tiers.All() {
		kb.Rows = append(kb.Rows, []models.Button{{
			Label:   ButtonLabel(bq.Name, bq.Price),
			Payload: models.SelectBouquet{Tier: bq.Tier, EventID: eventID},
			Color:   tierColors[bq.Tier],
		}})
	}
	if withRemindLater {
		kb.Rows = append(kb.Rows, []models.Button{{
			Label:   "⏰ Напомнить позже",
			Payload: models.RemindLater{},
			Color:   models.ColorSecondary,
		}})
	}
	return kb
}

func cancelButton() models.Button {
	return models.Button{Label: "❌ Отмена", Payload: models.CancelPreorder{}, Color: models.ColorSecondary}
}

// DeliveryKeyboard offers self pickup, delivery or cancel.
func DeliveryKeyboard() *models.Keyboard {
	return &models.Keyboard{Inline: true, Rows: [][]models.Button{
		{{Label: "🏪 Самовывоз", Payload: models.DeliverySelf{}, Color: models.ColorPositive}},
		{{Label: "🚗 Доставка", Payload: models.DeliveryCourier{}, Color: models.ColorPrimary}},
		{cancelButton()},
	}}
}

// ConfirmKeyboard offers confirm or cancel.
func ConfirmKeyboard() *models.Keyboard {
	return &models.Keyboard{Inline: true, Rows: [][]models.Button{
		{{Label: "✅ Подтвердить", Payload: models.ConfirmPreorder{}, Color: models.ColorPositive}},
		{cancelButton()},
	}}
}

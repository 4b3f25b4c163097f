package flow

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"luxon_pay_bot/internal/domain"
)

// Reply keyboard labels.
const (
	ButtonDeposit     = "💰 Пополнить"
	ButtonWithdraw    = "💸 Вывести"
	ButtonSupport     = "👨‍💻 Тех поддержка"
	ButtonHistory     = "📊 История"
	ButtonInstruction = "📖 Инструкция"
	ButtonCancel      = "❌ Отменить заявку"
)

// Callback payloads.
const (
	CallbackCancel       = "cancel_request"
	callbackBankPrefix   = "deposit_bank_"
	callbackBankDisabled = "_disabled"
)

const (
	textPause      = "⏸️ Бот на паузе\n\n%s"
	textMenuPrompt = "Выберите действие 👇"

	textSupport     = "👨‍💻 Техническая поддержка\n\nНажмите на кнопку ниже, чтобы открыть раздел поддержки:"
	textHistory     = "📊 История транзакций\n\nНажмите на кнопку ниже, чтобы открыть историю ваших транзакций:"
	textInstruction = "📖 Инструкция\n\nНажмите на кнопку ниже, чтобы открыть инструкцию:"

	textCancelled         = "❌ Заявка отменена"
	textCancelledCallback = "Заявка отменена"
	textChooseFromList    = "❌ Выберите казино из списка ниже"
	textNoBookmakers      = "❌ Сейчас нет доступных казино. Попробуйте позже."
	textDepositsClosed    = "❌ Пополнения временно недоступны. Попробуйте позже."
	textWithdrawalsClosed = "❌ Выводы временно недоступны. Попробуйте позже."
	textDepositDisabled   = "❌ Пополнения для %s временно недоступны. Попробуйте позже или выберите другое казино."
	textWithdrawDisabled  = "❌ Выводы для %s временно недоступны. Попробуйте позже или выберите другое казино."
	textPendingDeposit    = "⚠️ У вас есть ожидающая заявка на пополнение. Дождитесь обработки текущей заявки перед созданием новой."

	textDepositTitle  = "💰 Пополнение\n\nВыберите казино:"
	textWithdrawTitle = "💸 Вывод средств\n\nВыберите казино:"

	textInvalidPlayerID = "❌ ID должен содержать только цифры. Попробуйте еще раз."
	textInvalidAmount   = "❌ Введите корректную сумму, например 500"
	textAmountRange     = "❌ Сумма должна быть от %s до %s сом"

	textGenerating    = "⏳ Генерирую QR-код..."
	textQRFailed      = "❌ Ошибка при получении ссылок на оплату. Попробуйте еще раз."
	textNoBankLinks   = "❌ Не удалось получить ссылки для оплаты. Обратитесь в поддержку."
	textBankDisabled  = "⚠️ Этот банк временно недоступен. Выберите другой банк."
	textSendReceipt   = "📸 Отправьте фото чека об оплате"
	textDepositExpiry = "⏰ Пополнение отменено, время оплаты прошло\n\n❌ Не переводите по старым реквизитам\n\nНачните заново, нажав на Пополнить"
	textTimerFailed   = "❌ Не удалось обновить заявку. Начните заново, нажав на Пополнить"

	textProcessingReceipt = "⏳ Обрабатываю фото чека и создаю заявку..."
	textNoActiveRequest   = "❌ Нет активной заявки для фото чека. Нажмите «Пополнить» и пройдите шаги заново."
	textNoSession         = "❌ Ошибка. Начните заново с /start"
	textGenericError      = "❌ Произошла ошибка. Попробуйте еще раз или напишите /start"
	textPhotoFailed       = "❌ Не удалось загрузить фото. Начните заново с /start"
	textServerDown        = "❌ Сервер недоступен. Пожалуйста, убедитесь, что админ-панель запущена."

	textSendQR          = "📷 Отправьте QR-код вашего кошелька для получения средств"
	textCheckingCode    = "⏳ Проверяю код вывода..."
	textWithdrawNoSum   = "⚠️ Сумма вывода не найдена. Проверьте код и попробуйте ещё раз."
	textWithdrawCheckKO = "⚠️ Не удалось проверить сумму вывода. Попробуйте еще раз."
	textInvalidCode     = "❌ Введите код вывода"
	textInvalidPhone    = "❌ Неверный номер телефона. Введите номер в формате " + domain.PhonePrefix + "XXXXXXXXX"
)

func menuGreeting(p domain.Profile) string {
	return fmt.Sprintf("👋 Привет, %s!\n\nПополнение и вывод для букмекеров за пару минут.", p.DisplayName())
}

func pauseText(maintenance string) string {
	return fmt.Sprintf(textPause, maintenance)
}

func promptPlayerID(bookmaker string) string {
	return fmt.Sprintf("🎰 Казино: %s\n\n🆔 Введите ID вашего игрового счета:", domain.BookmakerTitle(bookmaker))
}

func promptAmount(bookmaker, playerID string) string {
	return fmt.Sprintf(
		"🎰 Казино: %s\n🆔 ID: %s\n\n💰 Введите сумму пополнения\nМинимум: %s KGS\nМаксимум: %s KGS",
		domain.BookmakerTitle(bookmaker), playerID,
		groupThousands(domain.MinDepositFor(bookmaker)), groupThousands(domain.MaxDeposit),
	)
}

func amountRangeText(bookmaker string) string {
	return fmt.Sprintf(textAmountRange, domain.MinDepositFor(bookmaker).String(), domain.MaxDeposit.String())
}

func paymentCaption(amount decimal.Decimal, playerID, display string) string {
	return fmt.Sprintf(
		"💰 Сумма: %s сом\n🆔 ID: %s\n\n⏳ Время на оплату: %s\n‼️ Оплата строго до копеек\n📸 После оплаты отправьте фото чека",
		amount.StringFixed(2), playerID, display,
	)
}

func depositCreatedText(id, bookmaker, playerID string, amount decimal.Decimal) string {
	return fmt.Sprintf(
		"✅ Заявка на пополнение #%s создана\n\n🎰 Казино: %s\n🆔 ID: %s\n💰 Сумма: %s сом\n\n⏳ Ожидайте зачисления.",
		id, domain.BookmakerTitle(bookmaker), playerID, amount.StringFixed(2),
	)
}

func promptPhone(bookmaker string) string {
	return fmt.Sprintf("💸 Вывод средств\n\n🎰 Казино: %s\n\n📱 Введите номер телефона в формате %sXXXXXXXXX", domain.BookmakerTitle(bookmaker), domain.PhonePrefix)
}

func promptWithdrawPlayerID(bookmaker string) string {
	return fmt.Sprintf("🎰 Казино: %s\n\n🆔 Введите ID вашего игрового счета для вывода:", domain.BookmakerTitle(bookmaker))
}

func withdrawAddress(bookmaker string) string {
	if bookmaker == domain.Bookmaker1xBet {
		return "tsum lux"
	}
	return "Lux on 24/7"
}

func withdrawInstructions(bookmaker string) string {
	title := domain.BookmakerTitle(bookmaker)
	return strings.Join([]string{
		"📋 Как получить код вывода в " + title + ":",
		"",
		"1. Зайдите на сайт " + title,
		"2. Откройте раздел «Вывести со счета»",
		"3. Выберите способ «Наличные»",
		"4. Укажите сумму вывода",
		"5. Город: Бишкек",
		"6. Улица/адрес: " + withdrawAddress(bookmaker),
		"7. Подтвердите вывод и получите код",
		"",
		"🔑 Введите полученный код:",
	}, "\n")
}

func withdrawCreatedText(bookmaker, playerID, phone string, amount decimal.Decimal) string {
	return fmt.Sprintf(
		"✅ Заявка на вывод создана\n\n🎰 Казино: %s\n🆔 ID: %s\n📱 Телефон: %s\n💰 Сумма: %s сом\n\n⏳ Ожидайте поступления средств.",
		domain.BookmakerTitle(bookmaker), playerID, phone, amount.StringFixed(2),
	)
}

func groupThousands(d decimal.Decimal) string {
	digits := d.Truncate(0).String()
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

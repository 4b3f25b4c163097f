package flow

import (
	"strings"

	"luxon_pay_bot/internal/domain"
)

// bank is a deposit bank offered on the payment message.
type bank struct {
	key   string
	title string
	alias []string
}

var paymentBanks = []bank{
	{key: "demirbank", title: "DemirBank", alias: []string{"demir"}},
	{key: "omoney", title: "O!Money"},
	{key: "balance", title: "Balance.kg"},
	{key: "bakai", title: "Bakai"},
	{key: "megapay", title: "MegaPay"},
	{key: "mbank", title: "MBank"},
}

func (b bank) names() []string {
	return append([]string{b.key, b.title}, b.alias...)
}

func (b bank) link(links map[string]string) string {
	for _, name := range b.names() {
		if url := strings.TrimSpace(links[name]); url != "" {
			return url
		}
	}
	return ""
}

func (b bank) enabledIn(enabled []string) bool {
	for _, e := range enabled {
		for _, name := range b.names() {
			if strings.EqualFold(strings.TrimSpace(e), name) {
				return true
			}
		}
	}
	return false
}

func mainMenuKeyboard() *Keyboard {
	return &Keyboard{Reply: [][]string{
		{ButtonDeposit, ButtonWithdraw},
		{ButtonSupport, ButtonHistory},
		{ButtonInstruction},
	}}
}

func cancelKeyboard(extra ...string) *Keyboard {
	var rows [][]string
	for _, label := range extra {
		if label != "" {
			rows = append(rows, []string{label})
		}
	}
	return &Keyboard{Reply: append(rows, []string{ButtonCancel})}
}

func bookmakerKeyboard(list []domain.Bookmaker) *Keyboard {
	var rows [][]string
	for i := 0; i < len(list); i += 2 {
		row := []string{list[i].Title}
		if i+1 < len(list) {
			row = append(row, list[i+1].Title)
		}
		rows = append(rows, row)
	}
	return &Keyboard{Reply: append(rows, []string{ButtonCancel})}
}

func amountKeyboard() *Keyboard {
	return &Keyboard{Reply: [][]string{
		{"100", "200", "500"},
		{"1000", "2000", "5000"},
		{"10000"},
		{ButtonCancel},
	}}
}

func linkKeyboard(text, webApp, url string) *Keyboard {
	return &Keyboard{Inline: [][]Button{{{Text: text, WebApp: webApp, URL: url}}}}
}

// bankKeyboard lays out one button per bank that has a link, two per row,
// followed by the cancel button. Banks switched off in settings stay visible
// but answer with a notice. ok is false when no bank has a link.
func bankKeyboard(links map[string]string, enabled []string) (kb *Keyboard, ok bool) {
	var buttons []Button
	for _, b := range paymentBanks {
		url := b.link(links)
		if url == "" {
			continue
		}
		if b.enabledIn(enabled) {
			buttons = append(buttons, Button{Text: b.title, URL: url})
			continue
		}
		buttons = append(buttons, Button{
			Text: b.title + " ⚠️",
			Data: callbackBankPrefix + b.key + callbackBankDisabled,
		})
	}
	if len(buttons) == 0 {
		return nil, false
	}

	var rows [][]Button
	for i := 0; i < len(buttons); i += 2 {
		end := i + 2
		if end > len(buttons) {
			end = len(buttons)
		}
		rows = append(rows, buttons[i:end])
	}
	rows = append(rows, []Button{{Text: ButtonCancel, Data: CallbackCancel}})
	return &Keyboard{Inline: rows}, true
}

// qrContent picks the link encoded into the QR image: O!Money when present,
// otherwise the first bank in display order.
func qrContent(links map[string]string) string {
	for _, b := range paymentBanks {
		if b.key == "omoney" {
			if url := b.link(links); url != "" {
				return url
			}
		}
	}
	for _, b := range paymentBanks {
		if url := b.link(links); url != "" {
			return url
		}
	}
	return ""
}

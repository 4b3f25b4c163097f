package referral

import (
	"fmt"
	"strings"

	"luxon_pay_bot/internal/backend"
)

const maxTopPlayers = 10

// FormatStats renders the /referral reply.
func FormatStats(stats backend.ReferralStats) string {
	rank := "—"
	if stats.UserRank > 0 {
		rank = fmt.Sprintf("%d", stats.UserRank)
	}

	var b strings.Builder
	b.WriteString("📊 Реферальная программа\n\n")
	fmt.Fprintf(&b, "💰 Заработано: %s KGS\n", stats.Earned.StringFixed(2))
	fmt.Fprintf(&b, "👥 Рефералов: %d\n", stats.ReferralCount)
	fmt.Fprintf(&b, "💵 Доступно к выводу: %s KGS\n\n", stats.AvailableBalance.StringFixed(2))
	fmt.Fprintf(&b, "🏆 Ваш рейтинг: #%s\n\n", rank)
	b.WriteString("📈 Топ игроков:")

	if len(stats.TopPlayers) == 0 {
		b.WriteString("\nПока нет данных")
		return b.String()
	}

	for i, p := range stats.TopPlayers {
		if i == maxTopPlayers {
			break
		}
		name := strings.TrimSpace(p.Username)
		if name == "" {
			name = "Пользователь"
		}
		fmt.Fprintf(&b, "\n%d. %s — %s KGS (%d реф.)", i+1, name, p.Earned.StringFixed(2), p.ReferralCount)
	}
	return b.String()
}

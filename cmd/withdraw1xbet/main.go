package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"luxon_pay_bot/internal/cashdesk"
	"luxon_pay_bot/internal/config"
	"luxon_pay_bot/internal/logging"
)

const payoutTimeout = 40 * time.Second

type env struct {
	config.ToolEnv
	cashdesk.Credentials
	BaseURL string `envconfig:"XBET_BASE_URL" default:"https://partners.servcul.com/CashdeskBotAPI"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	account, code, ok := readInput(args, stdin, stdout, stderr)
	if !ok {
		return 1
	}

	var e env
	if err := config.LoadTool(&e); err != nil {
		fmt.Fprintf(stderr, "configuration error: %v\n", err)
		return 1
	}
	logger, err := logging.Setup(e.Config(config.ServiceWithdraw1xBet))
	if err != nil {
		fmt.Fprintf(stderr, "logger setup error: %v\n", err)
		return 1
	}

	client, err := cashdesk.NewClient(e.Credentials, logger, cashdesk.WithBaseURL(e.BaseURL))
	if err != nil {
		fmt.Fprintf(stderr, "❌ %v\n", err)
		return 1
	}

	fmt.Fprintln(stdout, "🔄 Вывод средств из 1xBet...")
	fmt.Fprintf(stdout, "   ID счета: %s\n", account)

	ctx, cancel := context.WithTimeout(context.Background(), payoutTimeout)
	defer cancel()

	result, err := client.Payout(ctx, account, code)
	if err != nil {
		fmt.Fprintf(stdout, "❌ Ошибка соединения: %v\n", err)
		return 1
	}

	fmt.Fprintln(stdout, strings.Repeat("=", 60))
	if result.Success {
		fmt.Fprintf(stdout, "✅ %s\n", result.Message)
		fmt.Fprintf(stdout, "💰 Сумма вывода: %s KGS\n", result.Amount.StringFixed(2))
	} else {
		fmt.Fprintf(stdout, "❌ %s\n", result.Message)
	}
	if len(result.Data) > 0 {
		if details, err := json.MarshalIndent(result.Data, "", "  "); err == nil {
			fmt.Fprintf(stdout, "\n%s\n", details)
		}
	}
	fmt.Fprintln(stdout, strings.Repeat("=", 60))

	if !result.Success {
		return 1
	}
	return 0
}

// readInput takes the account and code from args, prompting for whatever is
// missing.
func readInput(args []string, stdin io.Reader, stdout, stderr io.Writer) (string, string, bool) {
	if len(args) >= 2 {
		account, code := strings.TrimSpace(args[0]), strings.TrimSpace(args[1])
		if account != "" && code != "" {
			return account, code, true
		}
	}

	reader := bufio.NewReader(stdin)
	prompt := func(label string) string {
		fmt.Fprint(stdout, label)
		line, _ := reader.ReadString('\n')
		return strings.TrimSpace(line)
	}

	account := prompt("ID счета 1xBet: ")
	if account == "" {
		fmt.Fprintln(stderr, "❌ Ошибка: ID счета не может быть пустым")
		return "", "", false
	}
	code := prompt("Код ордера на вывод: ")
	if code == "" {
		fmt.Fprintln(stderr, "❌ Ошибка: код вывода не может быть пустым")
		return "", "", false
	}
	return account, code, true
}

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"luxon_pay_bot/internal/config"
	"luxon_pay_bot/internal/logging"
	"luxon_pay_bot/internal/userinfo"
)

const lookupTimeout = 30 * time.Second

type env struct {
	config.ToolEnv
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("userinfo", flag.ContinueOnError)
	fs.SetOutput(stderr)
	output := fs.String("o", "", "write the JSON report to this file")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: userinfo <telegram_id> [-o file]")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return 2
	}
	rawID := fs.Arg(0)
	if fs.NArg() > 1 {
		// Flags may follow the id.
		if err := fs.Parse(fs.Args()[1:]); err != nil {
			return 2
		}
	}

	if rawID == "" {
		fmt.Fprint(stdout, "Введите Telegram ID пользователя: ")
		line, _ := bufio.NewReader(stdin).ReadString('\n')
		rawID = strings.TrimSpace(line)
	}
	telegramID, err := strconv.ParseInt(strings.TrimSpace(rawID), 10, 64)
	if err != nil || telegramID <= 0 {
		fmt.Fprintln(stderr, "❌ Ошибка: ID должен быть числом")
		return 1
	}

	var e env
	if err := config.LoadTool(&e); err != nil {
		fmt.Fprintf(stderr, "configuration error: %v\n", err)
		return 1
	}
	logger, err := logging.Setup(e.Config(config.ServiceUserInfo))
	if err != nil {
		fmt.Fprintf(stderr, "logger setup error: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()

	db, err := userinfo.Open(ctx, e.DatabaseURL)
	if err != nil {
		logger.WithError(err).WithField("event", "db_connect_failed").Error("database connection error")
		fmt.Fprintf(stderr, "❌ Ошибка подключения к базе данных: %v\n", err)
		return 1
	}
	defer db.Close()

	report, err := userinfo.Lookup(ctx, db, telegramID)
	if errors.Is(err, userinfo.ErrUserNotFound) {
		fmt.Fprintf(stderr, "❌ Пользователь с ID %d не найден в базе данных\n", telegramID)
		return 1
	}
	if err != nil {
		logger.WithError(err).WithField("event", "userinfo_lookup_failed").Error("lookup failed")
		fmt.Fprintf(stderr, "❌ Ошибка при получении данных: %v\n", err)
		return 1
	}

	doc, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		fmt.Fprintf(stderr, "encode report: %v\n", err)
		return 1
	}
	doc = append(doc, '\n')

	if *output == "" {
		_, _ = stdout.Write(doc)
		return 0
	}
	if err := os.WriteFile(*output, doc, 0o600); err != nil {
		fmt.Fprintf(stderr, "write report: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "💾 Данные сохранены в %s\n", *output)
	return 0
}

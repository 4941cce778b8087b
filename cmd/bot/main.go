package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	_ "github.com/mattn/go-sqlite3"

	"github.com/maaaruch/tg-nomination-bot/internal/admin"
	"github.com/maaaruch/tg-nomination-bot/internal/app"
	"github.com/maaaruch/tg-nomination-bot/internal/cache"
	"github.com/maaaruch/tg-nomination-bot/internal/storage"
	"github.com/maaaruch/tg-nomination-bot/internal/voting"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		slog.Info(".env не найден, используем переменные окружения")
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		logger.Error("TELEGRAM_BOT_TOKEN не задан")
		os.Exit(1)
	}

	dbPath := getenv("DB_PATH", "data/data.db")
	adminAddr := getenv("ADMIN_ADDR", "127.0.0.1:8090")
	debug := getbool("BOT_DEBUG", false)

	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}

	// _busy_timeout: при конкурентных транзакциях SQLite ждёт, а не сразу
	// отдаёт SQLITE_BUSY; WAL разводит читателей и писателя.
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		logger.Error("ошибка открытия БД", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	store := storage.New(db)
	if err := store.InitSchema(); err != nil {
		logger.Error("ошибка инициализации схемы БД", "error", err)
		os.Exit(1)
	}

	rdb, err := cache.Connect(ctx, os.Getenv("REDIS_ADDR"), os.Getenv("REDIS_PASSWORD"), getint("REDIS_DB", 0))
	if err != nil {
		logger.Error("ошибка подключения к redis", "error", err)
		os.Exit(1)
	}
	if rdb != nil {
		defer rdb.Close()
		logger.Info("кэш redis подключён")
	}
	c := cache.New(rdb)

	votes := voting.NewService(store, logger)

	// Админка живёт в том же процессе и ходит в то же хранилище.
	adminAPI := fiber.New(fiber.Config{DisableStartupMessage: true})
	admin.SetupRoutes(adminAPI, admin.NewHandler(store, c, logger))
	go func() {
		logger.Info("админка запущена", "addr", adminAddr)
		if err := adminAPI.Listen(adminAddr); err != nil {
			logger.Error("админка остановлена", "error", err)
		}
	}()

	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		logger.Error("ошибка создания бота", "error", err)
		os.Exit(1)
	}
	bot.Debug = debug
	logger.Info("бот запущен", "username", bot.Self.UserName)

	application := app.New(bot, votes, store, c, logger)
	application.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := adminAPI.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("ошибка остановки админки", "error", err)
	}

	logger.Info("выключаемся")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getbool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getint(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

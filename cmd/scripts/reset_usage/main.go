package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/joho/godotenv"

	"github.com/wuwenbin0122/wwb.chat/internal/db"
	"github.com/wuwenbin0122/wwb.chat/internal/quota"
	"github.com/wuwenbin0122/wwb.chat/internal/utils"
)

func main() {
	userID := flag.String("user", "", "user id whose usage is cleared (all users when empty)")
	date := flag.String("date", "", "quota date (YYYY-MM-DD), defaults to today")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := utils.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	day := *date
	if day == "" {
		day = time.Now().In(cfg.Chat.Location()).Format(quota.DateLayout)
	}
	if _, err := time.Parse(quota.DateLayout, day); err != nil {
		log.Fatalf("invalid date %q: %v", day, err)
	}

	ctx := context.Background()
	pg, err := db.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pg.Close()

	stmt := "DELETE FROM daily_usage WHERE date = $1"
	args := []any{day}
	if *userID != "" {
		stmt += " AND user_id = $2"
		args = append(args, *userID)
	}

	tag, err := pg.Pool.Exec(ctx, stmt, args...)
	if err != nil {
		log.Fatalf("exec %q: %v", stmt, err)
	}

	log.Printf("cleared %d usage rows for %s", tag.RowsAffected(), day)
}

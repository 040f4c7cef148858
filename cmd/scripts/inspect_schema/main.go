package main

import (
	"context"
	"fmt"
	"log"

	"github.com/joho/godotenv"

	"github.com/wuwenbin0122/wwb.chat/internal/db"
	"github.com/wuwenbin0122/wwb.chat/internal/utils"
)

var tables = []string{"users", "conversations", "daily_usage"}

func main() {
	_ = godotenv.Load()

	cfg, err := utils.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx := context.Background()
	pg, err := db.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pg.Close()

	const query = `SELECT column_name, data_type FROM information_schema.columns WHERE table_schema = 'public' AND table_name = $1 ORDER BY ordinal_position`

	for _, table := range tables {
		rows, err := pg.Pool.Query(ctx, query, table)
		if err != nil {
			log.Fatalf("query columns of %s: %v", table, err)
		}

		fmt.Printf("%s:\n", table)
		count := 0
		for rows.Next() {
			var name, dataType string
			if err := rows.Scan(&name, &dataType); err != nil {
				rows.Close()
				log.Fatalf("scan column: %v", err)
			}
			fmt.Printf("- %s (%s)\n", name, dataType)
			count++
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			log.Fatalf("read columns of %s: %v", table, err)
		}
		if count == 0 {
			fmt.Println("  (missing)")
		}
	}
}

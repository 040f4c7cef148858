package main

import (
	"context"
	"errors"
	"log"

	"github.com/joho/godotenv"

	"github.com/wuwenbin0122/wwb.chat/internal/auth"
	"github.com/wuwenbin0122/wwb.chat/internal/db"
	"github.com/wuwenbin0122/wwb.chat/internal/users"
	"github.com/wuwenbin0122/wwb.chat/internal/utils"
)

type seedUser struct {
	username string
	email    string
	password string
	nickname string
	super    bool
}

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

	if err := pg.EnsureSchema(ctx); err != nil {
		log.Fatalf("ensure schema: %v", err)
	}

	gormDB, err := db.NewGORM(cfg.Postgres)
	if err != nil {
		log.Fatalf("open gorm: %v", err)
	}
	repo := users.NewGormRepository(gormDB)

	authService, err := auth.NewService(cfg.JWTSecret, cfg.TokenTTL, repo)
	if err != nil {
		log.Fatalf("init auth: %v", err)
	}

	seeds := []seedUser{
		{username: "demo", email: "demo@example.com", password: "demo1234", nickname: "데모"},
		{username: "tester", email: "tester@example.com", password: "tester1234", nickname: "테스터"},
		{username: "admin", email: "admin@example.com", password: "admin1234", nickname: "관리자", super: true},
	}

	created := 0
	for _, s := range seeds {
		result, err := authService.Register(ctx, auth.RegisterInput{
			Username: s.username,
			Email:    s.email,
			Password: s.password,
			Nickname: s.nickname,
		})
		switch {
		case errors.Is(err, auth.ErrUserExists), errors.Is(err, auth.ErrEmailExists):
			log.Printf("skip %s: already exists", s.username)
			continue
		case err != nil:
			log.Fatalf("register %s: %v", s.username, err)
		}

		if s.super {
			if err := repo.SetSuper(ctx, result.User.ID, true); err != nil {
				log.Fatalf("mark %s super: %v", s.username, err)
			}
		}
		created++
	}

	log.Printf("seeded %d users", created)
}

// Command issue-token prints a bearer token for a user, creating the user on
// first use.
package main

import (
	"context"
	"fmt"
	"group_chat/internal/config"
	"group_chat/internal/model"
	"group_chat/internal/repository/user"
	"group_chat/internal/service/auth"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: issue-token <username>")
		os.Exit(2)
	}
	username := os.Args[1]

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		fmt.Fprintln(os.Stderr, "mongo:", err)
		os.Exit(1)
	}
	defer client.Disconnect(context.Background())

	userRepo := user.NewUserRepo(client.Database(cfg.Mongo.Database))
	u, err := getUserAndCreateIfNotExist(ctx, userRepo, username)
	if err != nil {
		fmt.Fprintln(os.Stderr, "user:", err)
		os.Exit(1)
	}

	authorizer := auth.NewAuthorizer(auth.Config{
		Secret:   []byte(cfg.Auth.Secret),
		Issuer:   cfg.Auth.Issuer,
		TokenTTL: cfg.Auth.TokenTTL,
	}, userRepo)
	token, err := authorizer.Issue(u.ID.Hex())
	if err != nil {
		fmt.Fprintln(os.Stderr, "token:", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "user %s (%s)\n", u.Name, u.ID.Hex())
	fmt.Println(token)
}

func getUserAndCreateIfNotExist(ctx context.Context, userRepo *user.UserRepo, username string) (*model.User, error) {
	u, err := userRepo.GetByName(ctx, username)
	if err != nil {
		return nil, err
	}
	if u != nil {
		return u, nil
	}

	u = &model.User{Name: username}
	if _, err := userRepo.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

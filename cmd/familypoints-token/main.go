// Package main выпускает подписанный токен пользователя для заголовка Authorization.
//
// Пример:
//
//	AUTH_SECRET=secret familypoints-token -u <user uuid> -f <family uuid>
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"

	"github.com/mmeshcher/familypoints/internal/middleware"
)

type options struct {
	AuthSecret string `env:"AUTH_SECRET"`
}

func main() {
	var opts options
	if err := env.Parse(&opts); err != nil {
		fmt.Fprintln(os.Stderr, "parse env:", err)
		os.Exit(1)
	}

	userFlag := flag.String("u", "", "user id")
	familyFlag := flag.String("f", "", "family id")
	secretFlag := flag.String("k", "", "secret key for identity tokens")
	flag.Parse()

	if opts.AuthSecret == "" {
		opts.AuthSecret = *secretFlag
	}
	if opts.AuthSecret == "" {
		fmt.Fprintln(os.Stderr, "secret is required: set AUTH_SECRET or -k")
		os.Exit(2)
	}

	userID, err := uuid.Parse(*userFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid user id:", err)
		os.Exit(2)
	}
	familyID, err := uuid.Parse(*familyFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid family id:", err)
		os.Exit(2)
	}

	auth := middleware.NewAuthMiddleware(opts.AuthSecret)
	token, err := auth.Token(middleware.Identity{UserID: userID, FamilyID: familyID})
	if err != nil {
		fmt.Fprintln(os.Stderr, "sign token:", err)
		os.Exit(1)
	}
	fmt.Println(token)
}

// Command seb-token signs access tokens for the monitoring API. Accounts
// live in the exam administration system; this only mints the JWT.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/zaqqye/seb_monitor/internal/config"
	"github.com/zaqqye/seb_monitor/internal/controllers"
	"github.com/zaqqye/seb_monitor/internal/middleware"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	subject := pflag.String("subject", "", "user id placed in the sub claim")
	role := pflag.String("role", controllers.RoleProctor, "proctor or admin")
	ttl := pflag.Duration("ttl", 12*time.Hour, "token lifetime")
	pflag.Parse()

	if *subject == "" {
		pflag.Usage()
		os.Exit(2)
	}
	if !controllers.IsValidRole(*role) {
		fmt.Fprintf(os.Stderr, "unknown role %q\n", *role)
		os.Exit(2)
	}

	token, err := middleware.IssueToken(cfg.JWTSecret, *subject, *role, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, "signing failed:", err)
		os.Exit(1)
	}
	fmt.Println(token)
}

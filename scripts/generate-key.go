// Package main is a development utility that prints a fresh token signing secret and a
// random password for a local administrator, with the SQL to seed that account. Do not
// use its output in production; create accounts with `server createuser` instead.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log"

	"github.com/api-monitor/api-monitor/internal/identity"
	"github.com/google/uuid"
)

func random(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		log.Fatal(err)
	}
	return b
}

func main() {
	secret := hex.EncodeToString(random(32))
	password := base64.RawURLEncoding.EncodeToString(random(18))

	hash, err := identity.HashPassword(password)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println("==========================================================")
	fmt.Printf("MON_AUTH_JWT_SECRET=%s\n", secret)
	fmt.Printf("admin password:     %s\n", password)
	fmt.Println("==========================================================")
	fmt.Printf(`
INSERT INTO users (id, username, email, first_name, last_name, password_hash, is_admin, created_at, updated_at)
VALUES ('%s', 'admin', 'admin@dev.local', '', '', '%s', true, NOW(), NOW());
`, uuid.New().String(), hash)
}

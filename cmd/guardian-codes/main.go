// Command guardian-codes prints the current login code for each enrolled
// account. It is a smoke-test harness for the engine, not a full client.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/feuarus/guardian"
)

func main() {
	var (
		dir       = flag.String("dir", ".", "account store directory")
		redisAddr = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or the file store is used")
		account   = flag.String("account", "", "print only this account's code")
		passEnv   = flag.String("passphrase-env", "", "environment variable holding the store passphrase")
		resync    = flag.Bool("resync", false, "force a clock resync before generating codes")
	)
	flag.Parse()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	b := guardian.New()
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		defer client.Close()
		b = b.WithRedis(client)
	} else {
		b = b.WithStoreDir(*dir)
	}
	if *passEnv != "" {
		b = b.WithPassphraseProvider(guardian.StaticPassphrase(os.Getenv(*passEnv)))
	}

	engine, err := b.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening store: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if *resync {
		if err := engine.ResyncClock(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "clock resync: %v\n", err)
			os.Exit(1)
		}
	}

	names := make([]string, 0)
	if *account != "" {
		names = append(names, *account)
	} else {
		for _, entry := range engine.Accounts() {
			names = append(names, entry.AccountName)
		}
	}
	if len(names) == 0 {
		fmt.Fprintln(os.Stderr, "no accounts enrolled")
		os.Exit(2)
	}

	failed := false
	for _, name := range names {
		code, err := engine.Code(ctx, name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
			failed = true
			continue
		}
		fmt.Printf("%-24s %s\n", name, code)
	}
	if failed {
		os.Exit(1)
	}
}

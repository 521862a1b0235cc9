package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"admin-approvals/api"
	"admin-approvals/config"
	"admin-approvals/storage"
)

type tokenConfig struct {
	TokenSecret  string        `env:"TOKEN_SECRET,required,notEmpty"`
	TokenIssuer  string        `env:"TOKEN_ISSUER" envDefault:"admin-approvals"`
	TokenTTL     time.Duration `env:"TOKEN_TTL" envDefault:"24h"`
	JWTAudience  string        `env:"JWT_AUDIENCE"`
	DatabasePath string        `env:"DATABASE_PATH"`
}

type issuer interface {
	Issue(actorID string) (string, error)
}

func main() {
	var (
		count  = flag.Int("count", 1, "number of tokens to generate")
		prefix = flag.String("prefix", "load-admin", "prefix for generated actor IDs when count > 1")
		start  = flag.Int("start", 1, "starting index for generated actor IDs when count > 1")
		email  = flag.String("email", "", "resolve the actor ID from this email (requires DATABASE_PATH)")
		output = flag.String("output", "", "file to write generated tokens as a JSON array")
	)
	flag.Parse()

	var cfg tokenConfig
	if err := config.Load(&cfg); err != nil {
		log.Fatalf("config: %v", err)
	}
	if *count < 1 {
		log.Fatal("count must be at least 1")
	}
	if *start < 1 {
		log.Fatal("start index must be at least 1")
	}

	args := flag.Args()
	if *email != "" {
		id, err := lookupActor(cfg.DatabasePath, *email)
		if err != nil {
			log.Fatalf("lookup actor: %v", err)
		}
		args = []string{id}
	}
	if len(args) > 0 && *count > 1 {
		log.Fatal("explicit actor ID cannot be provided when generating multiple tokens")
	}

	auth, err := api.NewAuth(api.AuthConfig{
		Secret:   cfg.TokenSecret,
		Issuer:   cfg.TokenIssuer,
		TTL:      cfg.TokenTTL,
		Audience: cfg.JWTAudience,
	}, nil)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	tokens, err := generateTokens(auth, *count, *prefix, *start, args)
	if err != nil {
		log.Fatalf("generate token: %v", err)
	}
	if *output != "" {
		if err := writeTokens(*output, tokens); err != nil {
			log.Fatalf("write tokens: %v", err)
		}
	}
	fmt.Print(tokens[0])
}

func lookupActor(dbPath, email string) (string, error) {
	if dbPath == "" {
		return "", fmt.Errorf("DATABASE_PATH must be set to resolve %s", email)
	}
	ctx := context.Background()
	store, err := storage.Open(ctx, dbPath)
	if err != nil {
		return "", err
	}
	defer store.Close()
	actor, err := store.FindActorByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if actor == nil {
		return "", fmt.Errorf("no actor with email %s", email)
	}
	return actor.ID, nil
}

func generateTokens(auth issuer, count int, prefix string, start int, args []string) ([]string, error) {
	tokens := make([]string, count)
	for i := 0; i < count; i++ {
		var actorID string
		switch {
		case len(args) > 0:
			actorID = args[0]
		case count == 1:
			actorID = prefix
		default:
			actorID = fmt.Sprintf("%s-%d", prefix, start+i)
		}
		tok, err := auth.Issue(actorID)
		if err != nil {
			return nil, err
		}
		tokens[i] = tok
	}
	return tokens, nil
}

func writeTokens(path string, tokens []string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := sonic.Marshal(tokens)
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}

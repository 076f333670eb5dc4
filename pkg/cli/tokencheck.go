package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/verastack/switchboard/pkg/auth"
	"github.com/verastack/switchboard/pkg/storage"
)

var tokenCheckCmd = &cobra.Command{
	Use:   "token-check",
	Short: "Inspect the configured token and any persisted tokens",
	RunE:  checkTokens,
}

func checkTokens(cmd *cobra.Command, args []string) error {
	fmt.Println("=== Switchboard Token Diagnostic ===")

	fmt.Println("1. Environment token:")
	token := os.Getenv("SWITCHBOARD_TOKEN")
	if token == "" {
		fmt.Println("   no token in SWITCHBOARD_TOKEN")
	} else {
		fmt.Printf("   token found (length: %d)\n", len(token))
		describeToken(token)
	}

	dbPath := os.Getenv("TOKEN_DB_PATH")
	secretKeyBase := os.Getenv("SECRET_KEY_BASE")
	if dbPath == "" || secretKeyBase == "" {
		fmt.Println("2. Token store: not configured")
		return nil
	}

	fmt.Printf("2. Token store (%s):\n", dbPath)
	store, err := storage.NewTokenStore(dbPath, secretKeyBase)
	if err != nil {
		return fmt.Errorf("failed to open token store: %w", err)
	}
	defer store.Close()

	total, valid, expired, err := store.Stats()
	if err != nil {
		return fmt.Errorf("failed to read token store stats: %w", err)
	}
	fmt.Printf("   %d stored, %d valid, %d expired\n", total, valid, expired)

	rec, err := store.LatestToken()
	if err != nil {
		fmt.Println("   no valid persisted token")
		return nil
	}

	fmt.Printf("   latest: conversation %s, expires %s\n", rec.ConversationID, rec.ExpiresAt.Format(time.RFC3339))
	describeToken(rec.Token)

	return nil
}

func describeToken(token string) {
	claims, err := auth.ParseClaims(token)
	if err != nil {
		fmt.Printf("   cannot parse claims: %v\n", err)
		return
	}

	if conv := claims.ConversationID(); conv != "" {
		fmt.Printf("   conversation claim: %s\n", conv)
	}
	if exp := claims.Expiry(); !exp.IsZero() {
		fmt.Printf("   expires: %s (in %s)\n", exp.Format(time.RFC3339), claims.ExpiresIn().Round(time.Second))
	}
	if claims.IsExpired() {
		fmt.Println("   WARNING: token is expired")
	}
}

package registry

import (
	"strings"
	"time"

	"github.com/mr-tron/base58"
)

// User is a Grateful participant. The wallet address is optional and
// set-once; only users with a non-empty wallet take part in distribution
// matching.
type User struct {
	TwitterID     string
	TwitterHandle string
	WalletAddress string
	CreatedAt     time.Time
}

// Normalize canonicalizes a wallet address for matching: surrounding
// whitespace trimmed, lowercased. Both sides of every lookup go through this,
// so case never affects matching.
func Normalize(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// IsValidWalletAddress reports whether address decodes as a 32-byte base58
// Solana public key.
func IsValidWalletAddress(address string) bool {
	decoded, err := base58.Decode(strings.TrimSpace(address))
	if err != nil {
		return false
	}
	return len(decoded) == 32
}

// Registry maps normalized wallet addresses to their owning user. It is an
// immutable snapshot built once per monitor run.
type Registry struct {
	byWallet map[string]User
}

// Build indexes users by normalized wallet address. Users without a wallet
// are skipped. Duplicate wallets resolve last-write-wins; the store is
// expected to keep wallets unique and the registry only reflects it.
func Build(users []User) *Registry {
	byWallet := make(map[string]User, len(users))
	for _, u := range users {
		if strings.TrimSpace(u.WalletAddress) == "" {
			continue
		}
		byWallet[Normalize(u.WalletAddress)] = u
	}
	return &Registry{byWallet: byWallet}
}

// Lookup returns the user owning the given wallet address, if registered.
func (r *Registry) Lookup(address string) (User, bool) {
	u, ok := r.byWallet[Normalize(address)]
	return u, ok
}

// Size returns the number of registered wallets.
func (r *Registry) Size() int {
	return len(r.byWallet)
}

// Wallets returns the normalized registered wallet addresses, for debug
// logging when a payout finds no match.
func (r *Registry) Wallets() []string {
	wallets := make([]string, 0, len(r.byWallet))
	for w := range r.byWallet {
		wallets = append(wallets, w)
	}
	return wallets
}

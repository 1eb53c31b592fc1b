package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/fitcore/pkg/secrets"
)

const (
	keyPrefix     = "cart:"
	cipherPurpose = "cart-contents"
)

// Config tunes cart persistence.
type Config struct {
	TTL time.Duration `env:"CART_TTL" envDefault:"168h"`
}

// Item is a single cart line.
type Item struct {
	ProductID string `json:"productId"`
	Quantity  int64  `json:"quantity"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

// Cart is a user's pending purchase selection.
type Cart struct {
	UserID    string    `json:"userId"`
	Items     []Item    `json:"items"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ErrNotFound is returned when a user has no stored cart.
var ErrNotFound = errors.New("cart: not found")

// Store keeps carts in redis so state survives restarts and is shared
// across processes. Contents are encrypted at rest.
type Store struct {
	redis  redis.UniversalClient
	cipher *secrets.Cipher
	ttl    time.Duration
}

func NewStore(rdb redis.UniversalClient, cipher *secrets.Cipher, cfg Config) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = 7 * 24 * time.Hour
	}
	return &Store{redis: rdb, cipher: cipher, ttl: cfg.TTL}
}

// Save stores the cart under the user's key, refreshing the TTL.
func (s *Store) Save(ctx context.Context, c Cart) error {
	c.UpdatedAt = time.Now().UTC()
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal cart: %w", err)
	}
	sealed, err := s.cipher.EncryptBytes(cipherPurpose, raw)
	if err != nil {
		return fmt.Errorf("encrypt cart: %w", err)
	}
	return s.redis.Set(ctx, keyPrefix+c.UserID, sealed, s.ttl).Err()
}

// Load returns the user's cart or ErrNotFound.
func (s *Store) Load(ctx context.Context, userID string) (Cart, error) {
	sealed, err := s.redis.Get(ctx, keyPrefix+userID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Cart{}, ErrNotFound
		}
		return Cart{}, err
	}
	raw, err := s.cipher.DecryptBytes(cipherPurpose, sealed)
	if err != nil {
		return Cart{}, fmt.Errorf("decrypt cart: %w", err)
	}

	var c Cart
	if err := json.Unmarshal(raw, &c); err != nil {
		return Cart{}, fmt.Errorf("unmarshal cart: %w", err)
	}
	return c, nil
}

// AddItem merges an item into the cart, creating the cart when absent.
func (s *Store) AddItem(ctx context.Context, userID string, item Item) (Cart, error) {
	c, err := s.Load(ctx, userID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Cart{}, err
	}
	c.UserID = userID

	merged := false
	for i, existing := range c.Items {
		if existing.ProductID == item.ProductID {
			c.Items[i].Quantity += item.Quantity
			merged = true
			break
		}
	}
	if !merged {
		c.Items = append(c.Items, item)
	}

	if err := s.Save(ctx, c); err != nil {
		return Cart{}, err
	}
	return c, nil
}

// Clear drops the user's cart.
func (s *Store) Clear(ctx context.Context, userID string) error {
	return s.redis.Del(ctx, keyPrefix+userID).Err()
}

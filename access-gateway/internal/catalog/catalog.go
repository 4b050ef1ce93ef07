package catalog

import (
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/privateness-network/bot-access/pkg/model"
)

// Defaults are shared by every row unless the row overrides them.
type Defaults struct {
	PaymentAddress string    `yaml:"payment_address" validate:"required,alphanum,min=26,max=35"`
	PaymentAsset   string    `yaml:"payment_asset" validate:"required,oneof=NCH NESS"`
	RequiredAmount string    `yaml:"required_amount" validate:"required,numeric"`
	BalanceAsset   string    `yaml:"balance_asset" validate:"omitempty,oneof=NCH NESS"`
	MinimumBalance string    `yaml:"minimum_balance" validate:"omitempty,numeric"`
	ActivatedAt    time.Time `yaml:"activated_at"`
	AccessPeriod   string    `yaml:"access_period"`
}

// Row is one (asset, market, exchange) triple.
type Row struct {
	Asset          string `yaml:"asset" validate:"required,alphanum"`
	Market         string `yaml:"market" validate:"required,oneof=Spot Perpetual"`
	Exchange       string `yaml:"exchange" validate:"required,alphanum"`
	Bot            string `yaml:"bot" validate:"required,excludesall=@/ "`
	Name           string `yaml:"name"`
	RequiredAmount string `yaml:"required_amount" validate:"omitempty,numeric"`
	MinimumBalance string `yaml:"minimum_balance" validate:"omitempty,numeric"`
	AccessPeriod   string `yaml:"access_period"`
}

// File is the on-disk layout of the product table.
type File struct {
	Defaults Defaults `yaml:"defaults"`
	Products []Row    `yaml:"products" validate:"required,min=1,dive"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Catalog is the immutable product table, indexed by key.
type Catalog struct {
	products []model.Product
	byKey    map[string]model.Product
}

// Key builds the product key for a triple, e.g. "BTC_Spot_Binance".
func Key(asset, market, exchange string) string {
	return asset + "_" + market + "_" + exchange
}

// LoadFile reads and validates a product table from path.
func LoadFile(path string, defaultPeriod time.Duration) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read products file: %w", err)
	}
	return Parse(data, defaultPeriod)
}

// Parse decodes and validates a YAML product table. defaultPeriod applies when neither
// the defaults block nor the row sets access_period.
func Parse(data []byte, defaultPeriod time.Duration) (*Catalog, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode products file: %w", err)
	}
	if err := validate.Struct(f); err != nil {
		return nil, fmt.Errorf("invalid products file: %w", err)
	}
	return build(f, defaultPeriod)
}

func build(f File, defaultPeriod time.Duration) (*Catalog, error) {
	period := defaultPeriod
	if f.Defaults.AccessPeriod != "" {
		d, err := parsePeriod(f.Defaults.AccessPeriod)
		if err != nil {
			return nil, fmt.Errorf("defaults.access_period: %w", err)
		}
		period = d
	}

	balanceAsset := model.Asset(f.Defaults.BalanceAsset)
	if balanceAsset == "" {
		balanceAsset = model.AssetNESS
	}

	c := &Catalog{byKey: make(map[string]model.Product, len(f.Products))}
	for i, r := range f.Products {
		key := Key(r.Asset, r.Market, r.Exchange)
		if _, dup := c.byKey[strings.ToLower(key)]; dup {
			return nil, fmt.Errorf("products[%d]: duplicate key %s", i, key)
		}

		required, err := amount(r.RequiredAmount, f.Defaults.RequiredAmount)
		if err != nil {
			return nil, fmt.Errorf("%s: required_amount: %w", key, err)
		}
		if !required.IsPositive() {
			return nil, fmt.Errorf("%s: required_amount must be positive", key)
		}
		minimum, err := amount(r.MinimumBalance, f.Defaults.MinimumBalance)
		if err != nil {
			return nil, fmt.Errorf("%s: minimum_balance: %w", key, err)
		}
		if minimum.IsNegative() {
			return nil, fmt.Errorf("%s: minimum_balance must not be negative", key)
		}

		p := model.Product{
			Key:            key,
			Asset:          r.Asset,
			Market:         r.Market,
			Exchange:       r.Exchange,
			DisplayName:    r.Name,
			BotUsername:    r.Bot,
			PaymentAddress: f.Defaults.PaymentAddress,
			PaymentAsset:   model.Asset(f.Defaults.PaymentAsset),
			RequiredAmount: required,
			BalanceAsset:   balanceAsset,
			MinimumBalance: minimum,
			ActivatedAt:    f.Defaults.ActivatedAt.UTC(),
			AccessPeriod:   period,
		}
		if p.DisplayName == "" {
			p.DisplayName = fmt.Sprintf("%s %s (%s)", r.Asset, r.Market, r.Exchange)
		}
		if r.AccessPeriod != "" {
			if p.AccessPeriod, err = parsePeriod(r.AccessPeriod); err != nil {
				return nil, fmt.Errorf("%s: access_period: %w", key, err)
			}
		}

		c.products = append(c.products, p)
		c.byKey[strings.ToLower(key)] = p
	}

	sort.SliceStable(c.products, func(i, j int) bool { return c.products[i].Key < c.products[j].Key })
	return c, nil
}

func amount(v, def string) (decimal.Decimal, error) {
	if v == "" {
		v = def
	}
	if v == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(v)
}

// parsePeriod accepts Go durations ("720h"), whole days ("30d"), or "permanent"/"0".
func parsePeriod(s string) (time.Duration, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch s {
	case "", "0", "permanent", "forever":
		return 0, nil
	}
	if strings.HasSuffix(s, "d") {
		var days int
		if _, err := fmt.Sscanf(strings.TrimSuffix(s, "d"), "%d", &days); err != nil || days < 0 {
			return 0, fmt.Errorf("invalid day count %q", s)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative period %q", s)
	}
	return d, nil
}

// Get looks a product up by key. Keys match case-insensitively so "Doge_Spot_Okx"
// and "Doge_Spot_OKX" resolve to the same product.
func (c *Catalog) Get(key string) (model.Product, bool) {
	p, ok := c.byKey[strings.ToLower(strings.TrimSpace(key))]
	return p, ok
}

// All returns the products ordered by key.
func (c *Catalog) All() []model.Product {
	out := make([]model.Product, len(c.products))
	copy(out, c.products)
	return out
}

// ByBot returns every product served by the given bot username.
func (c *Catalog) ByBot(username string) []model.Product {
	var out []model.Product
	for _, p := range c.products {
		if strings.EqualFold(p.BotUsername, username) {
			out = append(out, p)
		}
	}
	return out
}

func (c *Catalog) Len() int { return len(c.products) }

// New builds a catalog directly from products, for tests and tooling.
func New(products ...model.Product) *Catalog {
	c := &Catalog{byKey: make(map[string]model.Product, len(products))}
	for _, p := range products {
		c.products = append(c.products, p)
		c.byKey[strings.ToLower(p.Key)] = p
	}
	sort.SliceStable(c.products, func(i, j int) bool { return c.products[i].Key < c.products[j].Key })
	return c
}

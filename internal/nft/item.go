// Package nft models the NFT being appraised and turns it into the initial
// appraisal conversation. It can also hold out the latest sale so a run's
// consensus price can be scored against a known outcome.
package nft

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ahrav/go-appraise/internal/domain"
)

// SaleDateLayout is the layout of Sale.Date.
const SaleDateLayout = "2006-01-02 15:04:05"

// TargetDateLayout renders the date the appraisal should target, e.g. "March, 2025".
const TargetDateLayout = "January, 2006"

var validate = validator.New(validator.WithRequiredStructEnabled())

// Metadata is the marketplace metadata of an NFT.
type Metadata struct {
	Symbol           string `json:"symbol"`
	RarityRank       string `json:"rarity_rank"`
	RarityPercentage string `json:"rarity_percentage"`
	Amount           string `json:"amount"`
}

// Sale is one historical transaction.
type Sale struct {
	PriceEthereum float64 `json:"price_ethereum" validate:"gte=0"`
	PriceUSD      float64 `json:"price_usd"      validate:"gte=0"`
	Date          string  `json:"date"           validate:"required"`
}

// Time parses the sale date.
func (s Sale) Time() (time.Time, error) {
	t, err := time.Parse(SaleDateLayout, s.Date)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: sale date %q: %w", domain.ErrInvalidRequest, s.Date, err)
	}
	return t, nil
}

// Item is the NFT handed to the appraisers.
type Item struct {
	Name         string   `json:"name"          validate:"required"`
	TokenID      string   `json:"token_id"      validate:"required"`
	TokenAddress string   `json:"token_address" validate:"required"`
	Metadata     Metadata `json:"metadata"`
	SalesHistory []Sale   `json:"sales_history" validate:"dive"`
}

// Validate checks required identifiers and sale fields.
func (i *Item) Validate() error {
	if err := validate.Struct(i); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidRequest, err)
	}
	return nil
}

// Decode reads and validates an item from JSON.
func Decode(r io.Reader) (Item, error) {
	var item Item
	if err := json.NewDecoder(r).Decode(&item); err != nil {
		return Item{}, fmt.Errorf("%w: %w", domain.ErrInvalidRequest, err)
	}
	if err := item.Validate(); err != nil {
		return Item{}, err
	}
	return item, nil
}

// Load reads an item from a JSON file.
func Load(path string) (Item, error) {
	f, err := os.Open(path)
	if err != nil {
		return Item{}, fmt.Errorf("open nft input: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Decode(f)
}

// Holdout is the sale removed from an item for accuracy scoring.
type Holdout struct {
	Sale       Sale   `json:"sale"`
	TargetDate string `json:"target_date"`
}

// HoldOutLatestSale returns a copy of item without its most recent sale,
// together with that sale and its "Month, YYYY" date.
func HoldOutLatestSale(item Item) (Item, Holdout, error) {
	if len(item.SalesHistory) == 0 {
		return item, Holdout{}, fmt.Errorf("%w: no sales to hold out", domain.ErrInvalidRequest)
	}

	latest := -1
	var latestAt time.Time
	for i, s := range item.SalesHistory {
		at, err := s.Time()
		if err != nil {
			return item, Holdout{}, err
		}
		if latest < 0 || at.After(latestAt) {
			latest, latestAt = i, at
		}
	}

	out := item
	out.SalesHistory = slices.Delete(slices.Clone(item.SalesHistory), latest, latest+1)
	return out, Holdout{Sale: item.SalesHistory[latest], TargetDate: latestAt.Format(TargetDateLayout)}, nil
}

// Accuracy compares the consensus price with a known sale price.
type Accuracy struct {
	Actual          float64 `json:"actual"`
	Predicted       float64 `json:"predicted"`
	AbsoluteError   float64 `json:"absolute_error"`
	PercentageError float64 `json:"percentage_error"`

	// Score is 1 - relative error; it goes negative when the miss exceeds the actual price.
	Score float64 `json:"accuracy"`
}

// Score computes the accuracy of predicted against actual.
func Score(actual, predicted float64) (Accuracy, error) {
	if actual <= 0 || math.IsNaN(actual) || math.IsInf(actual, 0) {
		return Accuracy{}, fmt.Errorf("%w: actual price must be positive, got %v", domain.ErrInvalidRequest, actual)
	}
	abs := math.Abs(predicted - actual)
	rel := abs / actual
	return Accuracy{
		Actual:          actual,
		Predicted:       predicted,
		AbsoluteError:   abs,
		PercentageError: rel * 100,
		Score:           1 - rel,
	}, nil
}

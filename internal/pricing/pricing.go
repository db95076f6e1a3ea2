// Package pricing turns ledger nightly prices into a quote with taxes, fees and promo discounts.
package pricing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"hotelbook/internal/models"
)

const (
	DefaultTaxRate        = 0.12
	DefaultServiceFeeRate = 0.05
)

// RateReader reads ledger rows for the nights of a stay, keyed by date string.
// Nights without a row are simply absent from the map.
type RateReader interface {
	GetAvailabilityRecords(ctx context.Context, roomTypeID string, nights []time.Time) (map[string]models.AvailabilityRecord, error)
}

// PromoReader returns nil without error for unknown codes.
type PromoReader interface {
	GetPromoCode(ctx context.Context, code string) (*models.PromoCode, error)
}

type Options struct {
	TaxRate         float64
	ServiceFeeRate  float64
	DefaultCurrency string
}

type Engine struct {
	rates  RateReader
	promos PromoReader
	opts   Options
}

func NewEngine(rates RateReader, promos PromoReader, opts Options) *Engine {
	if opts.TaxRate == 0 {
		opts.TaxRate = DefaultTaxRate
	}
	if opts.ServiceFeeRate == 0 {
		opts.ServiceFeeRate = DefaultServiceFeeRate
	}
	if opts.DefaultCurrency == "" {
		opts.DefaultCurrency = models.DefaultCurrency
	}
	return &Engine{rates: rates, promos: promos, opts: opts}
}

// Quote prices a stay from the ledger as it is right now. It does not check availability:
// a night without a ledger row is priced at zero.
func (e *Engine) Quote(ctx context.Context, roomTypeID string, nights []time.Time, rooms int, promoCode string) (*models.Quote, error) {
	if rooms <= 0 {
		rooms = models.DefaultRooms
	}

	records, err := e.rates.GetAvailabilityRecords(ctx, roomTypeID, nights)
	if err != nil {
		return nil, fmt.Errorf("failed to read nightly rates: %w", err)
	}

	currency := e.opts.DefaultCurrency
	breakdown := make([]models.NightlyRate, 0, len(nights))
	for _, night := range nights {
		rec, ok := records[night.Format(models.DateLayout)]
		if !ok {
			breakdown = append(breakdown, models.NightlyRate{Date: night, Multiplier: 1})
			continue
		}
		if rec.Currency != "" {
			currency = rec.Currency
		}
		multiplier := rec.PriceMultiplier
		if multiplier == 0 {
			multiplier = 1
		}
		breakdown = append(breakdown, models.NightlyRate{
			Date:       night,
			BaseRate:   rec.PricePerNight,
			Multiplier: multiplier,
			FinalRate:  rec.PricePerNight,
		})
	}

	var promo *models.PromoCode
	if code := NormalizePromoCode(promoCode); code != "" && e.promos != nil {
		promo, err = e.promos.GetPromoCode(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("failed to read promo code: %w", err)
		}
	}

	quote := e.Compute(breakdown, currency, rooms, promo)
	quote.RoomTypeID = roomTypeID
	return quote, nil
}

// Compute is the arithmetic half of Quote. Every derived amount is rounded as it is
// produced, so totals are reproducible from the breakdown.
func (e *Engine) Compute(breakdown []models.NightlyRate, currency string, rooms int, promo *models.PromoCode) *models.Quote {
	var nightlySum float64
	for _, n := range breakdown {
		nightlySum += n.FinalRate
	}

	subtotal := nightlySum * float64(rooms)
	taxes := Round2(subtotal * e.opts.TaxRate)
	serviceFee := Round2(subtotal * e.opts.ServiceFeeRate)

	var (
		discount float64
		details  *models.PromoDetails
	)
	if promo != nil && promo.IsActive {
		switch promo.DiscountType {
		case models.DiscountPercentage:
			discount = Round2(subtotal * promo.DiscountValue / 100)
		case models.DiscountFixed:
			discount = promo.DiscountValue
		}
		// never discount below the room cost itself
		if discount > subtotal {
			discount = subtotal
		}
		details = &models.PromoDetails{
			Code:          promo.Code,
			Description:   promo.Description,
			DiscountType:  promo.DiscountType,
			DiscountValue: promo.DiscountValue,
		}
	}

	var average float64
	if len(breakdown) > 0 {
		average = Round2(subtotal / float64(len(breakdown)))
	}

	return &models.Quote{
		NightlyRateSum:     Round2(nightlySum),
		RoomSubtotal:       Round2(subtotal),
		Taxes:              taxes,
		ServiceFee:         serviceFee,
		Discount:           discount,
		Total:              Round2(subtotal + taxes + serviceFee - discount),
		Currency:           currency,
		Nights:             len(breakdown),
		Rooms:              rooms,
		AverageNightlyRate: average,
		NightlyBreakdown:   breakdown,
		Fees: []models.Fee{
			{Name: "Taxes", Rate: percentLabel(e.opts.TaxRate), Amount: taxes},
			{Name: "Service Fee", Rate: percentLabel(e.opts.ServiceFeeRate), Amount: serviceFee},
		},
		Promo: details,
	}
}

func NormalizePromoCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

package autofulfill

import "github.com/BearBump/FulfillBox/internal/integrations/shipping"

// Parcel presets keyed by item count. Single cards ride in a rigid
// card mailer; a handful fit a bubble mailer; anything bigger gets a
// small box. Dimensions in inches, weight in ounces, padding included.
const (
	PresetCardMailer   = "card_mailer"
	PresetBubbleMailer = "bubble_mailer"
	PresetSmallBox     = "small_box"
)

func PresetForItemCount(itemCount int32) shipping.Parcel {
	switch {
	case itemCount <= 1:
		return shipping.Parcel{Preset: PresetCardMailer, LengthIn: 6, WidthIn: 4, HeightIn: 0.25, WeightOz: 3}
	case itemCount <= 3:
		return shipping.Parcel{Preset: PresetBubbleMailer, LengthIn: 8, WidthIn: 6, HeightIn: 1, WeightOz: 5}
	default:
		return shipping.Parcel{Preset: PresetSmallBox, LengthIn: 8, WidthIn: 6, HeightIn: 4, WeightOz: 16}
	}
}

// RatePreference orders the quote list. Preferences are tried in order;
// within a bucket the cheapest rate wins.
type RatePreference struct {
	PreferredCarrier string
	GroundService    string
	SecondaryCarrier string
}

// ChooseRate picks the rate to buy:
//
//  1. cheapest preferred-carrier rate on the ground service
//  2. cheapest preferred-carrier rate on any service
//  3. cheapest secondary-carrier rate
//  4. cheapest rate overall
//
// Returns false only when the quote list is empty.
func ChooseRate(rates []shipping.Rate, pref RatePreference) (shipping.Rate, bool) {
	if len(rates) == 0 {
		return shipping.Rate{}, false
	}

	pick := func(match func(shipping.Rate) bool) (shipping.Rate, bool) {
		var best shipping.Rate
		found := false
		for _, r := range rates {
			if !match(r) {
				continue
			}
			if !found || r.CostCents < best.CostCents {
				best, found = r, true
			}
		}
		return best, found
	}

	if pref.PreferredCarrier != "" {
		if pref.GroundService != "" {
			if r, ok := pick(func(r shipping.Rate) bool {
				return r.Carrier == pref.PreferredCarrier && r.Service == pref.GroundService
			}); ok {
				return r, true
			}
		}
		if r, ok := pick(func(r shipping.Rate) bool { return r.Carrier == pref.PreferredCarrier }); ok {
			return r, true
		}
	}
	if pref.SecondaryCarrier != "" {
		if r, ok := pick(func(r shipping.Rate) bool { return r.Carrier == pref.SecondaryCarrier }); ok {
			return r, true
		}
	}
	return pick(func(shipping.Rate) bool { return true })
}

package autofulfill

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BearBump/FulfillBox/internal/integrations/shipping"
)

func TestPresetForItemCount(t *testing.T) {
	assert.Equal(t, PresetCardMailer, PresetForItemCount(0).Preset)
	assert.Equal(t, PresetCardMailer, PresetForItemCount(1).Preset)
	assert.Equal(t, PresetBubbleMailer, PresetForItemCount(2).Preset)
	assert.Equal(t, PresetBubbleMailer, PresetForItemCount(3).Preset)
	assert.Equal(t, PresetSmallBox, PresetForItemCount(4).Preset)
	assert.Equal(t, PresetSmallBox, PresetForItemCount(40).Preset)

	p := PresetForItemCount(1)
	assert.Equal(t, 3.0, p.WeightOz)
	assert.Equal(t, 0.25, p.HeightIn)
}

func TestChooseRate(t *testing.T) {
	pref := RatePreference{PreferredCarrier: "USPS", GroundService: "GroundAdvantage", SecondaryCarrier: "UPS"}

	rates := []shipping.Rate{
		{ID: "r1", Carrier: "USPS", Service: "Priority", CostCents: 820},
		{ID: "r2", Carrier: "USPS", Service: "GroundAdvantage", CostCents: 450},
		{ID: "r3", Carrier: "USPS", Service: "GroundAdvantage", CostCents: 425},
		{ID: "r4", Carrier: "UPS", Service: "Ground", CostCents: 300},
	}
	got, ok := ChooseRate(rates, pref)
	require.True(t, ok)
	assert.Equal(t, "r3", got.ID, "cheapest preferred ground beats a cheaper other carrier")

	noGround := []shipping.Rate{
		{ID: "r1", Carrier: "USPS", Service: "Priority", CostCents: 820},
		{ID: "r4", Carrier: "UPS", Service: "Ground", CostCents: 300},
	}
	got, ok = ChooseRate(noGround, pref)
	require.True(t, ok)
	assert.Equal(t, "r1", got.ID, "any preferred-carrier service beats the secondary")

	noPreferred := []shipping.Rate{
		{ID: "r4", Carrier: "UPS", Service: "Ground", CostCents: 300},
		{ID: "r5", Carrier: "FedEx", Service: "2Day", CostCents: 150},
	}
	got, ok = ChooseRate(noPreferred, pref)
	require.True(t, ok)
	assert.Equal(t, "r4", got.ID, "secondary carrier beats a cheaper unlisted one")

	onlyOther := []shipping.Rate{
		{ID: "r5", Carrier: "FedEx", Service: "2Day", CostCents: 150},
		{ID: "r6", Carrier: "DHL", Service: "Express", CostCents: 980},
	}
	got, ok = ChooseRate(onlyOther, pref)
	require.True(t, ok)
	assert.Equal(t, "r5", got.ID, "fallback is cheapest overall")

	_, ok = ChooseRate(nil, pref)
	assert.False(t, ok)
}

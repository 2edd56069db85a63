package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleProfiles = `
profiles:
  conservative:
    description: "高门槛低换手"
    thresholds:
      buy_mos: 25
      sell_mos: 0
      buy_quality: 35
      sell_quality: 25
    methods:
      dcf: true
      pbt: true
      ten_cap: false
    max_positions: 10
    rebalance_days: 180
    schema:
      type: object
      additionalProperties: false
      properties:
        buy_mos:
          type: number
          minimum: 0
          maximum: 100
        max_positions:
          type: integer
          minimum: 1
          maximum: 50
  bare:
    description: "只给描述，其余走默认"
`

func writeProfiles(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRegistry_LoadAndNormalize(t *testing.T) {
	r, err := NewRegistry(writeProfiles(t, sampleProfiles))
	require.NoError(t, err)

	t.Run("Explicit Profile", func(t *testing.T) {
		p, ok := r.Profile("conservative")
		require.True(t, ok)
		assert.Equal(t, "conservative", p.ID)
		assert.Equal(t, 25.0, p.Thresholds.BuyMOS)
		assert.Equal(t, 10, p.MaxPositions)
		assert.Equal(t, 180, p.RebalanceDays)
		assert.True(t, p.Methods.DCF)
		assert.False(t, p.Methods.TenCap)
	})

	t.Run("Bare Profile Gets Defaults", func(t *testing.T) {
		p, ok := r.Profile("bare")
		require.True(t, ok)
		def := DefaultProfile()
		assert.Equal(t, def.Thresholds, p.Thresholds)
		assert.Equal(t, def.MaxPositions, p.MaxPositions)
		assert.Equal(t, def.RebalanceDays, p.RebalanceDays)
		assert.Equal(t, def.Methods, p.Methods)
		assert.Equal(t, 1, p.Version)
	})

	t.Run("Unknown Profile", func(t *testing.T) {
		_, ok := r.Profile("nope")
		assert.False(t, ok)
	})

	t.Run("Snapshot Is Copy", func(t *testing.T) {
		snap := r.Snapshot()
		assert.Len(t, snap.Profiles, 2)
		delete(snap.Profiles, "bare")
		_, ok := r.Profile("bare")
		assert.True(t, ok)
	})
}

func TestRegistry_ValidateParams(t *testing.T) {
	r, err := NewRegistry(writeProfiles(t, sampleProfiles))
	require.NoError(t, err)

	t.Run("Valid Override", func(t *testing.T) {
		_, err := r.Validate("conservative", map[string]any{"buy_mos": 30.0})
		assert.NoError(t, err)
	})

	t.Run("String Number Coerced", func(t *testing.T) {
		_, err := r.Validate("conservative", map[string]any{"buy_mos": "30"})
		assert.NoError(t, err)
	})

	t.Run("Out Of Range", func(t *testing.T) {
		_, err := r.Validate("conservative", map[string]any{"buy_mos": 500.0})
		assert.Error(t, err)
	})

	t.Run("Unknown Key Rejected", func(t *testing.T) {
		_, err := r.Validate("conservative", map[string]any{"leverage": 3.0})
		assert.Error(t, err)
	})

	t.Run("No Schema Accepts Anything", func(t *testing.T) {
		_, err := r.Validate("bare", map[string]any{"whatever": true})
		assert.NoError(t, err)
	})

	t.Run("Unknown Profile", func(t *testing.T) {
		_, err := r.Validate("nope", nil)
		assert.Error(t, err)
	})
}

func TestRegistry_ValidateAppliesOverrides(t *testing.T) {
	r, err := NewRegistry(writeProfiles(t, sampleProfiles))
	require.NoError(t, err)

	t.Run("Override Lands On Copy", func(t *testing.T) {
		p, err := r.Validate("conservative", map[string]any{"buy_mos": 30.0, "max_positions": 3.0})
		require.NoError(t, err)
		assert.Equal(t, 30.0, p.Thresholds.BuyMOS)
		assert.Equal(t, 3, p.MaxPositions)
		assert.Equal(t, 180, p.RebalanceDays)

		stored, ok := r.Profile("conservative")
		require.True(t, ok)
		assert.Equal(t, 25.0, stored.Thresholds.BuyMOS)
		assert.Equal(t, 10, stored.MaxPositions)
	})

	t.Run("String Number Applied", func(t *testing.T) {
		p, err := r.Validate("conservative", map[string]any{"buy_mos": "30"})
		require.NoError(t, err)
		assert.Equal(t, 30.0, p.Thresholds.BuyMOS)
	})

	t.Run("No Params Keeps Profile", func(t *testing.T) {
		p, err := r.Validate("conservative", nil)
		require.NoError(t, err)
		assert.Equal(t, 25.0, p.Thresholds.BuyMOS)
		assert.Equal(t, 10, p.MaxPositions)
	})
}

func TestProfile_ApplyOverrides(t *testing.T) {
	p := DefaultProfile().ApplyOverrides(map[string]any{
		"sell_mos":       0.0,
		"buy_quality":    40,
		"rebalance_days": int64(30),
		"description":    "非数值键被忽略",
	})
	assert.Equal(t, 0.0, p.Thresholds.SellMOS)
	assert.Equal(t, 40.0, p.Thresholds.BuyQuality)
	assert.Equal(t, 30, p.RebalanceDays)
	assert.Equal(t, 10.0, p.Thresholds.BuyMOS)
	assert.Equal(t, 20, p.MaxPositions)
}

func TestRegistry_BadInput(t *testing.T) {
	t.Run("Empty Path", func(t *testing.T) {
		_, err := NewRegistry("")
		assert.Error(t, err)
	})

	t.Run("Unknown Field", func(t *testing.T) {
		_, err := NewRegistry(writeProfiles(t, "profiles:\n  a:\n    not_a_field: 1\n"))
		assert.Error(t, err)
	})
}

func TestDefaultProfile(t *testing.T) {
	p := DefaultProfile()
	assert.Equal(t, "default", p.ID)
	assert.Equal(t, 10.0, p.Thresholds.BuyMOS)
	assert.Equal(t, -5.0, p.Thresholds.SellMOS)
	assert.Equal(t, 20, p.MaxPositions)
	assert.Equal(t, 90, p.RebalanceDays)
	assert.NoError(t, p.Validate(map[string]any{"anything": 1}))
}

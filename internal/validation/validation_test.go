package validation

import (
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type approveLike struct {
	LevelID    uuid.UUID `validate:"required"`
	Multiplier float64   `validate:"gt=0"`
	Name       string    `validate:"required,max=8"`
}

func TestStruct(t *testing.T) {
	tests := []struct {
		name    string
		input   approveLike
		wantErr bool
		fields  []string
	}{
		{
			name:  "valid",
			input: approveLike{LevelID: uuid.New(), Multiplier: 1.5, Name: "ok"},
		},
		{
			name:    "missing uuid",
			input:   approveLike{Multiplier: 1, Name: "ok"},
			wantErr: true,
			fields:  []string{"LevelID"},
		},
		{
			name:    "zero multiplier and long name",
			input:   approveLike{LevelID: uuid.New(), Multiplier: 0, Name: "too long name"},
			wantErr: true,
			fields:  []string{"Multiplier", "Name"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Struct(tt.input)
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, f := range tt.fields {
				assert.Contains(t, err.Error(), f)
			}
		})
	}
}

func TestScalePoints(t *testing.T) {
	tests := []struct {
		name       string
		points     int64
		multiplier float64
		want       int64
		ok         bool
	}{
		{name: "one and a half", points: 10, multiplier: 1.5, want: 15, ok: true},
		{name: "double", points: 10, multiplier: 2.0, want: 20, ok: true},
		{name: "floors fractions", points: 7, multiplier: 0.5, want: 3, ok: true},
		{name: "below one point", points: 1, multiplier: 0.5, want: 0, ok: true},
		{name: "decimal multiplier is exact", points: 100, multiplier: 0.29, want: 29, ok: true},
		{name: "tenths", points: 3, multiplier: 1.1, want: 3, ok: true},
		{name: "infinity", points: 10, multiplier: math.Inf(1), ok: false},
		{name: "nan", points: 10, multiplier: math.NaN(), ok: false},
		{name: "overflow", points: math.MaxInt64, multiplier: 4, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ScalePoints(tt.points, tt.multiplier)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestIsPositiveAmount(t *testing.T) {
	assert.True(t, IsPositiveAmount(1))
	assert.False(t, IsPositiveAmount(0))
	assert.False(t, IsPositiveAmount(-5))
}

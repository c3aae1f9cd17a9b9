package quota

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const mb = int64(1024 * 1024)

func TestRemaining(t *testing.T) {
	tests := []struct {
		name  string
		max   int64
		usage int64
		want  Budget
	}{
		{name: "partially used", max: 100 * mb, usage: 90 * mb, want: Budget{Bytes: 10 * mb}},
		{name: "unlimited", max: 0, usage: 500 * mb, want: Budget{Unlimited: true}},
		{name: "over quota clamps", max: 10, usage: 25, want: Budget{Bytes: 0}},
		{name: "negative usage clamps", max: 10, usage: -5, want: Budget{Bytes: 10}},
		{name: "negative max clamps", max: -10, usage: 0, want: Budget{Bytes: 0}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Remaining(tc.max, tc.usage))
		})
	}
}

func TestBudgetAllows(t *testing.T) {
	b := Remaining(100*mb, 90*mb)
	assert.True(t, b.Allows(10*mb))
	assert.False(t, b.Allows(10*mb+1))
	assert.False(t, b.Exhausted())

	unlimited := Remaining(0, 1<<40)
	assert.True(t, unlimited.Allows(1<<50))
	assert.False(t, unlimited.Exhausted())

	assert.True(t, Remaining(5, 5).Exhausted())
}

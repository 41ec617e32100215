package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRealClock(t *testing.T) {
	var c Clock = RealClock{}
	start := c.Now()
	assert.GreaterOrEqual(t, c.Since(start), time.Duration(0))

	tk := c.NewTicker(time.Millisecond)
	defer tk.Stop()
	select {
	case <-tk.C():
	case <-time.After(time.Second):
		t.Fatal("real ticker never fired")
	}
}

func TestMockClock_AdvanceFiresTicker(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := NewMockClock(base)
	tk := c.NewTicker(40 * time.Millisecond)

	c.Advance(20 * time.Millisecond)
	select {
	case <-tk.C():
		t.Fatal("ticker fired early")
	default:
	}

	c.Advance(20 * time.Millisecond)
	select {
	case got := <-tk.C():
		assert.Equal(t, base.Add(40*time.Millisecond), got)
	default:
		t.Fatal("ticker did not fire at its deadline")
	}
	assert.Equal(t, 40*time.Millisecond, c.Since(base))
}

func TestMockClock_StoppedTickerIsSilent(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	tk := c.NewTicker(time.Millisecond)
	tk.Stop()
	c.Advance(time.Second)
	select {
	case <-tk.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestMockTicker_TriggerDropsWhenFull(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	tk := c.NewTicker(time.Hour).(*MockTicker)
	tk.Trigger(time.Unix(1, 0))
	tk.Trigger(time.Unix(2, 0)) // dropped, channel holds one tick
	assert.Equal(t, time.Unix(1, 0), <-tk.C())
}

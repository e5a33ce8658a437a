package main

import (
	"context"
	"math/rand"
	"time"

	"main/internal/schema"
)

const (
	simInterval  = 10 * time.Millisecond
	simBasePrice = 100.0

	// simBurstEvery injects a violent move so vetoes and the staircase
	// get exercised in simulation, not just on live data.
	simBurstEvery = 2500
)

// simLoop generates a random-walk tick stream with occasional bursts.
func simLoop(ctx context.Context, k *kernel) {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	price := simBasePrice
	count := 0

	ticker := time.NewTicker(simInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count++
			drift := r.NormFloat64() * 2e-4
			if count%simBurstEvery == 0 {
				drift = (r.Float64() - 0.5) * 0.1
			}
			price *= 1 + drift
			if price < 1 {
				price = 1
			}

			side := schema.SideBuy
			if r.Intn(2) == 1 {
				side = schema.SideSell
			}
			k.offerTick(schema.Tick{
				TimestampUs: time.Now().UnixMicro(),
				Price:       price,
				Size:        0.01 + r.Float64()*0.2,
				Side:        side,
			})
		}
	}
}

package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNext(t *testing.T) {
	tests := []struct {
		current OrderStatus
		want    OrderStatus
		ok      bool
	}{
		{OrderStatusPending, OrderStatusProcessing, true},
		{OrderStatusProcessing, OrderStatusShipping, true},
		{OrderStatusShipping, OrderStatusDone, true},
		{OrderStatusDone, "", false},
		{OrderStatusCancelled, "", false},
		{OrderStatus("UNKNOWN"), "", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.current), func(t *testing.T) {
			got, ok := Next(tt.current)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNext_DefinedOnlyForUnfinished(t *testing.T) {
	for _, s := range []OrderStatus{
		OrderStatusPending, OrderStatusProcessing, OrderStatusShipping,
		OrderStatusDone, OrderStatusCancelled,
	} {
		_, ok := Next(s)
		assert.Equal(t, !s.IsTerminal(), ok, "status %s", s)
	}
}

func TestNext_WalksChainToDone(t *testing.T) {
	s := OrderStatusPending
	var visited []OrderStatus
	for {
		next, ok := Next(s)
		if !ok {
			break
		}
		visited = append(visited, next)
		s = next
	}

	assert.Equal(t, []OrderStatus{OrderStatusProcessing, OrderStatusShipping, OrderStatusDone}, visited)
	assert.NotContains(t, visited, OrderStatusCancelled)
}
